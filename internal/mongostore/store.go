// Package mongostore implements the orders store contracts on MongoDB.
// Multi-document writes run in a session transaction, so the server must be a
// replica set (a single-node one is fine).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colProducts   = "products"
	colCartItems  = "cart_items"
	colOrders     = "orders"
	colOrderItems = "order_items"
	colPayments   = "payments"
)

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	idx := map[string][]mongo.IndexModel{
		colCartItems: {{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		colOrders:     {{Keys: bson.D{{Key: "user_id", Value: 1}}}},
		colOrderItems: {{Keys: bson.D{{Key: "order_id", Value: 1}}}},
		colPayments: {
			{Keys: bson.D{{Key: "gateway_order_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for col, models := range idx {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes %s: %w", col, err)
		}
	}
	return nil
}

type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
	sc     mongo.SessionContext // non-nil di dalam tx
}

func NewStore(client *mongo.Client, dbName string) *Store {
	return &Store{Client: client, DB: client.Database(dbName)}
}

func (s *Store) Catalog() orders.CatalogStore  { return s }
func (s *Store) Carts() orders.CartStore       { return s }
func (s *Store) Orders() orders.OrderStore     { return s }
func (s *Store) Payments() orders.PaymentStore { return s }

// WithTx may run fn more than once: the driver retries transient transaction errors.
func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Store) error) error {
	if s.sc != nil {
		return fn(s)
	}
	sess, err := s.Client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&Store{Client: s.Client, DB: s.DB, sc: sc})
	})
	return err
}

// ctx picks the session context when inside a tx.
func (s *Store) ctx(ctx context.Context) context.Context {
	if s.sc != nil {
		return s.sc
	}
	return ctx
}

func (s *Store) col(name string) *mongo.Collection { return s.DB.Collection(name) }

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return orders.ErrNotFound
	}
	return err
}

func dup(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return orders.ErrConflict
	}
	return err
}

func toD128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// decimal.String selalu format yang valid
		panic(err)
	}
	return v
}

func fromD128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}

// ---- products ----

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Price       primitive.Decimal128 `bson:"price"`
	Stock       int                  `bson:"stock"`
	Version     int64                `bson:"version"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func (d productDoc) model() (orders.Product, error) {
	price, err := fromD128(d.Price)
	return orders.Product{
		ID: d.ID, Name: d.Name, Description: d.Description, Price: price,
		Stock: d.Stock, Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, err
}

func productFrom(p orders.Product) productDoc {
	return productDoc{
		ID: p.ID, Name: p.Name, Description: p.Description, Price: toD128(p.Price),
		Stock: p.Stock, Version: p.Version, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var d productDoc
	if err := s.col(colProducts).FindOne(s.ctx(ctx), bson.M{"_id": id}).Decode(&d); err != nil {
		return orders.Product{}, notFound(err)
	}
	return d.model()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return s.findProducts(ctx, bson.M{})
}

func (s *Store) SearchProducts(ctx context.Context, q string) ([]orders.Product, error) {
	return s.findProducts(ctx, bson.M{"name": bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}})
}

func (s *Store) findProducts(ctx context.Context, filter bson.M) ([]orders.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.col(colProducts).Find(s.ctx(ctx), filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cur.All(s.ctx(ctx), &docs); err != nil {
		return nil, err
	}
	out := make([]orders.Product, 0, len(docs))
	for _, d := range docs {
		p, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) error {
	_, err := s.col(colProducts).InsertOne(s.ctx(ctx), productFrom(p))
	return dup(err)
}

func (s *Store) UpdateProduct(ctx context.Context, p orders.Product) error {
	res, err := s.col(colProducts).UpdateOne(s.ctx(ctx),
		bson.M{"_id": p.ID, "version": p.Version},
		bson.M{
			"$set": bson.M{
				"name": p.Name, "description": p.Description, "price": toD128(p.Price),
				"stock": p.Stock, "updated_at": p.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetProduct(ctx, p.ID); err != nil {
		return err
	}
	return orders.ErrConflict
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.col(colProducts).DeleteOne(s.ctx(ctx), bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return orders.ErrNotFound
	}
	return nil
}

// AdjustStock: $inc bersyarat, atomik per dokumen.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (orders.Product, error) {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["stock"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"stock": delta, "version": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var d productDoc
	err := s.col(colProducts).FindOneAndUpdate(s.ctx(ctx), filter, update, opts).Decode(&d)
	if err == nil {
		return d.model()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return orders.Product{}, err
	}
	cur, err := s.GetProduct(ctx, id)
	if err != nil {
		return orders.Product{}, err
	}
	return orders.Product{}, &orders.InsufficientStockError{ProductID: id, Requested: -delta, Available: cur.Stock}
}

// ---- cart ----

type cartDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d cartDoc) model() orders.CartItem { return orders.CartItem(d) }

func (s *Store) findLine(ctx context.Context, filter bson.M) (orders.CartItem, error) {
	var d cartDoc
	if err := s.col(colCartItems).FindOne(s.ctx(ctx), filter).Decode(&d); err != nil {
		return orders.CartItem{}, notFound(err)
	}
	return d.model(), nil
}

func (s *Store) GetLine(ctx context.Context, id string) (orders.CartItem, error) {
	return s.findLine(ctx, bson.M{"_id": id})
}

func (s *Store) FindLine(ctx context.Context, userID, productID string) (orders.CartItem, error) {
	return s.findLine(ctx, bson.M{"user_id": userID, "product_id": productID})
}

func (s *Store) ListLines(ctx context.Context, userID string) ([]orders.CartItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.col(colCartItems).Find(s.ctx(ctx), bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []cartDoc
	if err := cur.All(s.ctx(ctx), &docs); err != nil {
		return nil, err
	}
	out := make([]orders.CartItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) CreateLine(ctx context.Context, it orders.CartItem) error {
	_, err := s.col(colCartItems).InsertOne(s.ctx(ctx), cartDoc(it))
	return dup(err)
}

func (s *Store) UpdateLine(ctx context.Context, it orders.CartItem) error {
	res, err := s.col(colCartItems).UpdateOne(s.ctx(ctx), bson.M{"_id": it.ID},
		bson.M{"$set": bson.M{"quantity": it.Quantity, "updated_at": it.UpdatedAt}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, id string) error {
	res, err := s.col(colCartItems).DeleteOne(s.ctx(ctx), bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) ClearLines(ctx context.Context, userID string) error {
	_, err := s.col(colCartItems).DeleteMany(s.ctx(ctx), bson.M{"user_id": userID})
	return err
}

func (s *Store) ClaimLines(ctx context.Context, userID string, ids []string) error {
	return s.WithTx(ctx, func(tx orders.Store) error {
		t := tx.(*Store)
		res, err := t.col(colCartItems).DeleteMany(t.ctx(ctx), bson.M{"user_id": userID, "_id": bson.M{"$in": ids}})
		if err != nil {
			return err
		}
		if res.DeletedCount != int64(len(ids)) {
			return orders.ErrEmptyCart
		}
		return nil
	})
}

// ---- orders ----

type orderDoc struct {
	ID          string               `bson:"_id"`
	UserID      string               `bson:"user_id"`
	TotalAmount primitive.Decimal128 `bson:"total_amount"`
	Status      string               `bson:"status"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func (d orderDoc) model() (orders.Order, error) {
	if !orders.Status(d.Status).Valid() {
		return orders.Order{}, fmt.Errorf("order %s: unknown status %q", d.ID, d.Status)
	}
	total, err := fromD128(d.TotalAmount)
	return orders.Order{
		ID: d.ID, UserID: d.UserID, TotalAmount: total, Status: orders.Status(d.Status),
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, err
}

type orderItemDoc struct {
	ID        string               `bson:"_id"`
	OrderID   string               `bson:"order_id"`
	ProductID string               `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
}

func (s *Store) CreateOrder(ctx context.Context, o orders.Order, items []orders.OrderItem) error {
	return s.WithTx(ctx, func(tx orders.Store) error {
		t := tx.(*Store)
		if _, err := t.col(colOrders).InsertOne(t.ctx(ctx), orderDoc{
			ID: o.ID, UserID: o.UserID, TotalAmount: toD128(o.TotalAmount), Status: string(o.Status),
			CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
		}); err != nil {
			return dup(err)
		}
		if len(items) == 0 {
			return nil
		}
		docs := make([]any, 0, len(items))
		for _, it := range items {
			docs = append(docs, orderItemDoc{
				ID: it.ID, OrderID: o.ID, ProductID: it.ProductID, Quantity: it.Quantity, Price: toD128(it.Price),
			})
		}
		_, err := t.col(colOrderItems).InsertMany(t.ctx(ctx), docs)
		return err
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	var d orderDoc
	if err := s.col(colOrders).FindOne(s.ctx(ctx), bson.M{"_id": id}).Decode(&d); err != nil {
		return orders.Order{}, notFound(err)
	}
	return d.model()
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d orderDoc
	err := s.col(colOrders).FindOneAndUpdate(s.ctx(ctx), bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": time.Now().UTC()}}, opts).Decode(&d)
	if err != nil {
		return orders.Order{}, notFound(err)
	}
	return d.model()
}

func (s *Store) FindOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.col(colOrders).Find(s.ctx(ctx), bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cur.All(s.ctx(ctx), &docs); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) FindItemsByOrder(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.col(colOrderItems).Find(s.ctx(ctx), bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []orderItemDoc
	if err := cur.All(s.ctx(ctx), &docs); err != nil {
		return nil, err
	}
	out := make([]orders.OrderItem, 0, len(docs))
	for _, d := range docs {
		price, err := fromD128(d.Price)
		if err != nil {
			return nil, err
		}
		out = append(out, orders.OrderItem{
			ID: d.ID, OrderID: d.OrderID, ProductID: d.ProductID, Quantity: d.Quantity, Price: price,
		})
	}
	return out, nil
}

// ---- payments ----

type paymentDoc struct {
	ID               string               `bson:"_id"`
	OrderID          string               `bson:"order_id"`
	Amount           primitive.Decimal128 `bson:"amount"`
	Status           string               `bson:"status"`
	GatewayChargeRef string               `bson:"gateway_charge_ref"`
	GatewayOrderRef  string               `bson:"gateway_order_ref"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func (d paymentDoc) model() (orders.Payment, error) {
	amount, err := fromD128(d.Amount)
	return orders.Payment{
		ID: d.ID, OrderID: d.OrderID, Amount: amount, Status: orders.PaymentStatus(d.Status),
		GatewayChargeRef: d.GatewayChargeRef, GatewayOrderRef: d.GatewayOrderRef,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, err
}

func (s *Store) findPayment(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (orders.Payment, error) {
	var d paymentDoc
	if err := s.col(colPayments).FindOne(s.ctx(ctx), filter, opts...).Decode(&d); err != nil {
		return orders.Payment{}, notFound(err)
	}
	return d.model()
}

func (s *Store) CreatePayment(ctx context.Context, p orders.Payment) error {
	_, err := s.col(colPayments).InsertOne(s.ctx(ctx), paymentDoc{
		ID: p.ID, OrderID: p.OrderID, Amount: toD128(p.Amount), Status: string(p.Status),
		GatewayChargeRef: p.GatewayChargeRef, GatewayOrderRef: p.GatewayOrderRef,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	})
	return dup(err)
}

func (s *Store) GetPayment(ctx context.Context, id string) (orders.Payment, error) {
	return s.findPayment(ctx, bson.M{"_id": id})
}

func (s *Store) UpdatePayment(ctx context.Context, p orders.Payment) error {
	res, err := s.col(colPayments).UpdateOne(s.ctx(ctx), bson.M{"_id": p.ID}, bson.M{"$set": bson.M{
		"status": string(p.Status), "gateway_charge_ref": p.GatewayChargeRef, "updated_at": p.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) FindPaymentByOrder(ctx context.Context, orderID string) (orders.Payment, error) {
	return s.findPayment(ctx, bson.M{"order_id": orderID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *Store) FindPaymentByIntentRef(ctx context.Context, ref string) (orders.Payment, error) {
	return s.findPayment(ctx, bson.M{"gateway_order_ref": ref})
}
