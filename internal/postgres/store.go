package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier dipenuhi oleh *pgxpool.Pool dan pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every orders store contract on one pool (or one tx).
type Store struct {
	DB *pgxpool.Pool
	q  querier
	tx pgx.Tx
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db, q: db} }

func (s *Store) Catalog() orders.CatalogStore  { return s }
func (s *Store) Carts() orders.CartStore       { return s }
func (s *Store) Orders() orders.OrderStore     { return s }
func (s *Store) Payments() orders.PaymentStore { return s }

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{DB: s.DB, q: tx, tx: tx}); err != nil {
		return err // rollback via defer
	}
	return tx.Commit(ctx)
}

func (s *Store) atomically(ctx context.Context, fn func(q querier) error) error {
	return s.WithTx(ctx, func(tx orders.Store) error { return fn(tx.(*Store).q) })
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrNotFound
	}
	return err
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return d, nil
}

// ---- products ----

const productCols = `id, name, description, price::text, stock, version, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Product{}, notFound(err)
	}
	var err error
	p.Price, err = parseDecimal(price)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return scanProduct(s.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productCols+` FROM products ORDER BY name, id`)
}

func (s *Store) SearchProducts(ctx context.Context, q string) ([]orders.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productCols+` FROM products
	                             WHERE name ILIKE '%' || $1 || '%' ORDER BY name, id`, q)
}

func (s *Store) queryProducts(ctx context.Context, sql string, args ...any) ([]orders.Product, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO products(id, name, description, price, stock, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.Version, p.CreatedAt, p.UpdatedAt)
	if uniqueViolation(err) {
		return orders.ErrConflict
	}
	return err
}

// UpdateProduct: optimistic, hanya berhasil kalau version belum berubah.
func (s *Store) UpdateProduct(ctx context.Context, p orders.Product) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE products
		SET name=$2, description=$3, price=$4, stock=$5, version=version+1, updated_at=$6
		WHERE id=$1 AND version=$7`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.UpdatedAt, p.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetProduct(ctx, p.ID); err != nil {
		return err
	}
	return orders.ErrConflict
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	ct, err := s.q.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

// AdjustStock is a single conditional UPDATE, so two concurrent checkouts on
// the last unit cannot both succeed.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (orders.Product, error) {
	p, err := scanProduct(s.q.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, version = version + 1, updated_at = now()
		WHERE id=$1 AND stock + $2 >= 0
		RETURNING `+productCols, id, delta))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return orders.Product{}, err
	}

	// bedakan: produk tidak ada vs stok kurang
	var stock int
	if err := s.q.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, id).Scan(&stock); err != nil {
		return orders.Product{}, notFound(err)
	}
	return orders.Product{}, &orders.InsufficientStockError{ProductID: id, Requested: -delta, Available: stock}
}

// ---- cart ----

const cartCols = `id, user_id, product_id, quantity, created_at, updated_at`

func scanLine(row pgx.Row) (orders.CartItem, error) {
	var it orders.CartItem
	err := row.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt)
	return it, notFound(err)
}

func (s *Store) GetLine(ctx context.Context, id string) (orders.CartItem, error) {
	return scanLine(s.q.QueryRow(ctx, `SELECT `+cartCols+` FROM cart_items WHERE id=$1`, id))
}

func (s *Store) FindLine(ctx context.Context, userID, productID string) (orders.CartItem, error) {
	return scanLine(s.q.QueryRow(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 AND product_id=$2`, userID, productID))
}

func (s *Store) ListLines(ctx context.Context, userID string) ([]orders.CartItem, error) {
	rows, err := s.q.Query(ctx, `SELECT `+cartCols+` FROM cart_items WHERE user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.CartItem
	for rows.Next() {
		it, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CreateLine(ctx context.Context, it orders.CartItem) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO cart_items(id, user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		it.ID, it.UserID, it.ProductID, it.Quantity, it.CreatedAt, it.UpdatedAt)
	if uniqueViolation(err) {
		return orders.ErrConflict
	}
	return err
}

func (s *Store) UpdateLine(ctx context.Context, it orders.CartItem) error {
	ct, err := s.q.Exec(ctx, `UPDATE cart_items SET quantity=$2, updated_at=$3 WHERE id=$1`, it.ID, it.Quantity, it.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, id string) error {
	ct, err := s.q.Exec(ctx, `DELETE FROM cart_items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) ClearLines(ctx context.Context, userID string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	return err
}

func (s *Store) ClaimLines(ctx context.Context, userID string, ids []string) error {
	return s.atomically(ctx, func(q querier) error {
		ct, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND id = ANY($2)`, userID, ids)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != int64(len(ids)) {
			return orders.ErrEmptyCart // checkout lain sudah ambil cart ini
		}
		return nil
	})
}

// ---- orders ----

const orderCols = `id, user_id, total_amount::text, status, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, notFound(err)
	}
	o.Status = orders.Status(status)
	if !o.Status.Valid() {
		return orders.Order{}, fmt.Errorf("order %s: unknown status %q", o.ID, status)
	}
	var err error
	o.TotalAmount, err = parseDecimal(total)
	return o, err
}

func (s *Store) CreateOrder(ctx context.Context, o orders.Order, items []orders.OrderItem) error {
	return s.atomically(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `
			INSERT INTO orders(id, user_id, total_amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.UserID, o.TotalAmount.String(), string(o.Status), o.CreatedAt, o.UpdatedAt); err != nil {
			return err
		}
		// insert items
		for _, it := range items {
			if _, err := q.Exec(ctx, `
				INSERT INTO order_items(id, order_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4, $5)`,
				it.ID, o.ID, it.ProductID, it.Quantity, it.Price.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	// FOR UPDATE hanya berarti di dalam tx
	sql := `SELECT ` + orderCols + ` FROM orders WHERE id=$1`
	if s.tx != nil {
		sql += ` FOR UPDATE`
	}
	return scanOrder(s.q.QueryRow(ctx, sql, id))
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
	return scanOrder(s.q.QueryRow(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
		RETURNING `+orderCols, id, string(status)))
}

func (s *Store) FindOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	rows, err := s.q.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) FindItemsByOrder(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price::text
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var (
			it    orders.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ---- payments ----

const paymentCols = `id, order_id, amount::text, status, gateway_charge_ref, gateway_order_ref, created_at, updated_at`

func scanPayment(row pgx.Row) (orders.Payment, error) {
	var (
		p      orders.Payment
		amount string
		status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &amount, &status, &p.GatewayChargeRef, &p.GatewayOrderRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Payment{}, notFound(err)
	}
	p.Status = orders.PaymentStatus(status)
	var err error
	p.Amount, err = parseDecimal(amount)
	return p, err
}

func (s *Store) CreatePayment(ctx context.Context, p orders.Payment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount, status, gateway_charge_ref, gateway_order_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OrderID, p.Amount.String(), string(p.Status), p.GatewayChargeRef, p.GatewayOrderRef, p.CreatedAt, p.UpdatedAt)
	if uniqueViolation(err) {
		return orders.ErrConflict
	}
	return err
}

func (s *Store) GetPayment(ctx context.Context, id string) (orders.Payment, error) {
	return scanPayment(s.q.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=$1`, id))
}

func (s *Store) UpdatePayment(ctx context.Context, p orders.Payment) error {
	ct, err := s.q.Exec(ctx, `
		UPDATE payments SET status=$2, gateway_charge_ref=$3, updated_at=$4 WHERE id=$1`,
		p.ID, string(p.Status), p.GatewayChargeRef, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) FindPaymentByOrder(ctx context.Context, orderID string) (orders.Payment, error) {
	return scanPayment(s.q.QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments WHERE order_id=$1
		ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (s *Store) FindPaymentByIntentRef(ctx context.Context, ref string) (orders.Payment, error) {
	sql := `SELECT ` + paymentCols + ` FROM payments WHERE gateway_order_ref=$1`
	if s.tx != nil {
		sql += ` FOR UPDATE`
	}
	return scanPayment(s.q.QueryRow(ctx, sql, ref))
}
