// Package memstore is an in-process orders.Store used by tests and by the API
// when STORE_DRIVER=memory.
//
// Product stock is updated with a compare-and-swap loop per product, so there
// is no global stock lock. WithTx is not isolated: it records a compensating
// action for every write and replays them in reverse if fn fails.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type Store struct {
	mu       sync.RWMutex
	products map[string]*atomic.Pointer[orders.Product]
	lines    map[string]orders.CartItem
	orders   map[string]orders.Order
	items    map[string][]orders.OrderItem
	payments map[string]orders.Payment

	now func() time.Time
}

func New() *Store {
	return &Store{
		products: map[string]*atomic.Pointer[orders.Product]{},
		lines:    map[string]orders.CartItem{},
		orders:   map[string]orders.Order{},
		items:    map[string][]orders.OrderItem{},
		payments: map[string]orders.Payment{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Catalog() orders.CatalogStore  { return catalog{s: s} }
func (s *Store) Carts() orders.CartStore       { return carts{s: s} }
func (s *Store) Orders() orders.OrderStore     { return orderStore{s: s} }
func (s *Store) Payments() orders.PaymentStore { return payments{s: s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Store) error) error {
	j := &journal{}
	if err := fn(&txStore{s: s, j: j}); err != nil {
		return j.rollback(err)
	}
	return nil
}

type txStore struct {
	s *Store
	j *journal
}

func (t *txStore) Catalog() orders.CatalogStore  { return catalog{s: t.s, j: t.j} }
func (t *txStore) Carts() orders.CartStore       { return carts{s: t.s, j: t.j} }
func (t *txStore) Orders() orders.OrderStore     { return orderStore{s: t.s, j: t.j} }
func (t *txStore) Payments() orders.PaymentStore { return payments{s: t.s, j: t.j} }

// nested tx ikut tx luar
func (t *txStore) WithTx(ctx context.Context, fn func(tx orders.Store) error) error {
	return fn(t)
}

// ---- catalog ----

type catalog struct {
	s *Store
	j *journal
}

func (c catalog) ptr(id string) (*atomic.Pointer[orders.Product], bool) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.products[id]
	return p, ok
}

func (c catalog) GetProduct(_ context.Context, id string) (orders.Product, error) {
	ptr, ok := c.ptr(id)
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	p := ptr.Load()
	if p == nil {
		return orders.Product{}, orders.ErrNotFound
	}
	return *p, nil
}

func (c catalog) ListProducts(_ context.Context) ([]orders.Product, error) {
	return c.filter(func(orders.Product) bool { return true }), nil
}

func (c catalog) SearchProducts(_ context.Context, q string) ([]orders.Product, error) {
	q = strings.ToLower(q)
	return c.filter(func(p orders.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), q)
	}), nil
}

func (c catalog) filter(keep func(orders.Product) bool) []orders.Product {
	c.s.mu.RLock()
	out := make([]orders.Product, 0, len(c.s.products))
	for _, ptr := range c.s.products {
		if p := ptr.Load(); p != nil && keep(*p) {
			out = append(out, *p)
		}
	}
	c.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (c catalog) CreateProduct(_ context.Context, p orders.Product) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.products[p.ID]; ok {
		return orders.ErrConflict
	}
	ptr := &atomic.Pointer[orders.Product]{}
	ptr.Store(&p)
	c.s.products[p.ID] = ptr
	c.j.add(func() error {
		c.s.mu.Lock()
		delete(c.s.products, p.ID)
		c.s.mu.Unlock()
		return nil
	})
	return nil
}

// UpdateProduct succeeds only if p.Version is still the stored version.
func (c catalog) UpdateProduct(_ context.Context, p orders.Product) error {
	ptr, ok := c.ptr(p.ID)
	if !ok {
		return orders.ErrNotFound
	}
	cur := ptr.Load()
	if cur == nil {
		return orders.ErrNotFound
	}
	if cur.Version != p.Version {
		return orders.ErrConflict
	}
	next := p
	next.Version++
	if !ptr.CompareAndSwap(cur, &next) {
		return orders.ErrConflict
	}
	c.j.add(func() error {
		ptr.CompareAndSwap(&next, cur)
		return nil
	})
	return nil
}

func (c catalog) DeleteProduct(_ context.Context, id string) error {
	c.s.mu.Lock()
	ptr, ok := c.s.products[id]
	if ok {
		delete(c.s.products, id)
	}
	c.s.mu.Unlock()
	if !ok {
		return orders.ErrNotFound
	}
	prev := ptr.Swap(nil)
	c.j.add(func() error {
		ptr.Store(prev)
		c.s.mu.Lock()
		c.s.products[id] = ptr
		c.s.mu.Unlock()
		return nil
	})
	return nil
}

// AdjustStock: CAS loop, retry kalau ada writer lain di produk yang sama.
func (c catalog) AdjustStock(ctx context.Context, id string, delta int) (orders.Product, error) {
	p, err := c.s.adjust(id, delta)
	if err != nil {
		return orders.Product{}, err
	}
	c.j.add(func() error {
		_, err := c.s.adjust(id, -delta)
		return err
	})
	return p, nil
}

func (s *Store) adjust(id string, delta int) (orders.Product, error) {
	s.mu.RLock()
	ptr, ok := s.products[id]
	s.mu.RUnlock()
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	for {
		cur := ptr.Load()
		if cur == nil {
			return orders.Product{}, orders.ErrNotFound
		}
		if cur.Stock+delta < 0 {
			return orders.Product{}, &orders.InsufficientStockError{ProductID: id, Requested: -delta, Available: cur.Stock}
		}
		next := *cur
		next.Stock += delta
		next.Version++
		next.UpdatedAt = s.now()
		if ptr.CompareAndSwap(cur, &next) {
			return next, nil
		}
	}
}

// ---- carts ----

type carts struct {
	s *Store
	j *journal
}

func (c carts) GetLine(_ context.Context, id string) (orders.CartItem, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	it, ok := c.s.lines[id]
	if !ok {
		return orders.CartItem{}, orders.ErrNotFound
	}
	return it, nil
}

func (c carts) FindLine(_ context.Context, userID, productID string) (orders.CartItem, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, it := range c.s.lines {
		if it.UserID == userID && it.ProductID == productID {
			return it, nil
		}
	}
	return orders.CartItem{}, orders.ErrNotFound
}

func (c carts) ListLines(_ context.Context, userID string) ([]orders.CartItem, error) {
	c.s.mu.RLock()
	var out []orders.CartItem
	for _, it := range c.s.lines {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	c.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c carts) CreateLine(_ context.Context, it orders.CartItem) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, x := range c.s.lines {
		if x.UserID == it.UserID && x.ProductID == it.ProductID {
			return orders.ErrConflict
		}
	}
	c.s.lines[it.ID] = it
	c.j.add(func() error { return c.restore(nil, []string{it.ID}) })
	return nil
}

func (c carts) UpdateLine(_ context.Context, it orders.CartItem) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	prev, ok := c.s.lines[it.ID]
	if !ok {
		return orders.ErrNotFound
	}
	c.s.lines[it.ID] = it
	c.j.add(func() error { return c.restore([]orders.CartItem{prev}, nil) })
	return nil
}

func (c carts) DeleteLine(_ context.Context, id string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	prev, ok := c.s.lines[id]
	if !ok {
		return orders.ErrNotFound
	}
	delete(c.s.lines, id)
	c.j.add(func() error { return c.restore([]orders.CartItem{prev}, nil) })
	return nil
}

func (c carts) ClearLines(_ context.Context, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var removed []orders.CartItem
	for id, it := range c.s.lines {
		if it.UserID == userID {
			removed = append(removed, it)
			delete(c.s.lines, id)
		}
	}
	c.j.add(func() error { return c.restore(removed, nil) })
	return nil
}

func (c carts) ClaimLines(_ context.Context, userID string, ids []string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	claimed := make([]orders.CartItem, 0, len(ids))
	for _, id := range ids {
		it, ok := c.s.lines[id]
		if !ok || it.UserID != userID {
			return orders.ErrEmptyCart
		}
		claimed = append(claimed, it)
	}
	for _, id := range ids {
		delete(c.s.lines, id)
	}
	c.j.add(func() error { return c.restore(claimed, nil) })
	return nil
}

// restore puts lines back and drops the given ids.
func (c carts) restore(put []orders.CartItem, drop []string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, it := range put {
		c.s.lines[it.ID] = it
	}
	for _, id := range drop {
		delete(c.s.lines, id)
	}
	return nil
}

// ---- orders ----

type orderStore struct {
	s *Store
	j *journal
}

func (o orderStore) CreateOrder(_ context.Context, ord orders.Order, items []orders.OrderItem) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orders[ord.ID]; ok {
		return orders.ErrConflict
	}
	o.s.orders[ord.ID] = ord
	o.s.items[ord.ID] = append([]orders.OrderItem(nil), items...)
	o.j.add(func() error {
		o.s.mu.Lock()
		delete(o.s.orders, ord.ID)
		delete(o.s.items, ord.ID)
		o.s.mu.Unlock()
		return nil
	})
	return nil
}

func (o orderStore) GetOrder(_ context.Context, id string) (orders.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	ord, ok := o.s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return ord, nil
}

func (o orderStore) UpdateOrderStatus(_ context.Context, id string, status orders.Status) (orders.Order, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	prev, ok := o.s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	next := prev
	next.Status = status
	next.UpdatedAt = o.s.now()
	o.s.orders[id] = next
	o.j.add(func() error {
		o.s.mu.Lock()
		o.s.orders[id] = prev
		o.s.mu.Unlock()
		return nil
	})
	return next, nil
}

func (o orderStore) FindOrdersByUser(_ context.Context, userID string) ([]orders.Order, error) {
	o.s.mu.RLock()
	var out []orders.Order
	for _, ord := range o.s.orders {
		if ord.UserID == userID {
			out = append(out, ord)
		}
	}
	o.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (o orderStore) FindItemsByOrder(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return append([]orders.OrderItem(nil), o.s.items[orderID]...), nil
}

// ---- payments ----

type payments struct {
	s *Store
	j *journal
}

func (p payments) CreatePayment(_ context.Context, pay orders.Payment) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.payments[pay.ID]; ok {
		return orders.ErrConflict
	}
	for _, x := range p.s.payments {
		if x.GatewayOrderRef == pay.GatewayOrderRef {
			return orders.ErrConflict
		}
	}
	p.s.payments[pay.ID] = pay
	p.j.add(func() error {
		p.s.mu.Lock()
		delete(p.s.payments, pay.ID)
		p.s.mu.Unlock()
		return nil
	})
	return nil
}

func (p payments) GetPayment(_ context.Context, id string) (orders.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	pay, ok := p.s.payments[id]
	if !ok {
		return orders.Payment{}, orders.ErrNotFound
	}
	return pay, nil
}

func (p payments) UpdatePayment(_ context.Context, pay orders.Payment) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prev, ok := p.s.payments[pay.ID]
	if !ok {
		return orders.ErrNotFound
	}
	p.s.payments[pay.ID] = pay
	p.j.add(func() error {
		p.s.mu.Lock()
		p.s.payments[pay.ID] = prev
		p.s.mu.Unlock()
		return nil
	})
	return nil
}

func (p payments) FindPaymentByOrder(_ context.Context, orderID string) (orders.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var (
		latest orders.Payment
		found  bool
	)
	for _, pay := range p.s.payments {
		if pay.OrderID != orderID {
			continue
		}
		if !found || pay.CreatedAt.After(latest.CreatedAt) {
			latest, found = pay, true
		}
	}
	if !found {
		return orders.Payment{}, orders.ErrNotFound
	}
	return latest, nil
}

func (p payments) FindPaymentByIntentRef(_ context.Context, ref string) (orders.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	for _, pay := range p.s.payments {
		if pay.GatewayOrderRef == ref {
			return pay, nil
		}
	}
	return orders.Payment{}, orders.ErrNotFound
}
