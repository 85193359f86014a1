package orders_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type intentCall struct {
	amount    int64
	currency  string
	reference string
	metadata  map[string]string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []intentCall
	err   error
	delay time.Duration
}

func (g *fakeGateway) OpenIntent(ctx context.Context, amount int64, currency, reference string, metadata map[string]string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, intentCall{amount, currency, reference, metadata})
	n := len(g.calls)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("order_%s_%d", reference, n), nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, _ string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type env struct {
	store   *memstore.Store
	catalog *orders.Catalog
	cart    *orders.Cart
	wf      *orders.Workflow
	rec     *orders.Reconciler
	gw      *fakeGateway
	events  *recordingPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	locker := orders.NewLocalLocker()
	pub := &recordingPublisher{}
	gw := &fakeGateway{}
	wf := &orders.Workflow{Store: st, Locker: locker, Events: pub}
	return &env{
		store:   st,
		catalog: &orders.Catalog{Store: st},
		cart:    &orders.Cart{Store: st, Locker: locker},
		wf:      wf,
		rec:     &orders.Reconciler{Store: st, Gateway: gw, Workflow: wf, Locker: locker, Events: pub},
		gw:      gw,
		events:  pub,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *env) product(t *testing.T, name, price string, stock int) orders.Product {
	t.Helper()
	p, err := e.catalog.CreateProduct(context.Background(), name, "", dec(price), stock)
	require.NoError(t, err)
	return p
}

func (e *env) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := e.catalog.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (e *env) add(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	_, err := e.cart.AddItem(context.Background(), userID, productID, qty)
	require.NoError(t, err)
}

// placeOrder adds one unit of a fresh product and checks out.
func (e *env) placeOrder(t *testing.T, userID, price string) orders.Order {
	t.Helper()
	p := e.product(t, "item-"+userID, price, 10)
	e.add(t, userID, p.ID, 1)
	o, err := e.wf.CreateOrder(context.Background(), userID)
	require.NoError(t, err)
	return o
}

func (e *env) order(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := e.wf.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}
