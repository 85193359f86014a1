package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-fulfillment/internal/gateway"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/ingest"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type stubGateway struct{}

func (stubGateway) OpenIntent(_ context.Context, _ int64, _, reference string, _ map[string]string) (string, error) {
	return "order_" + reference, nil
}

type relayed struct {
	mu     sync.Mutex
	events []orders.GatewayEvent
	err    error
}

func (r *relayed) RelayGatewayEvent(_ context.Context, ev orders.GatewayEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

// hookStore runs afterGetOrder once, right after the next non-tx GetOrder read.
type hookStore struct {
	orders.Store
	mu            sync.Mutex
	afterGetOrder func()
}

func (s *hookStore) Orders() orders.OrderStore { return hookOrders{OrderStore: s.Store.Orders(), s: s} }

func (s *hookStore) onNextGetOrder(fn func()) {
	s.mu.Lock()
	s.afterGetOrder = fn
	s.mu.Unlock()
}

type hookOrders struct {
	orders.OrderStore
	s *hookStore
}

func (o hookOrders) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	ord, err := o.OrderStore.GetOrder(ctx, id)
	o.s.mu.Lock()
	fn := o.s.afterGetOrder
	o.s.afterGetOrder = nil
	o.s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return ord, err
}

type server struct {
	*httptest.Server
	handler *httpx.Handler
	store   *hookStore
	redis   *miniredis.Miniredis
	rec     *orders.Reconciler
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := &hookStore{Store: memstore.New()}
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	locker := &redisx.Locker{RDB: rdb}
	cache := &redisx.StatusCache{RDB: rdb}
	wf := &orders.Workflow{Store: st, Locker: locker, Cache: cache}
	rec := &orders.Reconciler{Store: st, Gateway: stubGateway{}, Workflow: wf, Locker: locker}
	h := &httpx.Handler{
		Catalog:       &orders.Catalog{Store: st},
		Cart:          &orders.Cart{Store: st, Locker: locker},
		Workflow:      wf,
		Payments:      rec,
		Ingest:        &ingest.Service{Reconciler: rec, Dedup: &redisx.Dedup{RDB: rdb, Service: "test"}},
		Status:        cache,
		WebhookSecret: secret,
	}
	r := httpx.NewRouter(nil)
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{Server: srv, handler: h, store: st, redis: mr, rec: rec}
}

func (s *server) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *server) webhook(t *testing.T, body []byte, eventID, signature string) (int, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+"/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(httpx.HeaderSignature, signature)
	if eventID != "" {
		req.Header.Set(httpx.HeaderEventID, eventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

type product struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
	Price string `json:"price"`
}

type order struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
}

type payment struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	GatewayOrderRef string `json:"gateway_order_ref"`
}

func capturedBody(intentRef, chargeID string) []byte {
	return []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"` + chargeID + `","order_id":"` + intentRef + `","status":"captured"}}}}`)
}

func TestCheckoutAndPayOverHTTP(t *testing.T) {
	s := newServer(t)

	var a, b product
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products", map[string]any{"name": "A", "price": "10.0", "stock": 5}, &a))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products", map[string]any{"name": "B", "price": "3.0", "stock": 1}, &b))

	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/cart/items", map[string]any{"product_id": a.ID, "quantity": 2}, nil))
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/cart/items", map[string]any{"product_id": b.ID, "quantity": 1}, nil))
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/users/u1/cart/items", map[string]any{"product_id": b.ID, "quantity": 5}, nil))

	var total struct {
		Total string `json:"total"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/users/u1/cart/total", nil, &total))
	assert.Equal(t, "23", total.Total)

	var o order
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/orders", nil, &o))
	assert.Equal(t, "CREATED", o.Status)
	assert.Equal(t, "23", o.TotalAmount)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/users/u1/orders", nil, nil), "empty cart")

	var p payment
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orders/"+o.ID+"/payments", nil, &p))
	assert.Equal(t, "PENDING", p.Status)
	assert.Equal(t, "order_"+o.ID, p.GatewayOrderRef)

	body := capturedBody(p.GatewayOrderRef, "pay_1")
	code, res := s.webhook(t, body, "evt_1", gateway.Sign(body, secret))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(ingest.ResultApplied), res["result"])

	code, res = s.webhook(t, body, "evt_1", gateway.Sign(body, secret))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(ingest.ResultDuplicate), res["result"])

	var status struct {
		Status string `json:"status"`
		Cached bool   `json:"cached"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil, &status))
	assert.Equal(t, "PAID", status.Status)
	assert.True(t, status.Cached)

	var got payment
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID+"/payment", nil, &got))
	assert.Equal(t, "SUCCESS", got.Status)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", nil, nil))
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/orders/"+o.ID+"/payments", nil, nil))

	// failed setelah sukses: conflict, tetap 200 supaya gateway berhenti retry
	failed := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"` + p.GatewayOrderRef + `"}}}}`)
	code, res = s.webhook(t, failed, "evt_2", gateway.Sign(failed, secret))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(ingest.ResultConflict), res["result"])
}

func TestWebhookRejects(t *testing.T) {
	s := newServer(t)

	body := capturedBody("order_unknown", "pay_1")
	code, _ := s.webhook(t, body, "evt_1", "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.webhook(t, body, "evt_1", gateway.Sign(body, secret))
	assert.Equal(t, http.StatusNotFound, code)

	bad := []byte(`{not json`)
	code, _ = s.webhook(t, bad, "", gateway.Sign(bad, secret))
	assert.Equal(t, http.StatusBadRequest, code)

	ignored := []byte(`{"event":"refund.processed","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)
	code, res := s.webhook(t, ignored, "evt_3", gateway.Sign(ignored, secret))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(ingest.ResultIgnored), res["result"])
}

func TestWebhookRelay(t *testing.T) {
	s := newServer(t)
	relay := &relayed{}
	s.handler.Relay = relay

	body := capturedBody("order_x", "pay_1")
	code, res := s.webhook(t, body, "evt_1", gateway.Sign(body, secret))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, string(ingest.ResultQueued), res["result"])
	require.Len(t, relay.events, 1)
	assert.Equal(t, "order_x", relay.events[0].IntentRef)
	assert.Equal(t, "evt_1", relay.events[0].EventID)

	ignored := []byte(`{"event":"refund.processed","payload":{"payment":{"id":"pay_1"}}}`)
	code, _ = s.webhook(t, ignored, "evt_2", gateway.Sign(ignored, secret))
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, relay.events, 1)

	// broker menolak: gateway harus retry, jadi bukan 2xx
	relay.err = errors.New("kafka: leader not available")
	code, _ = s.webhook(t, body, "evt_3", gateway.Sign(body, secret))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Len(t, relay.events, 1)
}

func TestOrderStatus_RefillDoesNotOverwriteNewerStatus(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	var pr product
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products", map[string]any{"name": "A", "price": "5", "stock": 2}, &pr))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/cart/items", map[string]any{"product_id": pr.ID, "quantity": 1}, nil))
	var o order
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/orders", nil, &o))
	var p payment
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/orders/"+o.ID+"/payments", nil, &p))

	s.redis.Del(fmt.Sprintf(redisx.KeyOrderStatus, o.ID))

	// handler sudah baca CREATED dari DB, lalu pembayaran masuk sebelum cache diisi
	s.store.onNextGetOrder(func() {
		_, err := s.rec.Reconcile(ctx, "pay_1", p.GatewayOrderRef, orders.OutcomeCaptured)
		assert.NoError(t, err)
	})

	var status struct {
		Status string `json:"status"`
		Cached bool   `json:"cached"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil, &status))
	assert.Equal(t, "CREATED", status.Status)
	assert.False(t, status.Cached)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil, &status))
	assert.Equal(t, "PAID", status.Status)
	assert.True(t, status.Cached)
}

func TestProductsAndCartRoutes(t *testing.T) {
	s := newServer(t)

	var p product
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/products", map[string]any{"name": "Blue Shirt", "price": 12.5, "stock": 3}, &p))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/products", map[string]any{"name": "", "price": "1", "stock": 1}, nil))

	var found []product
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/products?q=shirt", nil, &found))
	assert.Len(t, found, 1)

	var updated product
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, "/products/"+p.ID, map[string]any{"stock": 9}, &updated))
	assert.Equal(t, 9, updated.Stock)
	assert.Equal(t, "12.5", updated.Price)

	var line struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
	}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/users/u1/cart/items", map[string]any{"product_id": p.ID, "quantity": 1}, &line))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, "/cart/items/"+line.ID, map[string]any{"quantity": 4}, &line))
	assert.Equal(t, 4, line.Quantity)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/cart/items/"+line.ID, map[string]any{"quantity": 0}, nil))
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/cart/items/"+line.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/cart/items/"+line.ID, nil, nil))
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/users/u1/cart", nil, nil))

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/products/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/products/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/payments/missing", nil, nil))
}
