package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga.git/internal/orders"
	"github.com/ariefcatur/go-order-saga.git/internal/saga"
	"github.com/ariefcatur/go-order-saga.git/internal/stock"
)

type fakeStore struct {
	sagas map[string]*saga.OrderSaga
}

func newFakeStore() *fakeStore { return &fakeStore{sagas: make(map[string]*saga.OrderSaga)} }

func (f *fakeStore) Create(ctx context.Context, s *saga.OrderSaga) (*saga.OrderSaga, bool, error) {
	if s.ExternalID != "" {
		for _, ex := range f.sagas {
			if ex.ExternalID == s.ExternalID {
				return ex, true, nil
			}
		}
	}
	f.sagas[s.ID] = s
	return s, false, nil
}

func (f *fakeStore) Save(ctx context.Context, s *saga.OrderSaga) error {
	f.sagas[s.ID] = s
	return nil
}

func (f *fakeStore) Load(ctx context.Context, sagaID string) (*saga.OrderSaga, error) {
	s, ok := f.sagas[sagaID]
	if !ok {
		return nil, saga.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) FindIncomplete(ctx context.Context, olderThan time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) TryCancel(ctx context.Context, sagaID, reason string) error {
	s, ok := f.sagas[sagaID]
	if !ok {
		return saga.ErrNotFound
	}
	if s.State != saga.StateStarted && s.State != saga.StateValidating {
		return saga.ErrCancelTooLate
	}
	s.State = saga.StateFailed
	s.FailureReason = reason
	return nil
}

type fakeOrderReader struct {
	orders map[string]orders.Order
}

func (f *fakeOrderReader) Get(ctx context.Context, orderID string) (orders.Order, []orders.Item, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return orders.Order{}, nil, orders.ErrNotFound
	}
	return o, []orders.Item{{OrderID: orderID, ProductID: "p1", Qty: 1, PriceCents: 1000}}, nil
}

func newTestHandler() (*SagaHandler, http.Handler) {
	h := &SagaHandler{
		Store:   newFakeStore(),
		Orders:  &fakeOrderReader{orders: make(map[string]orders.Order)},
		Stock:   stock.NewMemLedger(time.Minute),
		Service: "saga-api-test",
	}
	r := NewRouter()
	h.Register(r)
	return h, r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutAccepted(t *testing.T) {
	h, r := newTestHandler()
	rec := doJSON(t, r, http.MethodPost, "/checkout", CheckoutReq{
		BuyerID:         "buyer-1",
		Items:           []CheckoutItem{{ProductID: "p1", Qty: 2}},
		ShippingAddress: "Jl. Sudirman No. 1, Jakarta",
		PaymentMethod:   "COD",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	var resp CheckoutResp
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SagaID == "" || resp.Idempotent {
		t.Fatalf("resp = %+v", resp)
	}
	s, err := h.Store.Load(context.Background(), resp.SagaID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.State != saga.StateStarted {
		t.Fatalf("state = %s, want STARTED", s.State)
	}
}

func TestCheckoutIdempotentByExternalID(t *testing.T) {
	_, r := newTestHandler()
	req := CheckoutReq{
		ExternalID:      "client-req-1",
		BuyerID:         "buyer-1",
		Items:           []CheckoutItem{{ProductID: "p1", Qty: 1}},
		ShippingAddress: "Jl. Sudirman No. 1",
	}
	rec1 := doJSON(t, r, http.MethodPost, "/checkout", req)
	rec2 := doJSON(t, r, http.MethodPost, "/checkout", req)
	if rec1.Code != http.StatusAccepted || rec2.Code != http.StatusAccepted {
		t.Fatalf("status = %d / %d", rec1.Code, rec2.Code)
	}
	var r1, r2 CheckoutResp
	json.NewDecoder(rec1.Body).Decode(&r1)
	json.NewDecoder(rec2.Body).Decode(&r2)
	if r1.SagaID != r2.SagaID {
		t.Fatalf("submit ulang harus balikin saga yang sama: %s vs %s", r1.SagaID, r2.SagaID)
	}
	if !r2.Idempotent {
		t.Fatal("second submit must report idempotent=true")
	}
}

func TestCheckoutValidation(t *testing.T) {
	_, r := newTestHandler()
	cases := []CheckoutReq{
		{},
		{BuyerID: "b", ShippingAddress: "x"},                                               // no items
		{BuyerID: "b", Items: []CheckoutItem{{ProductID: "p1", Qty: 0}}, ShippingAddress: "x"}, // qty 0
		{BuyerID: "b", Items: []CheckoutItem{{ProductID: "", Qty: 1}}, ShippingAddress: "x"},   // no product
	}
	for i, c := range cases {
		if rec := doJSON(t, r, http.MethodPost, "/checkout", c); rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString("{bukan json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json: status = %d, want 400", rec.Code)
	}
}

func TestGetSaga(t *testing.T) {
	h, r := newTestHandler()
	s := &saga.OrderSaga{ID: "s1", BuyerID: "b", State: saga.StateReserving}
	h.Store.(*fakeStore).sagas["s1"] = s

	rec := doJSON(t, r, http.MethodGet, "/sagas/s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SagaStatusResp
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.State != string(saga.StateReserving) {
		t.Fatalf("state = %s", resp.State)
	}

	if rec := doJSON(t, r, http.MethodGet, "/sagas/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status = %d, want 404", rec.Code)
	}
}

func TestCancelSaga(t *testing.T) {
	h, r := newTestHandler()
	h.Store.(*fakeStore).sagas["s1"] = &saga.OrderSaga{ID: "s1", State: saga.StateStarted}
	h.Store.(*fakeStore).sagas["s2"] = &saga.OrderSaga{ID: "s2", State: saga.StateReserving}

	if rec := doJSON(t, r, http.MethodPost, "/sagas/s1/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel STARTED: status = %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/sagas/s2/cancel", nil); rec.Code != http.StatusConflict {
		t.Fatalf("cancel RESERVING: status = %d, want 409", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/sagas/nope/cancel", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel missing: status = %d, want 404", rec.Code)
	}
}

func TestGetOrder(t *testing.T) {
	h, r := newTestHandler()
	h.Orders.(*fakeOrderReader).orders["o1"] = orders.Order{ID: "o1", BuyerID: "b", TotalCents: 1000, Status: orders.StatusPending}

	if rec := doJSON(t, r, http.MethodGet, "/orders/o1", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodGet, "/orders/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status = %d, want 404", rec.Code)
	}
}

func TestStockEndpoints(t *testing.T) {
	_, r := newTestHandler()

	rec := doJSON(t, r, http.MethodPost, "/stock", addStockReq{ProductID: "p1", LocationID: "w1", Quantity: 10})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add stock: status = %d (%s)", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, r, http.MethodPost, "/stock", addStockReq{ProductID: "p1", LocationID: "w1", Quantity: 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("qty 0: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/stock", addStockReq{ProductID: "", LocationID: "w1", Quantity: 1}); rec.Code != http.StatusBadRequest {
		t.Fatalf("no product: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/stock/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get stock: status = %d", rec.Code)
	}
	var out []struct {
		LocationID string `json:"location_id"`
		Quantity   int    `json:"quantity"`
		Available  int    `json:"available"`
	}
	json.NewDecoder(rec.Body).Decode(&out)
	if len(out) != 1 || out[0].Quantity != 10 || out[0].Available != 10 {
		t.Fatalf("stock = %+v", out)
	}
}
