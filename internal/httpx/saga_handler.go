package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-saga.git/internal/events"
	"github.com/ariefcatur/go-order-saga.git/internal/orders"
	"github.com/ariefcatur/go-order-saga.git/internal/redisx"
	"github.com/ariefcatur/go-order-saga.git/internal/saga"
	"github.com/ariefcatur/go-order-saga.git/internal/stock"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (orders.Order, []orders.Item, error)
}

type SagaHandler struct {
	Store   saga.Store
	Orders  OrderReader
	Stock   stock.Ledger
	Emitter *events.Emitter // boleh nil (test)
	Redis   *redis.Client   // boleh nil (test)
	Service string
}

type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CheckoutReq struct {
	ExternalID      string         `json:"external_id,omitempty"`
	BuyerID         string         `json:"buyer_id"`
	Items           []CheckoutItem `json:"items"`
	ShippingAddress string         `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method"`
}

type CheckoutResp struct {
	SagaID     string `json:"saga_id"`
	Idempotent bool   `json:"idempotent"`
}

type SagaStatusResp struct {
	SagaID        string `json:"saga_id"`
	State         string `json:"state"`
	OrderID       string `json:"order_id,omitempty"`
	TrackingID    string `json:"tracking_id,omitempty"`
	TotalCents    int    `json:"total_cents,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (h *SagaHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Get("/sagas/{id}", h.getSaga)
	r.Post("/sagas/{id}/cancel", h.cancelSaga)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/stock/{productID}", h.getStock)
	r.Post("/stock", h.addStock)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *SagaHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.BuyerID == "" || len(req.Items) == 0 || req.ShippingAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Qty <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path idempotency via Redis (DB tetap jadi kebenaran)
	if req.ExternalID != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemSubmit, req.ExternalID)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			writeJSON(w, http.StatusAccepted, CheckoutResp{SagaID: id, Idempotent: true})
			return
		}
	}

	cart := make([]saga.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		cart = append(cart, saga.CartLine{ProductID: it.ProductID, Qty: it.Qty})
	}
	s := &saga.OrderSaga{
		ID:              uuid.NewString(),
		ExternalID:      req.ExternalID,
		BuyerID:         req.BuyerID,
		Cart:            cart,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		State:           saga.StateStarted,
	}

	canonical, existed, err := h.Store.Create(ctx, s)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if req.ExternalID != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemSubmit, req.ExternalID)
		_ = h.Redis.Set(ctx, idemKey, canonical.ID, redisx.TTLIdempotency).Err()
	}

	if !existed && h.Emitter != nil {
		h.Emitter.SagaSubmitted(canonical.ID, canonical.BuyerID, r.Header.Get("X-Request-Id"))
	}

	writeJSON(w, http.StatusAccepted, CheckoutResp{SagaID: canonical.ID, Idempotent: existed})
}

func (h *SagaHandler) getSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeySagaStatus, sagaID)
	if h.Redis != nil {
		if cached, err := h.Redis.Get(ctx, key).Result(); err == nil && cached != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(cached))
			return
		}
	}

	// 2) fallback store
	s, err := h.Store.Load(ctx, sagaID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	resp := SagaStatusResp{
		SagaID:        s.ID,
		State:         string(s.State),
		OrderID:       s.OrderID,
		TrackingID:    s.TrackingID,
		TotalCents:    s.TotalCents,
		FailureReason: s.FailureReason,
	}
	if h.Redis != nil && s.State.Terminal() {
		// cuma state terminal yang di-cache; yang in-flight berubah terus
		b, _ := json.Marshal(resp)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SagaHandler) cancelSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	err := h.Store.TryCancel(ctx, sagaID, saga.ReasonCancelled)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, saga.ErrCancelTooLate):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "reservation already started"})
	case errors.Is(err, saga.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (h *SagaHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if cached, err := h.Redis.Get(ctx, key).Result(); err == nil && cached != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(cached))
			return
		}
	}

	o, items, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	resp := map[string]any{"order": o, "items": items}
	if h.Redis != nil && o.Status != orders.StatusPending {
		// PENDING masih bisa berubah jadi CANCELLED, jangan di-cache
		b, _ := json.Marshal(resp)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SagaHandler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	recs, err := h.Stock.ListByProduct(ctx, productID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type stockResp struct {
		stock.StockRecord
		Available int `json:"available"`
	}
	out := make([]stockResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, stockResp{StockRecord: rec, Available: rec.Available()})
	}
	writeJSON(w, http.StatusOK, out)
}

type addStockReq struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

func (h *SagaHandler) addStock(w http.ResponseWriter, r *http.Request) {
	var req addStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || req.LocationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.Stock.AddStock(ctx, req.ProductID, req.LocationID, req.Quantity)
	if err != nil {
		if errors.Is(err, stock.ErrInvalidQuantity) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
