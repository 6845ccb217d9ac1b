package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ariefcatur/go-order-saga.git/internal/catalog"
	"github.com/ariefcatur/go-order-saga.git/internal/orders"
	"github.com/ariefcatur/go-order-saga.git/internal/shipping"
	"github.com/ariefcatur/go-order-saga.git/internal/stock"
)

const (
	ReasonEmptyCart          = "EMPTY_CART"
	ReasonInvalidQty         = "INVALID_QTY"
	ReasonProductNotFound    = "PRODUCT_NOT_FOUND"
	ReasonOutOfStock         = "OUT_OF_STOCK"
	ReasonCatalogUnavailable = "CATALOG_UNAVAILABLE"
	ReasonReserveFailed      = "RESERVE_FAILED"
	ReasonPersistFailed      = "ORDER_PERSIST_FAILED"
	ReasonCommitViolation    = "COMMIT_INVARIANT_VIOLATION"
	ReasonCancelled          = "CANCELLED_BY_BUYER"
)

type CatalogClient interface {
	GetProduct(ctx context.Context, productID string) (catalog.Product, error)
}

type OrderWriter interface {
	Insert(ctx context.Context, o orders.Order, items []orders.Item) (string, error)
	MarkCancelled(ctx context.Context, orderID string) error
}

type ShipmentClient interface {
	CreateTracking(ctx context.Context, orderID string, estimated time.Time) (shipping.Tracking, error)
}

type EventEmitter interface {
	SagaCompleted(ctx context.Context, sagaID, orderID string, totalCents int, trackingID string)
	SagaFailed(ctx context.Context, sagaID, reason string, needsReview bool)
}

type Retry struct {
	Attempts int
	Backoff  time.Duration
}

// Coordinator menjalankan satu saga sampai terminal. Tidak pegang lock lintas
// saga — atomisitas antar checkout sepenuhnya urusan stock.Ledger. Run aman
// dipanggil ulang untuk saga yang sama (resume setelah crash / recovery sweep).
type Coordinator struct {
	Store    Store
	Ledger   stock.Ledger
	Catalog  CatalogClient
	Orders   OrderWriter
	Shipping ShipmentClient
	Events   EventEmitter // boleh nil
	Retry    Retry

	// lead time estimasi delivery; default 7 hari (ikut delivery-service)
	DeliveryLead time.Duration

	Now func() time.Time // override di test
}

func (c *Coordinator) Run(ctx context.Context, sagaID string) error {
	s, err := c.Store.Load(ctx, sagaID)
	if err != nil {
		return err
	}

	for !s.State.Terminal() {
		var err error
		switch s.State {
		case StateStarted:
			err = c.advance(ctx, s, StateValidating)
		case StateValidating:
			err = c.validate(ctx, s)
		case StateReserving:
			err = c.reserve(ctx, s)
		case StatePriced:
			err = c.persistOrder(ctx, s)
		case StateOrderPersisted:
			err = c.commitStock(ctx, s)
		case StateStockCommitted:
			err = c.createTracking(ctx, s)
		case StateTrackingCreated:
			err = c.finish(ctx, s)
		case StateCompensating:
			err = c.compensate(ctx, s)
		default:
			return fmt.Errorf("saga %s: unknown state %s", s.ID, s.State)
		}
		if errors.Is(err, ErrConflict) {
			// sudah diselesaikan proses lain (sweep vs worker, atau cancel)
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// validate: baca harga terkini dari catalog. Read-only — gagal di sini belum
// butuh kompensasi token.
func (c *Coordinator) validate(ctx context.Context, s *OrderSaga) error {
	if len(s.Cart) == 0 {
		return c.fail(ctx, s, ReasonEmptyCart)
	}

	// produk yang sama boleh muncul di beberapa line; gabung qty-nya dulu
	// karena token reservation (dan order_items) keyed per product
	merged := make([]CartLine, 0, len(s.Cart))
	byProduct := make(map[string]int, len(s.Cart))
	for _, line := range s.Cart {
		if line.Qty <= 0 {
			return c.fail(ctx, s, ReasonInvalidQty)
		}
		if j, ok := byProduct[line.ProductID]; ok {
			merged[j].Qty += line.Qty
			continue
		}
		byProduct[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	s.Cart = merged

	for i := range s.Cart {
		line := &s.Cart[i]

		var p catalog.Product
		err := c.withRetry(ctx, func() error {
			var err error
			p, err = c.Catalog.GetProduct(ctx, line.ProductID)
			return err
		})
		if errors.Is(err, catalog.ErrNotFound) {
			return c.fail(ctx, s, ReasonProductNotFound)
		}
		if err != nil {
			// retry habis; lewat jalur kompensasi (belum ada token, no-op release)
			s.FailureReason = ReasonCatalogUnavailable
			return c.advance(ctx, s, StateCompensating)
		}
		if !p.Available {
			return c.fail(ctx, s, ReasonOutOfStock)
		}
		line.PriceCents = p.PriceCents
	}
	return c.advance(ctx, s, StateReserving)
}

// reserve: satu token per cart line. Token dicatat ke store segera setelah
// kebentuk supaya resume tahu line mana yang sudah pegang hold.
func (c *Coordinator) reserve(ctx context.Context, s *OrderSaga) error {
	for _, line := range s.Cart {
		if _, ok := s.tokenFor(line.ProductID); ok {
			continue // resume: line ini sudah pegang token
		}

		var tok stock.ReservationToken
		err := c.withRetry(ctx, func() error {
			var err error
			tok, err = c.Ledger.Reserve(ctx, s.ID, line.ProductID, "", line.Qty)
			return err
		})
		if errors.Is(err, stock.ErrInsufficientStock) {
			s.FailureReason = ReasonOutOfStock
			return c.advance(ctx, s, StateCompensating)
		}
		if err != nil {
			s.FailureReason = ReasonReserveFailed
			return c.advance(ctx, s, StateCompensating)
		}

		s.recordToken(TokenRef{ProductID: line.ProductID, TokenID: tok.ID})
		if err := c.Store.Save(ctx, s); err != nil {
			return err
		}
	}

	total := 0
	for _, line := range s.Cart {
		total += line.Qty * line.PriceCents
	}
	s.TotalCents = total
	return c.advance(ctx, s, StatePriced)
}

func (c *Coordinator) persistOrder(ctx context.Context, s *OrderSaga) error {
	items := make([]orders.Item, 0, len(s.Cart))
	for _, line := range s.Cart {
		items = append(items, orders.Item{ProductID: line.ProductID, Qty: line.Qty, PriceCents: line.PriceCents})
	}

	var orderID string
	err := c.withRetry(ctx, func() error {
		var err error
		orderID, err = c.Orders.Insert(ctx, orders.Order{
			SagaID:          s.ID,
			BuyerID:         s.BuyerID,
			TotalCents:      s.TotalCents,
			ShippingAddress: s.ShippingAddress,
			PaymentMethod:   s.PaymentMethod,
		}, items)
		return err
	})
	if err != nil {
		s.FailureReason = ReasonPersistFailed
		return c.advance(ctx, s, StateCompensating)
	}

	s.OrderID = orderID
	return c.advance(ctx, s, StateOrderPersisted)
}

func (c *Coordinator) commitStock(ctx context.Context, s *OrderSaga) error {
	for _, ref := range s.Tokens {
		err := c.withRetry(ctx, func() error {
			return c.Ledger.Commit(ctx, ref.TokenID)
		})
		if errors.Is(err, stock.ErrInvalidTokenState) || errors.Is(err, stock.ErrTokenNotFound) {
			// tidak seharusnya terjadi selama token masih HELD & belum expired;
			// order harus ikut dibatalkan dan saga di-flag untuk review manual
			log.Error().Err(err).
				Str("saga_id", s.ID).
				Str("token_id", ref.TokenID).
				Msg("commit hit token in unexpected state")
			s.NeedsReview = true
			s.FailureReason = ReasonCommitViolation
			return c.advance(ctx, s, StateCompensating)
		}
		if err != nil {
			// transient setelah order persisted: jangan kompensasi (commit
			// sebagian mungkin sudah jalan) — recovery sweep yang melanjutkan
			return fmt.Errorf("saga %s: commit stock: %w", s.ID, err)
		}
	}
	return c.advance(ctx, s, StateStockCommitted)
}

// createTracking best-effort: kegagalan delivery-service tidak menggagalkan
// order, cuma dicatat. Keputusan bisnis, bukan data loss diam-diam.
func (c *Coordinator) createTracking(ctx context.Context, s *OrderSaga) error {
	var tr shipping.Tracking
	err := c.withRetry(ctx, func() error {
		var err error
		tr, err = c.Shipping.CreateTracking(ctx, s.OrderID, c.clock().Add(c.deliveryLead()))
		return err
	})
	if err != nil {
		log.Warn().Err(err).
			Str("saga_id", s.ID).
			Str("order_id", s.OrderID).
			Msg("create delivery tracking failed; completing without tracking")
	} else {
		s.TrackingID = tr.ServiceID
	}
	return c.advance(ctx, s, StateTrackingCreated)
}

func (c *Coordinator) finish(ctx context.Context, s *OrderSaga) error {
	if err := c.advance(ctx, s, StateCompleted); err != nil {
		return err
	}
	if c.Events != nil {
		c.Events.SagaCompleted(ctx, s.ID, s.OrderID, s.TotalCents, s.TrackingID)
	}
	log.Info().
		Str("saga_id", s.ID).
		Str("order_id", s.OrderID).
		Int("total_cents", s.TotalCents).
		Msg("saga completed")
	return nil
}

// compensate: release semua token yang masih HELD, tandai order CANCELLED
// kalau sudah sempat ditulis, lalu FAILED. Token COMMITTED tidak disentuh —
// hanya muncul di kasus needs_review dan diserahkan ke rekonsiliasi manual.
func (c *Coordinator) compensate(ctx context.Context, s *OrderSaga) error {
	for _, ref := range s.Tokens {
		ref := ref
		err := c.withRetry(ctx, func() error {
			err := c.Ledger.Release(ctx, ref.TokenID)
			if errors.Is(err, stock.ErrInvalidTokenState) || errors.Is(err, stock.ErrTokenNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			// retry habis — biarkan state COMPENSATING, sweep mengulang
			return fmt.Errorf("saga %s: release %s: %w", s.ID, ref.TokenID, err)
		}
	}

	if s.OrderID != "" {
		err := c.withRetry(ctx, func() error {
			err := c.Orders.MarkCancelled(ctx, s.OrderID)
			if errors.Is(err, orders.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("saga %s: cancel order %s: %w", s.ID, s.OrderID, err)
		}
	}

	return c.fail(ctx, s, s.FailureReason)
}

func (c *Coordinator) advance(ctx context.Context, s *OrderSaga, to State) error {
	if !CanTransition(s.State, to) {
		s.NeedsReview = true
		return fmt.Errorf("saga %s: illegal transition %s -> %s", s.ID, s.State, to)
	}
	from := s.State
	s.State = to
	if err := c.Store.Save(ctx, s); err != nil {
		s.State = from
		return err
	}
	log.Debug().
		Str("saga_id", s.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("saga transition")
	return nil
}

func (c *Coordinator) fail(ctx context.Context, s *OrderSaga, reason string) error {
	s.FailureReason = reason
	if err := c.advance(ctx, s, StateFailed); err != nil {
		return err
	}
	if c.Events != nil {
		c.Events.SagaFailed(ctx, s.ID, reason, s.NeedsReview)
	}
	log.Info().
		Str("saga_id", s.ID).
		Str("reason", reason).
		Bool("needs_review", s.NeedsReview).
		Msg("saga failed")
	return nil
}

// withRetry: retry hanya untuk error transient. Kegagalan bisnis
// (InsufficientStock, ProductNotFound, token state) langsung balik.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	attempts := c.Retry.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.Retry.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrInvalidTokenState),
		errors.Is(err, stock.ErrTokenNotFound),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (c *Coordinator) clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) deliveryLead() time.Duration {
	if c.DeliveryLead > 0 {
		return c.DeliveryLead
	}
	return 7 * 24 * time.Hour
}
