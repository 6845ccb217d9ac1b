package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memKey struct{ product, location string }

// MemLedger: implementasi in-memory untuk test dan run lokal tanpa Postgres.
// Satu mutex global cukup di sini; serialisasi per record urusan PgLedger.
type MemLedger struct {
	mu      sync.Mutex
	records map[memKey]*StockRecord
	tokens  map[string]*ReservationToken
	HoldTTL time.Duration
}

func NewMemLedger(holdTTL time.Duration) *MemLedger {
	if holdTTL <= 0 {
		holdTTL = 5 * time.Minute
	}
	return &MemLedger{
		records: make(map[memKey]*StockRecord),
		tokens:  make(map[string]*ReservationToken),
		HoldTTL: holdTTL,
	}
}

func (l *MemLedger) Reserve(ctx context.Context, sagaID, productID, locationID string, qty int) (ReservationToken, error) {
	if qty <= 0 {
		return ReservationToken{}, ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// idempotent short-circuit per (saga, product)
	for _, tok := range l.tokens {
		if tok.SagaID == sagaID && tok.ProductID == productID && tok.State != TokenReleased {
			return *tok, nil
		}
	}

	rec := l.pickLocked(productID, locationID, qty)
	if rec == nil {
		return ReservationToken{}, ErrInsufficientStock
	}

	rec.Reserved += qty
	rec.UpdatedAt = time.Now().UTC()
	tok := &ReservationToken{
		ID:         uuid.NewString(),
		SagaID:     sagaID,
		ProductID:  rec.ProductID,
		LocationID: rec.LocationID,
		Qty:        qty,
		State:      TokenHeld,
		CreatedAt:  rec.UpdatedAt,
		ExpiresAt:  rec.UpdatedAt.Add(l.HoldTTL),
	}
	l.tokens[tok.ID] = tok
	return *tok, nil
}

func (l *MemLedger) pickLocked(productID, locationID string, qty int) *StockRecord {
	if locationID != "" {
		rec, ok := l.records[memKey{productID, locationID}]
		if !ok || rec.Available() < qty {
			return nil
		}
		return rec
	}
	var candidates []*StockRecord
	for _, rec := range l.records {
		if rec.ProductID == productID && rec.Available() >= qty {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Available() != candidates[j].Available() {
			return candidates[i].Available() > candidates[j].Available()
		}
		return candidates[i].LocationID < candidates[j].LocationID
	})
	return candidates[0]
}

func (l *MemLedger) Commit(ctx context.Context, tokenID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tok, ok := l.tokens[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	switch tok.State {
	case TokenCommitted:
		return nil
	case TokenReleased:
		return ErrInvalidTokenState
	}
	rec := l.records[memKey{tok.ProductID, tok.LocationID}]
	rec.Quantity -= tok.Qty
	rec.Reserved -= tok.Qty
	rec.UpdatedAt = time.Now().UTC()
	tok.State = TokenCommitted
	return nil
}

func (l *MemLedger) Release(ctx context.Context, tokenID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(tokenID)
}

func (l *MemLedger) releaseLocked(tokenID string) error {
	tok, ok := l.tokens[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	switch tok.State {
	case TokenReleased:
		return nil
	case TokenCommitted:
		return ErrInvalidTokenState
	}
	rec := l.records[memKey{tok.ProductID, tok.LocationID}]
	rec.Reserved -= tok.Qty
	rec.UpdatedAt = time.Now().UTC()
	tok.State = TokenReleased
	return nil
}

func (l *MemLedger) ExpireStaleHolds(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	released := 0
	for id, tok := range l.tokens {
		if tok.State == TokenHeld && tok.ExpiresAt.Before(now) {
			if err := l.releaseLocked(id); err == nil {
				released++
			}
		}
	}
	return released, nil
}

func (l *MemLedger) AddStock(ctx context.Context, productID, locationID string, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := memKey{productID, locationID}
	rec, ok := l.records[k]
	if !ok {
		rec = &StockRecord{ProductID: productID, LocationID: locationID}
		l.records[k] = rec
	}
	rec.Quantity += qty
	rec.UpdatedAt = time.Now().UTC()
	return *rec, nil
}

func (l *MemLedger) ListByProduct(ctx context.Context, productID string) ([]StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []StockRecord
	for _, rec := range l.records {
		if rec.ProductID == productID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}

// Token mengembalikan snapshot token; dipakai test untuk assert state.
func (l *MemLedger) Token(id string) (ReservationToken, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[id]
	if !ok {
		return ReservationToken{}, false
	}
	return *tok, true
}
