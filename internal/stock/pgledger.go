package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgLedger mengandalkan row lock Postgres (SELECT ... FOR UPDATE) supaya
// update reserved + pembuatan token jadi satu unit atomik per record.
type PgLedger struct {
	DB      *pgxpool.Pool
	HoldTTL time.Duration
}

func NewPgLedger(db *pgxpool.Pool, holdTTL time.Duration) *PgLedger {
	if holdTTL <= 0 {
		holdTTL = 5 * time.Minute
	}
	return &PgLedger{DB: db, HoldTTL: holdTTL}
}

func (l *PgLedger) Reserve(ctx context.Context, sagaID, productID, locationID string, qty int) (ReservationToken, error) {
	if qty <= 0 {
		return ReservationToken{}, ErrInvalidQuantity
	}

	// idempotent short-circuit: token non-RELEASED untuk (saga, product) sudah ada
	if tok, err := l.tokenBySagaProduct(ctx, sagaID, productID); err == nil {
		return tok, nil
	} else if !errors.Is(err, ErrTokenNotFound) {
		return ReservationToken{}, err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReservationToken{}, err
	}
	defer tx.Rollback(ctx)

	// lock stok per (product, location) — FOR UPDATE
	var rec StockRecord
	if locationID != "" {
		err = tx.QueryRow(ctx, `
			SELECT product_id, location_id, quantity, reserved
			FROM stock_records
			WHERE product_id=$1 AND location_id=$2
			FOR UPDATE`, productID, locationID).
			Scan(&rec.ProductID, &rec.LocationID, &rec.Quantity, &rec.Reserved)
	} else {
		// lokasi dengan available terbesar; tie-break location_id terkecil
		err = tx.QueryRow(ctx, `
			SELECT product_id, location_id, quantity, reserved
			FROM stock_records
			WHERE product_id=$1 AND quantity - reserved >= $2
			ORDER BY quantity - reserved DESC, location_id ASC
			LIMIT 1
			FOR UPDATE`, productID, qty).
			Scan(&rec.ProductID, &rec.LocationID, &rec.Quantity, &rec.Reserved)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ReservationToken{}, ErrInsufficientStock
	}
	if err != nil {
		return ReservationToken{}, err
	}
	if rec.Available() < qty {
		return ReservationToken{}, ErrInsufficientStock
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_records SET reserved = reserved + $3, updated_at = now()
		WHERE product_id=$1 AND location_id=$2`,
		rec.ProductID, rec.LocationID, qty); err != nil {
		return ReservationToken{}, err
	}

	now := time.Now().UTC()
	tok := ReservationToken{
		ID:         uuid.NewString(),
		SagaID:     sagaID,
		ProductID:  rec.ProductID,
		LocationID: rec.LocationID,
		Qty:        qty,
		State:      TokenHeld,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.HoldTTL),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservation_tokens(id, saga_id, product_id, location_id, qty, state, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tok.ID, tok.SagaID, tok.ProductID, tok.LocationID, tok.Qty, tok.State, tok.CreatedAt, tok.ExpiresAt); err != nil {
		return ReservationToken{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ReservationToken{}, err
	}
	return tok, nil
}

func (l *PgLedger) Commit(ctx context.Context, tokenID string) error {
	return l.transition(ctx, tokenID, TokenCommitted)
}

func (l *PgLedger) Release(ctx context.Context, tokenID string) error {
	return l.transition(ctx, tokenID, TokenReleased)
}

// transition meng-lock token + record-nya dalam satu tx. Transisi ulang ke
// state yang sama = no-op sukses (idempotent resume setelah crash).
func (l *PgLedger) transition(ctx context.Context, tokenID string, to TokenState) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tok ReservationToken
	err = tx.QueryRow(ctx, `
		SELECT id, saga_id, product_id, location_id, qty, state
		FROM reservation_tokens WHERE id=$1
		FOR UPDATE`, tokenID).
		Scan(&tok.ID, &tok.SagaID, &tok.ProductID, &tok.LocationID, &tok.Qty, &tok.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}

	if tok.State == to {
		return nil // sudah di state tujuan
	}
	if tok.State != TokenHeld {
		return fmt.Errorf("token %s is %s: %w", tokenID, tok.State, ErrInvalidTokenState)
	}

	var stmt string
	switch to {
	case TokenCommitted:
		stmt = `UPDATE stock_records SET quantity = quantity - $3, reserved = reserved - $3, updated_at = now()
			WHERE product_id=$1 AND location_id=$2`
	case TokenReleased:
		stmt = `UPDATE stock_records SET reserved = reserved - $3, updated_at = now()
			WHERE product_id=$1 AND location_id=$2`
	default:
		return ErrInvalidTokenState
	}
	if _, err := tx.Exec(ctx, stmt, tok.ProductID, tok.LocationID, tok.Qty); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE reservation_tokens SET state=$2 WHERE id=$1`, tokenID, to); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PgLedger) ExpireStaleHolds(ctx context.Context, now time.Time) (int, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id FROM reservation_tokens WHERE state='HELD' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		// Release per token, lock per record; token yang keburu commit/release
		// di antara select dan sini bukan masalah (idempotent).
		if err := l.Release(ctx, id); err != nil {
			if errors.Is(err, ErrInvalidTokenState) || errors.Is(err, ErrTokenNotFound) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (l *PgLedger) AddStock(ctx context.Context, productID, locationID string, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	var rec StockRecord
	err := l.DB.QueryRow(ctx, `
		INSERT INTO stock_records(product_id, location_id, quantity, reserved)
		VALUES ($1,$2,$3,0)
		ON CONFLICT (product_id, location_id)
		DO UPDATE SET quantity = stock_records.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING product_id, location_id, quantity, reserved, updated_at`,
		productID, locationID, qty).
		Scan(&rec.ProductID, &rec.LocationID, &rec.Quantity, &rec.Reserved, &rec.UpdatedAt)
	return rec, err
}

func (l *PgLedger) ListByProduct(ctx context.Context, productID string) ([]StockRecord, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT product_id, location_id, quantity, reserved, updated_at
		FROM stock_records WHERE product_id=$1 ORDER BY location_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockRecord
	for rows.Next() {
		var r StockRecord
		if err := rows.Scan(&r.ProductID, &r.LocationID, &r.Quantity, &r.Reserved, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *PgLedger) tokenBySagaProduct(ctx context.Context, sagaID, productID string) (ReservationToken, error) {
	var tok ReservationToken
	err := l.DB.QueryRow(ctx, `
		SELECT id, saga_id, product_id, location_id, qty, state, created_at, expires_at
		FROM reservation_tokens
		WHERE saga_id=$1 AND product_id=$2 AND state <> 'RELEASED'`,
		sagaID, productID).
		Scan(&tok.ID, &tok.SagaID, &tok.ProductID, &tok.LocationID, &tok.Qty, &tok.State, &tok.CreatedAt, &tok.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReservationToken{}, ErrTokenNotFound
	}
	return tok, err
}
