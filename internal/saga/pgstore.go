package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct{ DB *pgxpool.Pool }

func (p *PgStore) Create(ctx context.Context, s *OrderSaga) (*OrderSaga, bool, error) {
	// cek existing by external_id (submit idempotent)
	if s.ExternalID != "" {
		existing, err := p.loadBy(ctx, `external_id=$1`, s.ExternalID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	cart, tokens, err := marshalJSONCols(s)
	if err != nil {
		return nil, false, err
	}
	ct, err := p.DB.Exec(ctx, `
		INSERT INTO sagas(id, external_id, buyer_id, cart, shipping_address, payment_method,
		                  state, tokens, order_id, total_cents, tracking_id, failure_reason, needs_review)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (external_id) WHERE external_id <> '' DO NOTHING`,
		s.ID, s.ExternalID, s.BuyerID, cart, s.ShippingAddress, s.PaymentMethod,
		s.State, tokens, s.OrderID, s.TotalCents, s.TrackingID, s.FailureReason, s.NeedsReview)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		// kalah race sama submit kembar — ambil yang menang
		existing, err := p.loadBy(ctx, `external_id=$1`, s.ExternalID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	created, err := p.Load(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	return created, false, nil
}

func (p *PgStore) Save(ctx context.Context, s *OrderSaga) error {
	cart, tokens, err := marshalJSONCols(s)
	if err != nil {
		return err
	}
	// guard: jangan timpa saga yang sudah terminal (race worker vs sweep/cancel)
	ct, err := p.DB.Exec(ctx, `
		UPDATE sagas SET state=$2, tokens=$3, order_id=$4, total_cents=$5, tracking_id=$6,
		                 failure_reason=$7, needs_review=$8, cart=$9, updated_at=now()
		WHERE id=$1 AND state NOT IN ('COMPLETED','FAILED')`,
		s.ID, s.State, tokens, s.OrderID, s.TotalCents, s.TrackingID,
		s.FailureReason, s.NeedsReview, cart)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		existing, err := p.Load(ctx, s.ID)
		if err != nil {
			return err
		}
		if existing.State.Terminal() {
			return ErrConflict
		}
		return ErrNotFound
	}
	return nil
}

func (p *PgStore) Load(ctx context.Context, sagaID string) (*OrderSaga, error) {
	return p.loadBy(ctx, `id=$1`, sagaID)
}

func (p *PgStore) loadBy(ctx context.Context, where string, arg any) (*OrderSaga, error) {
	var (
		s            OrderSaga
		cart, tokens []byte
	)
	err := p.DB.QueryRow(ctx, `
		SELECT id, external_id, buyer_id, cart, shipping_address, payment_method,
		       state, tokens, order_id, total_cents, tracking_id, failure_reason, needs_review,
		       created_at, updated_at
		FROM sagas WHERE `+where, arg).
		Scan(&s.ID, &s.ExternalID, &s.BuyerID, &cart, &s.ShippingAddress, &s.PaymentMethod,
			&s.State, &tokens, &s.OrderID, &s.TotalCents, &s.TrackingID, &s.FailureReason, &s.NeedsReview,
			&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cart, &s.Cart); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokens, &s.Tokens); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PgStore) FindIncomplete(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT id FROM sagas
		WHERE state NOT IN ('COMPLETED','FAILED') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT 100`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PgStore) TryCancel(ctx context.Context, sagaID, reason string) error {
	ct, err := p.DB.Exec(ctx, `
		UPDATE sagas SET state='FAILED', failure_reason=$2, updated_at=now()
		WHERE id=$1 AND state IN ('STARTED','VALIDATING')`, sagaID, reason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		if _, err := p.Load(ctx, sagaID); err != nil {
			return err
		}
		return ErrCancelTooLate
	}
	return nil
}

func marshalJSONCols(s *OrderSaga) (cart, tokens []byte, err error) {
	cart, err = json.Marshal(s.Cart)
	if err != nil {
		return nil, nil, err
	}
	if s.Tokens == nil {
		return cart, []byte(`[]`), nil
	}
	tokens, err = json.Marshal(s.Tokens)
	if err != nil {
		return nil, nil, err
	}
	return cart, tokens, nil
}
