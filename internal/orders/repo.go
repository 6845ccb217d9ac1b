package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

// Insert: idempotent via saga_id (unique). Crash antara insert dan pencatatan
// order_id di saga -> resume ketemu row existing, tidak dobel.
func (r *Repo) Insert(ctx context.Context, o Order, items []Item) (string, error) {
	// cek existing by saga_id
	var existing string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE saga_id=$1`, o.SagaID).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	orderID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, saga_id, buyer_id, total_cents, status, shipping_address, payment_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		orderID, o.SagaID, o.BuyerID, o.TotalCents, StatusPending, o.ShippingAddress, o.PaymentMethod); err != nil {
		return "", err
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1,$2,$3,$4)`,
			orderID, it.ProductID, it.Qty, it.PriceCents); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return orderID, nil
}

// MarkCancelled: kompensasi tidak pernah delete row order — audit trail.
func (r *Repo) MarkCancelled(ctx context.Context, orderID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, StatusCancelled)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, []Item, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, saga_id, buyer_id, total_cents, status, shipping_address, payment_method, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.SagaID, &o.BuyerID, &o.TotalCents, &o.Status, &o.ShippingAddress, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, nil, ErrNotFound
	}
	if err != nil {
		return Order{}, nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, qty, price_cents FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, nil, err
		}
		items = append(items, it)
	}
	return o, items, rows.Err()
}
