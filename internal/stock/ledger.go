package stock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientStock adalah outcome bisnis normal, bukan system failure.
	// Caller tidak boleh retry buta — availability harus dicek ulang.
	ErrInsufficientStock = errors.New("insufficient stock available")
	ErrTokenNotFound     = errors.New("reservation token not found")
	ErrInvalidTokenState = errors.New("invalid reservation token state")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
)

type TokenState string

const (
	TokenHeld      TokenState = "HELD"
	TokenCommitted TokenState = "COMMITTED"
	TokenReleased  TokenState = "RELEASED"
)

// StockRecord: satu baris per (product_id, location_id).
// Invariant: 0 <= Reserved <= Quantity.
type StockRecord struct {
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	Quantity   int       `json:"quantity"`
	Reserved   int       `json:"reserved"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r StockRecord) Available() int { return r.Quantity - r.Reserved }

// ReservationToken: hold terhadap satu StockRecord atas nama satu saga.
// Terminal state (COMMITTED/RELEASED) final — token tidak transisi dua kali.
type ReservationToken struct {
	ID         string     `json:"token_id"`
	SagaID     string     `json:"saga_id"`
	ProductID  string     `json:"product_id"`
	LocationID string     `json:"location_id"`
	Qty        int        `json:"qty"`
	State      TokenState `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Ledger menyediakan operasi reserve/commit/release yang atomik per record.
// Dua Reserve konkuren yang jumlahnya melebihi available tidak boleh dua-duanya
// sukses.
type Ledger interface {
	// Reserve menahan qty unit untuk saga. locationID kosong berarti ledger
	// memilih lokasi dengan available terbesar (tie-break: location_id terkecil).
	// Idempotent per (saga_id, product_id): token non-RELEASED yang sudah ada
	// dikembalikan lagi, tidak bikin hold ganda.
	Reserve(ctx context.Context, sagaID, productID, locationID string, qty int) (ReservationToken, error)

	// Commit mengubah hold jadi pengurangan fisik (quantity -= qty).
	// Idempotent: commit token yang sudah COMMITTED = no-op sukses.
	Commit(ctx context.Context, tokenID string) error

	// Release mengembalikan hold ke availability. Hanya valid dari HELD;
	// release token COMMITTED adalah error (butuh jalur Return terpisah
	// karena mengubah quantity). Idempotent untuk token yang sudah RELEASED.
	Release(ctx context.Context, tokenID string) error

	// ExpireStaleHolds me-release semua token HELD dengan expires_at < now.
	// Mengembalikan jumlah token yang di-release.
	ExpireStaleHolds(ctx context.Context, now time.Time) (int, error)

	// AddStock menambah quantity di satu lokasi (bikin record kalau belum ada).
	AddStock(ctx context.Context, productID, locationID string, qty int) (StockRecord, error)

	ListByProduct(ctx context.Context, productID string) ([]StockRecord, error)
}
