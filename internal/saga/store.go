package saga

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("saga not found")

	// ErrConflict: upsert ditolak karena row sudah terminal — ada proses lain
	// yang menyelesaikan saga ini (mis. recovery sweep vs worker).
	ErrConflict = errors.New("saga already finalized")

	// ErrCancelTooLate: cancel hanya boleh sebelum ada reservation.
	ErrCancelTooLate = errors.New("saga can no longer be cancelled")
)

// Store: record durable progress saga untuk crash recovery dan idempotency.
// Save dipanggil write-before-effect: state step berikutnya ditulis dulu
// sebelum efek eksternal dijalankan.
type Store interface {
	// Create menyimpan saga baru. Kalau ExternalID sudah pernah dipakai,
	// saga existing dikembalikan dengan existed=true (submit idempotent).
	Create(ctx context.Context, s *OrderSaga) (canonical *OrderSaga, existed bool, err error)

	// Save upsert keyed by saga_id. Return ErrConflict kalau row sudah terminal.
	Save(ctx context.Context, s *OrderSaga) error

	Load(ctx context.Context, sagaID string) (*OrderSaga, error)

	// FindIncomplete: saga non-terminal tanpa progress sejak olderThan,
	// bahan recovery sweep.
	FindIncomplete(ctx context.Context, olderThan time.Time) ([]string, error)

	// TryCancel menandai FAILED hanya jika state masih STARTED/VALIDATING.
	TryCancel(ctx context.Context, sagaID, reason string) error
}
