package redisx

import "time"

const (
	// Idempotency submit checkout: idem:saga:submit:{external_id} -> saga_id
	KeyIdemSubmit = "idem:saga:submit:%s"

	// Cache status saga: saga_status:{saga_id} -> {"state": "...", "order_id": "..."}
	KeySagaStatus = "saga_status:%s"

	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
