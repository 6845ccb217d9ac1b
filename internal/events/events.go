package events

import (
	"encoding/json"
	"time"
)

const (
	EventSagaSubmitted = "SagaSubmitted"
	EventSagaCompleted = "SagaCompleted"
	EventSagaFailed    = "SagaFailed"
)

const (
	TopicSagaSubmitted = "order.saga.submitted"
	TopicSagaCompleted = "order.saga.completed"
	TopicSagaFailed    = "order.saga.failed"
)

// Partition key = saga_id, supaya semua event 1 saga maintain urutan.
func PartitionKey(sagaID string) []byte { return []byte(sagaID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // saga_id
	Payload       json.RawMessage `json:"payload"`
}

type SagaSubmittedPayload struct {
	SagaID  string `json:"saga_id"`
	BuyerID string `json:"buyer_id"`
}

type SagaCompletedPayload struct {
	SagaID     string `json:"saga_id"`
	OrderID    string `json:"order_id"`
	TotalCents int    `json:"total_cents"`
	TrackingID string `json:"tracking_id,omitempty"`
}

type SagaFailedPayload struct {
	SagaID      string `json:"saga_id"`
	Reason      string `json:"reason"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}
