package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-saga.git/internal/kafka"
)

// Emitter publish lifecycle event saga. Producer yang nil di-skip, jadi api
// cukup bawa Submitted dan worker cukup Completed+Failed.
type Emitter struct {
	Submitted *kafkax.Producer
	Completed *kafkax.Producer
	Failed    *kafkax.Producer
	Service   string
}

func (e *Emitter) SagaSubmitted(sagaID, buyerID, trace string) {
	e.publish(e.Submitted, EventSagaSubmitted, sagaID, trace,
		SagaSubmittedPayload{SagaID: sagaID, BuyerID: buyerID})
}

func (e *Emitter) SagaCompleted(ctx context.Context, sagaID, orderID string, totalCents int, trackingID string) {
	e.publish(e.Completed, EventSagaCompleted, sagaID, "",
		SagaCompletedPayload{SagaID: sagaID, OrderID: orderID, TotalCents: totalCents, TrackingID: trackingID})
}

func (e *Emitter) SagaFailed(ctx context.Context, sagaID, reason string, needsReview bool) {
	e.publish(e.Failed, EventSagaFailed, sagaID, "",
		SagaFailedPayload{SagaID: sagaID, Reason: reason, NeedsReview: needsReview})
}

func (e *Emitter) publish(p *kafkax.Producer, eventType, sagaID, trace string, payload any) {
	if p == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		TraceID:       trace,
		CorrelationID: sagaID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(sagaID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
