package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-saga.git/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga.git/internal/kafka"
	"github.com/ariefcatur/go-order-saga.git/internal/redisx"
)

// Worker: handler consumer untuk topic saga.submitted.
type Worker struct {
	Coordinator *Coordinator
	Redis       *redis.Client
	Service     string
}

func (w *Worker) HandleSubmitted(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != events.EventSagaSubmitted {
		return nil // ignore
	}

	// dedup via Redis (pakai event_id); Run sendiri idempotent, ini cuma
	// ngirit kerja saat rebalance/redelivery
	if w.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, w.Service, env.EventID)
		if ok, _ := redisx.Exists(ctx, w.Redis, dkey); ok {
			return nil
		}
		_ = w.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[events.SagaSubmittedPayload](env.Payload)
	if err != nil {
		return err
	}
	return w.Coordinator.Run(ctx, p.SagaID)
}
