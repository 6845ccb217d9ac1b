package saga

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper me-resume saga yang macet (crash coordinator, retry habis) supaya
// stok tidak terkunci selamanya. Aman jalan bareng worker live: hanya saga
// yang tanpa progress lebih lama dari StaleAfter yang disentuh, dan Run
// sendiri idempotent.
type Sweeper struct {
	Store       Store
	Coordinator *Coordinator
	Interval    time.Duration
	StaleAfter  time.Duration
}

func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	stale := s.StaleAfter
	if stale <= 0 {
		stale = 2 * time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			ids, err := s.Store.FindIncomplete(ctx, now.UTC().Add(-stale))
			if err != nil {
				log.Warn().Err(err).Msg("recovery sweep query failed")
				continue
			}
			for _, id := range ids {
				if err := s.Coordinator.Run(ctx, id); err != nil {
					log.Warn().Err(err).Str("saga_id", id).Msg("recovery resume failed")
					continue
				}
				log.Info().Str("saga_id", id).Msg("resumed stale saga")
			}
		}
	}
}
