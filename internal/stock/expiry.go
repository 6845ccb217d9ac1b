package stock

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpirySweeper me-release hold basi secara periodik supaya checkout yang
// ditinggal tidak mengunci stok selamanya.
type ExpirySweeper struct {
	Ledger   Ledger
	Interval time.Duration
}

func (s *ExpirySweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := s.Ledger.ExpireStaleHolds(ctx, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("expire stale holds failed")
				continue
			}
			if n > 0 {
				log.Info().Int("released", n).Msg("released expired holds")
			}
		}
	}
}
