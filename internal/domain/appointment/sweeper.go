package appointment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/advisa/consult/internal/platform/lock"
)

const sweepLockKey = "sweep:confirmations"

// Sweeper runs CleanupExpiredAppointments on a ticker. Instances sharing a
// distributed Locker take turns.
type Sweeper struct {
	svc    *Service
	locker lock.Locker
	logger zerolog.Logger
}

func NewSweeper(svc *Service, locker lock.Locker, logger zerolog.Logger) *Sweeper {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &Sweeper{
		svc:    svc,
		locker: locker,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps immediately and then every interval until ctx ends.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sw.logger.Info().Dur("interval", interval).Msg("confirmation sweeper started")
	for {
		if _, err := sw.RunOnce(ctx); err != nil && ctx.Err() == nil {
			sw.logger.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			sw.logger.Info().Msg("confirmation sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep under the sweep lock.
func (sw *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	unlock, err := sw.locker.Lock(ctx, sweepLockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return sw.svc.CleanupExpiredAppointments(ctx)
}
