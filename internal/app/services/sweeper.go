package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/pkg/clock"
)

// RunSweeper calls Sweep every interval until ctx is cancelled. It backs up
// the in-process timers, which are lost when a process dies.
func RunSweeper(ctx context.Context, expirer Expirer, clk clock.Clock, interval time.Duration, logger zerolog.Logger) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Ephemeral sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Ephemeral sweeper stopped")
			return
		case <-ticker.C:
			SweepOnce(ctx, expirer, interval, logger)
		}
	}
}

// SweepOnce runs a single sweep bounded by timeout
func SweepOnce(ctx context.Context, expirer Expirer, timeout time.Duration, logger zerolog.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	expired, err := expirer.Sweep(ctx)
	if err != nil {
		logger.Error().Err(err).Int("expired", expired).Msg("Ephemeral sweep failed")
	}
	return expired
}
