package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
)

// DefaultSweepInterval bounds how long a lapsed grant keeps its APPROVED
// label. Access decisions never wait for it.
const DefaultSweepInterval = 5 * time.Minute

// ExpirySweeper runs GrantEngine.SweepExpired periodically.
type ExpirySweeper struct {
	engine   *GrantEngine
	interval time.Duration
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewExpirySweeper(engine *GrantEngine, interval time.Duration, logger logging.Logger, mt *metrics.Metrics) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		engine:   engine,
		interval: interval,
		logger:   logger.With("module", "sweeper"),
		metrics:  mt,
	}
}

// RunOnce performs a single sweep.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.engine.SweepExpired(ctx)
	s.metrics.Sweep(n, time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Error(ctx, "expiry sweep failed", "error", err)
	}
	return n, err
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}
