package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

type usageEvent struct {
	grantID string
	kind    models.UsageKind
	at      time.Time
}

// UsageRecorder updates grant counters off the delivery path. Record never
// blocks: when the queue is full the event is dropped and counted.
type UsageRecorder struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	events      chan usageEvent
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewUsageRecorder(db *sql.DB, m repomanager.RepositoryManager, queueSize int, logger logging.Logger, mt *metrics.Metrics) *UsageRecorder {
	if queueSize < 1 {
		queueSize = 1
	}
	return &UsageRecorder{
		db:          db,
		repomanager: m,
		events:      make(chan usageEvent, queueSize),
		logger:      logger.With("module", "usage"),
		metrics:     mt,
		now:         time.Now,
	}
}

func (r *UsageRecorder) Record(ctx context.Context, grantID string, kind models.UsageKind) {
	select {
	case r.events <- usageEvent{grantID: grantID, kind: kind, at: r.now()}:
	default:
		r.metrics.UsageQueueFull()
		r.logger.Warn(ctx, "usage queue full, event dropped", "grant_id", grantID, "kind", kind)
	}
}

// Run applies queued events until ctx is cancelled, then drains what is
// already queued.
func (r *UsageRecorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.events:
			r.apply(ctx, ev)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *UsageRecorder) drain() {
	ctx := context.Background()
	for {
		select {
		case ev := <-r.events:
			r.apply(ctx, ev)
		default:
			return
		}
	}
}

func (r *UsageRecorder) apply(ctx context.Context, ev usageEvent) {
	if err := r.repomanager.Grants(r.db).RecordUsage(ctx, ev.grantID, ev.kind, ev.at); err != nil {
		r.metrics.UsageFailed()
		r.logger.Error(ctx, "failed to record grant usage", "grant_id", ev.grantID, "kind", ev.kind, "error", err)
	}
}
