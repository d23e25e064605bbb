package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

func usageFixture(t *testing.T, queue int) (*testEnv, *UsageRecorder, *metrics.Metrics, string) {
	t.Helper()
	env := grantFixture(t)
	req := submit(t, env, "U", models.LevelDownload, nil)
	g, err := env.engine.Approve(context.Background(), "R", req.ID, Decision{})
	require.NoError(t, err)

	mt := metrics.New(prometheus.NewRegistry())
	rec := NewUsageRecorder(nil, env.rm, queue, logging.Nop(), mt)
	rec.now = env.clock.Now
	return env, rec, mt, g.ID
}

func TestUsageRecorder_AppliesEvents(t *testing.T) {
	env, rec, _, grantID := usageFixture(t, 8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(ctx, grantID, models.UsageView)
	rec.Record(ctx, grantID, models.UsageView)
	rec.Record(ctx, grantID, models.UsageDownload)
	cancel()
	<-done

	g, err := env.rm.Grants(nil).GetByID(context.Background(), grantID)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ViewCount)
	assert.Equal(t, 1, g.DownloadCount)
	require.NotNil(t, g.LastAccessedAt)
	assert.Equal(t, env.clock.Now(), *g.LastAccessedAt)
}

func TestUsageRecorder_FullQueueDrops(t *testing.T) {
	_, rec, mt, grantID := usageFixture(t, 1)
	ctx := context.Background()

	start := time.Now()
	rec.Record(ctx, grantID, models.UsageView)
	rec.Record(ctx, grantID, models.UsageView)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.UsageDropped))
}

func TestUsageRecorder_FailuresCounted(t *testing.T) {
	env, rec, mt, grantID := usageFixture(t, 2)
	env.st.usageErr = errors.New("deadlock detected")

	rec.Record(context.Background(), grantID, models.UsageView)
	rec.drain()

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.UsageFailures))
}
