package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

const purgeBatchSize = 100

// RenditionJanitor keeps track of the plaintext copies the gate renders for
// presigned downloads and deletes them from the blob store once they are
// due: when the presign TTL passes, or earlier when the grant they were
// rendered under is revoked, superseded or swept.
type RenditionJanitor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewRenditionJanitor(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store,
	logger logging.Logger, mt *metrics.Metrics) *RenditionJanitor {
	return &RenditionJanitor{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		logger:      logger.With("module", "renditions"),
		metrics:     mt,
		now:         time.Now,
	}
}

// Track records r. It must be called before the blob is written so that no
// copy exists without a row pointing at it.
func (j *RenditionJanitor) Track(ctx context.Context, r *models.Rendition) error {
	if err := j.repomanager.Renditions(j.db).Create(ctx, r); err != nil {
		return fmt.Errorf("error tracking rendition: %w", err)
	}
	return nil
}

// Purge deletes every due rendition, blob first and row second. A blob
// that cannot be deleted keeps its row and is retried on the next purge.
func (j *RenditionJanitor) Purge(ctx context.Context) (int, error) {
	repo := j.repomanager.Renditions(j.db)

	var (
		purged int
		errs   []error
	)
	for {
		due, err := repo.ListDue(ctx, j.now(), purgeBatchSize)
		if err != nil {
			return purged, err
		}

		progress := 0
		for _, r := range due {
			if err := j.blobs.Delete(ctx, r.StorageKey); err != nil && !errors.Is(err, common.ErrorNotFound) {
				j.logger.Warn(ctx, "rendition blob not deleted", "key", r.StorageKey, "error", err)
				errs = append(errs, err)
				continue
			}
			if err := repo.Delete(ctx, r.StorageKey); err != nil {
				errs = append(errs, err)
				continue
			}
			progress++
		}
		purged += progress

		if len(due) < purgeBatchSize || progress == 0 {
			break
		}
	}

	j.metrics.Purged(purged)
	if purged > 0 {
		j.logger.Info(ctx, "renditions purged", "count", purged)
	}
	return purged, errors.Join(errs...)
}
