package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/archivekeeper/internal/server/services"
)

// Services is the wired domain layer shared by the server and the operator
// CLI.
type Services struct {
	DB         *sql.DB
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Issuer     *auth.Issuer
	Sessions   *services.SessionService
	Users      *services.UserService
	Grants     *services.GrantEngine
	Renditions *services.RenditionJanitor
	Gate       *services.ContentGate
	Documents  *services.DocumentService
	Files      *services.ManuscriptFiles
	Usage      *services.UsageRecorder
	Sweeper    *services.ExpirySweeper
}

// newBlobStore is a seam so tests can avoid building an S3 client.
var newBlobStore = func(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	return blobstore.NewS3Store(ctx, blobstore.S3Options{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
}

// NewServices builds every domain service over db and blobs.
func NewServices(cfg *config.Config, db *sql.DB, rm repomanager.RepositoryManager, blobs blobstore.Store, logger logging.Logger) (*Services, error) {
	sealer, err := cryptox.NewSealer([]byte(cfg.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("sealer init error: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.IssuerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("issuer init error: %w", err)
	}

	reg := metrics.NewRegistry()
	mt := metrics.New(reg)

	sessions := services.NewSessionService(db, rm, issuer.RefreshTTL(), cfg.MaxConcurrentSessions, logger)
	renditions := services.NewRenditionJanitor(db, rm, blobs, logger, mt)
	engine := services.NewGrantEngine(db, rm, renditions, logger, mt)
	usage := services.NewUsageRecorder(db, rm, cfg.UsageQueueSize, logger, mt)

	users := services.NewUserService(db, rm, cfg, issuer, sessions, services.NewLogNotifier(logger), logger, mt)
	gate := services.NewContentGate(db, rm, engine, sealer, blobs, renditions, services.PassthroughRenderer{}, usage,
		cfg.PresignTTL, logger, mt)

	return &Services{
		DB:         db,
		Registry:   reg,
		Metrics:    mt,
		Issuer:     issuer,
		Sessions:   sessions,
		Users:      users,
		Grants:     engine,
		Renditions: renditions,
		Gate:       gate,
		Documents:  services.NewDocumentService(db, rm, sealer, blobs, logger),
		Files:      services.NewManuscriptFiles(db, rm, sealer, blobs, logger),
		Usage:      usage,
		Sweeper:    services.NewExpirySweeper(engine, cfg.SweepInterval, logger, mt),
	}, nil
}

// Bootstrap validates cfg, connects to the database, applies migrations
// and wires the services. The caller owns the returned DB.
func Bootstrap(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	svc, err := NewServices(cfg, db, rm, blobs, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return svc, nil
}

var openDB = repomanager.OpenDB
