package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

// Operation is what a caller wants to do with a manuscript.
type Operation string

const (
	OpViewMetadata Operation = "viewMetadata"
	OpViewContent  Operation = "viewContent"
	OpDownload     Operation = "download"
)

// Required returns the minimum access level for o.
func (o Operation) Required() (models.AccessLevel, bool) {
	switch o {
	case OpViewMetadata:
		return models.LevelViewMetadata, true
	case OpViewContent:
		return models.LevelViewContent, true
	case OpDownload:
		return models.LevelDownload, true
	}
	return models.LevelNone, false
}

// Permit is a positive access decision.
type Permit struct {
	Operation  Operation
	Level      models.AccessLevel
	Basis      Basis
	Manuscript *models.Manuscript
	Grant      *models.ManuscriptAccess
}

// WatermarkID returns the identifier of the grant the permit rests on, or
// "" for owners and admins.
func (p *Permit) WatermarkID() string {
	if p.Grant == nil {
		return ""
	}
	return p.Grant.WatermarkID
}

// Content is a decrypted delivery.
type Content struct {
	Permit      *Permit
	Data        []byte
	MimeType    string
	WatermarkID string
}

// DownloadLink is a signed temporary pointer to a rendered copy.
type DownloadLink struct {
	URL         string
	StorageKey  string
	WatermarkID string
	ExpiresAt   time.Time
}

// Renderer embeds a watermark identifier into a delivered artifact.
type Renderer interface {
	Render(ctx context.Context, data []byte, mimeType, watermarkID string) ([]byte, error)
}

// PassthroughRenderer returns content unchanged. It stands in where no
// rendering service is configured; the watermark id is still reported to
// the caller alongside the content.
type PassthroughRenderer struct{}

func (PassthroughRenderer) Render(_ context.Context, data []byte, _, _ string) ([]byte, error) {
	return data, nil
}

// UsageSink receives best-effort usage events for grants.
type UsageSink interface {
	Record(ctx context.Context, grantID string, kind models.UsageKind)
}

// ContentGate decides whether a caller may see, read or download a
// manuscript and performs the delivery.
type ContentGate struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      *GrantEngine
	sealer      *cryptox.Sealer
	blobs       blobstore.Store
	renditions  *RenditionJanitor
	renderer    Renderer
	usage       UsageSink
	presignTTL  time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewContentGate(db *sql.DB, m repomanager.RepositoryManager, engine *GrantEngine, sealer *cryptox.Sealer,
	blobs blobstore.Store, renditions *RenditionJanitor, renderer Renderer, usage UsageSink, presignTTL time.Duration,
	logger logging.Logger, mt *metrics.Metrics) *ContentGate {
	return &ContentGate{
		db:          db,
		repomanager: m,
		engine:      engine,
		sealer:      sealer,
		blobs:       blobs,
		renditions:  renditions,
		renderer:    renderer,
		usage:       usage,
		presignTTL:  presignTTL,
		logger:      logger.With("module", "gate"),
		metrics:     mt,
		now:         time.Now,
	}
}

// baseline is what anyone gets from visibility alone.
func baseline(m *models.Manuscript, authenticated bool) models.AccessLevel {
	switch m.Visibility {
	case models.VisibilityPublic:
		return models.LevelViewMetadata
	case models.VisibilityRestricted:
		if authenticated {
			return models.LevelViewMetadata
		}
	}
	return models.LevelNone
}

func (g *ContentGate) deny(ctx context.Context, op Operation, reason string, args ...any) error {
	g.metrics.Decision(string(op), metrics.OutcomeDeny)
	g.logger.Info(ctx, "access denied", append([]any{"operation", op, "reason", reason}, args...)...)
	return common.ErrInsufficientAccess
}

// AuthorizeContentAccess decides whether a caller may perform op on a
// manuscript.
//
// The caller's level is the higher of the visibility baseline and the
// effective capability: FULL_ACCESS for the owner and for ADMIN, or the
// level of an effectively active grant. Admin access is permitted but
// logged. Every decision is counted in the metrics.
//
// Parameters:
//   - ctx: request context.
//   - userID: the authenticated caller, or "" for an anonymous one.
//   - manuscriptID: the manuscript to check.
//   - op: viewMetadata, viewContent or download.
//
// Returns:
//   - a Permit naming the level and its basis; Grant is set only when the
//     decision rests on a grant.
//   - common.ErrInsufficientAccess on denial. For anonymous callers a
//     missing manuscript is reported the same way, so existence does not
//     leak; authenticated callers get common.ErrorNotFound.
//   - common.ErrValidation for an unknown operation.
func (g *ContentGate) AuthorizeContentAccess(ctx context.Context, userID, manuscriptID string, op Operation) (*Permit, error) {
	required, ok := op.Required()
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", common.ErrValidation, op)
	}

	m, err := g.repomanager.Manuscripts(g.db).GetByID(ctx, manuscriptID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) && userID == "" {
			return nil, g.deny(ctx, op, "no such manuscript", "manuscript_id", manuscriptID)
		}
		return nil, err
	}

	var user *models.User
	if userID != "" {
		user, err = g.repomanager.Users(g.db).GetByID(ctx, userID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
	}

	c, err := g.engine.capability(ctx, user, m)
	if err != nil {
		return nil, err
	}

	level, basis := c.Level, c.Basis
	if base := baseline(m, user != nil && user.Active); base > level {
		level, basis = base, BasisNone
	}

	if !level.AtLeast(required) {
		return nil, g.deny(ctx, op, "level below required", "manuscript_id", m.ID, "user_id", userID,
			"level", level, "required", required)
	}

	if c.Basis == BasisAdmin {
		g.logger.Info(ctx, "admin access to manuscript", "manuscript_id", m.ID, "user_id", userID, "operation", op)
	}
	g.metrics.Decision(string(op), metrics.OutcomePermit)

	p := &Permit{Operation: op, Level: level, Basis: basis, Manuscript: m}
	if basis == BasisGrant {
		p.Grant = c.Grant
	}
	return p, nil
}

// Deliver authorizes op (viewContent or download), decrypts the stored file
// and, for downloads, renders the grant's watermark into it. Usage is
// recorded best-effort and never blocks delivery.
func (g *ContentGate) Deliver(ctx context.Context, userID, manuscriptID string, op Operation) (*Content, error) {
	if op != OpViewContent && op != OpDownload {
		return nil, fmt.Errorf("%w: %q carries no content", common.ErrValidation, op)
	}

	permit, err := g.AuthorizeContentAccess(ctx, userID, manuscriptID, op)
	if err != nil {
		return nil, err
	}

	m := permit.Manuscript
	if !m.HasFile() {
		return nil, common.ErrorNotFound
	}

	envelope, err := g.blobs.Get(ctx, *m.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("error reading manuscript file: %w", err)
	}

	data, err := g.sealer.DecryptFile(envelope, *m.Checksum)
	if err != nil {
		g.logger.Error(ctx, "manuscript file failed integrity check", "manuscript_id", m.ID, "error", err)
		return nil, err
	}

	var mime string
	if m.MimeType != nil {
		mime = *m.MimeType
	}
	content := &Content{Permit: permit, Data: data, MimeType: mime}

	kind := models.UsageView
	if op == OpDownload {
		kind = models.UsageDownload
		content.WatermarkID = permit.WatermarkID()
		if content.WatermarkID != "" {
			content.Data, err = g.renderer.Render(ctx, data, mime, content.WatermarkID)
			if err != nil {
				return nil, fmt.Errorf("error rendering watermark: %w", err)
			}
		}
	}

	if permit.Grant != nil {
		g.usage.Record(ctx, permit.Grant.ID, kind)
	}
	return content, nil
}

// Link renders a download and returns a presigned URL to it instead of the
// bytes. The rendered copy is tracked and purged once the URL expires or
// the grant it was made under ends.
func (g *ContentGate) Link(ctx context.Context, userID, manuscriptID string) (*DownloadLink, error) {
	content, err := g.Deliver(ctx, userID, manuscriptID, OpDownload)
	if err != nil {
		return nil, err
	}

	now := g.now()
	rd := &models.Rendition{
		StorageKey:   fmt.Sprintf("renditions/%s/%s", manuscriptID, ids.New()),
		ManuscriptID: manuscriptID,
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.presignTTL),
	}
	if grant := content.Permit.Grant; grant != nil {
		rd.GrantID = &grant.ID
	}
	if err := g.renditions.Track(ctx, rd); err != nil {
		return nil, err
	}

	if err := g.blobs.Put(ctx, rd.StorageKey, content.Data, content.MimeType); err != nil {
		return nil, fmt.Errorf("error storing rendition: %w", err)
	}

	url, err := g.blobs.PresignGet(ctx, rd.StorageKey, g.presignTTL)
	if err != nil {
		return nil, err
	}
	return &DownloadLink{
		URL:         url,
		StorageKey:  rd.StorageKey,
		WatermarkID: content.WatermarkID,
		ExpiresAt:   rd.ExpiresAt,
	}, nil
}
