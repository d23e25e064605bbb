package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/grants"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

// Basis names why a capability was granted.
type Basis string

const (
	BasisNone  Basis = "none"
	BasisOwner Basis = "owner"
	BasisAdmin Basis = "admin"
	BasisGrant Basis = "grant"
)

// Capability is the result of an effective level query. Grant is set only
// for BasisGrant.
type Capability struct {
	Level models.AccessLevel
	Basis Basis
	Grant *models.ManuscriptAccess
}

// SubmitInput is a requester's petition for access.
type SubmitInput struct {
	ManuscriptID  string
	Level         models.AccessLevel
	Days          *int
	Purpose       string
	Institution   string
	Justification string
}

// Decision is a reviewer's approval. Zero Level and nil Days fall back to
// what was requested.
type Decision struct {
	Level models.AccessLevel
	Days  *int
	Notes string
}

// GrantEngine runs the access request state machine and answers capability
// queries. Every transition happens in one transaction and re-reads the
// actor's role inside it.
type GrantEngine struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	withTx      dbx.TxRunner
	renditions  *RenditionJanitor
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewGrantEngine builds a GrantEngine. renditions may be nil, in which case
// ended grants leave their download copies to the next purge elsewhere.
func NewGrantEngine(db *sql.DB, m repomanager.RepositoryManager, renditions *RenditionJanitor,
	logger logging.Logger, mt *metrics.Metrics) *GrantEngine {
	return &GrantEngine{
		db:          db,
		repomanager: m,
		withTx:      dbx.NewTxRunner(db, nil),
		renditions:  renditions,
		logger:      logger.With("module", "grants"),
		metrics:     mt,
		now:         time.Now,
	}
}

func validDays(days *int) error {
	if days != nil && *days <= 0 {
		return fmt.Errorf("%w: duration must be a positive number of days", common.ErrValidation)
	}
	return nil
}

// Submit files a PENDING request. The requester must be active and identity
// verified, must not own the manuscript, must not already hold an effective
// grant at or above the level, and must not have another pending request
// for it.
func (e *GrantEngine) Submit(ctx context.Context, requesterID string, in SubmitInput) (*models.AccessRequest, error) {
	if !in.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level", common.ErrValidation)
	}
	if err := validDays(in.Days); err != nil {
		return nil, err
	}

	m, err := e.repomanager.Manuscripts(e.db).GetByID(ctx, in.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID == requesterID {
		return nil, common.ErrAlreadyHasAccess
	}

	user, err := e.repomanager.Users(e.db).GetByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if !user.Active || user.VerificationStatus != models.VerificationVerified {
		return nil, common.ErrIdentityNotVerified
	}

	g, err := e.repomanager.Grants(e.db).FindActive(ctx, requesterID, in.ManuscriptID)
	switch {
	case err == nil:
		if g.EffectivelyActive(e.now()) && g.Level.AtLeast(in.Level) {
			return nil, common.ErrAlreadyHasAccess
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	reqs := e.repomanager.AccessRequests(e.db)
	_, err = reqs.FindPending(ctx, requesterID, in.ManuscriptID)
	switch {
	case err == nil:
		return nil, common.ErrPendingRequestExists
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	now := e.now()
	req := &models.AccessRequest{
		ID:             ids.New(),
		ManuscriptID:   in.ManuscriptID,
		RequesterID:    requesterID,
		RequestedLevel: in.Level,
		RequestedDays:  in.Days,
		Purpose:        in.Purpose,
		Institution:    in.Institution,
		Justification:  in.Justification,
		Status:         models.RequestPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := reqs.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("error creating access request: %w", err)
	}

	e.logger.Info(ctx, "access requested", "request_id", req.ID, "manuscript_id", req.ManuscriptID,
		"requester_id", requesterID, "level", in.Level)
	return req, nil
}

// canReview: REVIEWER and above, or the manuscript owner.
func canReview(actor *models.User, m *models.Manuscript) bool {
	return actor.Active && (actor.Role.AtLeast(models.RoleReviewer) || m.OwnerID == actor.ID)
}

// canRevoke: ADMIN, or the manuscript owner.
func canRevoke(actor *models.User, m *models.Manuscript) bool {
	return actor.Active && (actor.Role == models.RoleAdmin || m.OwnerID == actor.ID)
}

// reviewContext loads what a review decision needs inside tx and checks the
// actor may make it.
func (e *GrantEngine) reviewContext(ctx context.Context, tx dbx.DBTX, actorID, requestID string) (*models.AccessRequest, error) {
	req, err := e.repomanager.AccessRequests(tx).GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		e.logger.Info(ctx, "review of non-pending request", "request_id", requestID, "status", req.Status)
		return nil, common.ErrInvalidStateTransition
	}

	m, err := e.repomanager.Manuscripts(tx).GetByID(ctx, req.ManuscriptID)
	if err != nil {
		return nil, err
	}

	actor, err := e.repomanager.Users(tx).GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInsufficientAccess
		}
		return nil, err
	}
	if !canReview(actor, m) {
		e.logger.Info(ctx, "review denied", "reason", "role", "actor_id", actorID, "role", actor.Role)
		return nil, common.ErrInsufficientAccess
	}
	if actor.ID == req.RequesterID {
		e.logger.Info(ctx, "review denied", "reason", "self review", "actor_id", actorID)
		return nil, common.ErrInsufficientAccess
	}
	return req, nil
}

// Approve moves a PENDING request to APPROVED and materializes its grant.
//
// In one transaction, under the pair lock, it:
//   - expires grants of the pair that have already lapsed, relabelling
//     their requests EXPIRED;
//   - revokes the grant still in force, if any, relabelling its request
//     REVOKED;
//   - creates the new grant with a fresh watermark identifier.
//
// Download copies rendered under the replaced grants are purged after the
// transaction commits.
//
// Parameters:
//   - ctx: request context.
//   - actorID: the reviewer; must be REVIEWER or above, or own the
//     manuscript, and must not be the requester.
//   - requestID: the PENDING request to approve.
//   - d: the decision; zero Level and nil Days keep what was requested.
//
// Returns:
//   - the new grant.
//   - common.ErrInvalidStateTransition if the request is no longer PENDING,
//     common.ErrInsufficientAccess if the actor may not review it, or
//     common.ErrValidation for a bad level or duration.
func (e *GrantEngine) Approve(ctx context.Context, actorID, requestID string, d Decision) (*models.ManuscriptAccess, error) {
	if d.Level != models.LevelNone && !d.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level", common.ErrValidation)
	}
	if err := validDays(d.Days); err != nil {
		return nil, err
	}

	var grant *models.ManuscriptAccess
	err := e.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		req, err := e.reviewContext(ctx, tx, actorID, requestID)
		if err != nil {
			return err
		}

		level := d.Level
		if level == models.LevelNone {
			level = req.RequestedLevel
		}
		days := d.Days
		if days == nil {
			days = req.RequestedDays
		}

		now := e.now()
		reqs := e.repomanager.AccessRequests(tx)
		grantRepo := e.repomanager.Grants(tx)

		if err := grantRepo.LockPair(ctx, req.RequesterID, req.ManuscriptID); err != nil {
			return err
		}

		review := accessrequests.Review{
			ReviewerID:    actorID,
			ApprovedLevel: level,
			ApprovedDays:  days,
			At:            now,
		}
		if notes := strings.TrimSpace(d.Notes); notes != "" {
			review.Notes = &notes
		}
		if err := reqs.Approve(ctx, req.ID, review); err != nil {
			return err
		}

		lapsed, err := grantRepo.ExpireLapsedPair(ctx, req.RequesterID, req.ManuscriptID, now)
		if err != nil {
			return err
		}
		for _, l := range lapsed {
			if l.RequestID == nil {
				continue
			}
			if _, err := reqs.MarkExpired(ctx, *l.RequestID, now); err != nil {
				return err
			}
		}

		superseded, err := grantRepo.RevokeActive(ctx, req.RequesterID, req.ManuscriptID, grants.Revocation{
			ActorID: actorID,
			Reason:  "superseded by request " + req.ID,
			At:      now,
		})
		if err != nil {
			return err
		}
		for _, prev := range superseded {
			if prev == "" || prev == req.ID {
				continue
			}
			if err := reqs.MarkRevoked(ctx, prev, now); err != nil && !errors.Is(err, common.ErrInvalidStateTransition) {
				return err
			}
		}
		if _, err := e.repomanager.Renditions(tx).ExpireByPair(ctx, req.RequesterID, req.ManuscriptID, now); err != nil {
			return err
		}

		grant = &models.ManuscriptAccess{
			ID:           ids.New(),
			ManuscriptID: req.ManuscriptID,
			UserID:       req.RequesterID,
			RequestID:    &req.ID,
			Level:        level,
			GrantedBy:    actorID,
			GrantedAt:    now,
			Active:       true,
			WatermarkID:  ids.Watermark(),
		}
		if days != nil {
			exp := now.Add(time.Duration(*days) * 24 * time.Hour)
			grant.ExpiresAt = &exp
		}
		return grantRepo.Create(ctx, grant)
	})
	if err != nil {
		return nil, err
	}

	e.purgeRenditions(ctx)
	e.metrics.Transition(string(models.RequestApproved))
	e.logger.Info(ctx, "access approved", "request_id", requestID, "grant_id", grant.ID,
		"actor_id", actorID, "level", grant.Level, "watermark_id", grant.WatermarkID)
	return grant, nil
}

// Reject moves a PENDING request to REJECTED. Notes are mandatory.
func (e *GrantEngine) Reject(ctx context.Context, actorID, requestID, notes string) (*models.AccessRequest, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("%w: review notes are required to reject", common.ErrValidation)
	}

	var req *models.AccessRequest
	err := e.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		req, err = e.reviewContext(ctx, tx, actorID, requestID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.repomanager.AccessRequests(tx).Reject(ctx, req.ID, accessrequests.Review{
			ReviewerID: actorID,
			Notes:      &notes,
			At:         now,
		}); err != nil {
			return err
		}

		req.Status = models.RequestRejected
		req.ReviewerID = &actorID
		req.ReviewNotes = &notes
		req.ReviewedAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Transition(string(models.RequestRejected))
	e.logger.Info(ctx, "access rejected", "request_id", requestID, "actor_id", actorID)
	return req, nil
}

// Revoke ends the active grant of userID on manuscriptID immediately, marks
// its originating request REVOKED and purges the download copies rendered
// for the pair. A reason is mandatory.
func (e *GrantEngine) Revoke(ctx context.Context, actorID, manuscriptID, userID, reason string) (*models.ManuscriptAccess, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required to revoke", common.ErrValidation)
	}

	var revoked *models.ManuscriptAccess
	err := e.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		m, err := e.repomanager.Manuscripts(tx).GetByID(ctx, manuscriptID)
		if err != nil {
			return err
		}

		actor, err := e.repomanager.Users(tx).GetByID(ctx, actorID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInsufficientAccess
			}
			return err
		}
		if !canRevoke(actor, m) {
			e.logger.Info(ctx, "revoke denied", "reason", "role", "actor_id", actorID, "role", actor.Role)
			return common.ErrInsufficientAccess
		}

		grantRepo := e.repomanager.Grants(tx)
		if err := grantRepo.LockPair(ctx, userID, manuscriptID); err != nil {
			return err
		}
		g, err := grantRepo.FindActive(ctx, userID, manuscriptID)
		if err != nil {
			return err
		}

		now := e.now()
		revoked, err = grantRepo.Revoke(ctx, g.ID, grants.Revocation{ActorID: actorID, Reason: reason, At: now})
		if err != nil {
			return err
		}

		if revoked.RequestID != nil {
			err := e.repomanager.AccessRequests(tx).MarkRevoked(ctx, *revoked.RequestID, now)
			if err != nil && !errors.Is(err, common.ErrInvalidStateTransition) {
				return err
			}
		}
		_, err = e.repomanager.Renditions(tx).ExpireByPair(ctx, userID, manuscriptID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.purgeRenditions(ctx)

	e.metrics.Transition(string(models.RequestRevoked))
	e.logger.Info(ctx, "access revoked", "grant_id", revoked.ID, "actor_id", actorID, "user_id", userID,
		"manuscript_id", manuscriptID, "reason", reason)
	return revoked, nil
}

// purgeRenditions deletes the copies a committed transition made due.
// Failures are only logged; the rows stay and the next sweep retries them.
func (e *GrantEngine) purgeRenditions(ctx context.Context) {
	if e.renditions == nil {
		return
	}
	if _, err := e.renditions.Purge(ctx); err != nil {
		e.logger.Warn(ctx, "rendition purge incomplete", "error", err)
	}
}

// capability resolves what user may do on m from ownership, role and grants.
// A nil user has no capability.
func (e *GrantEngine) capability(ctx context.Context, user *models.User, m *models.Manuscript) (*Capability, error) {
	if user == nil || !user.Active {
		return &Capability{Level: models.LevelNone, Basis: BasisNone}, nil
	}
	if m.OwnerID == user.ID {
		return &Capability{Level: models.LevelFullAccess, Basis: BasisOwner}, nil
	}
	if user.Role == models.RoleAdmin {
		return &Capability{Level: models.LevelFullAccess, Basis: BasisAdmin}, nil
	}

	g, err := e.repomanager.Grants(e.db).FindActive(ctx, user.ID, m.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &Capability{Level: models.LevelNone, Basis: BasisNone}, nil
		}
		return nil, err
	}
	if !g.EffectivelyActive(e.now()) {
		e.logger.Debug(ctx, "grant lapsed but not yet swept", "grant_id", g.ID)
		return &Capability{Level: models.LevelNone, Basis: BasisNone}, nil
	}
	return &Capability{Level: g.Level, Basis: BasisGrant, Grant: g}, nil
}

// EffectiveLevel returns what userID may do on manuscriptID right now:
// FULL_ACCESS for the owner and for ADMIN (Basis tells the caller which,
// so the break-glass path can be audited), the level of an effectively
// active grant, or LevelNone.
func (e *GrantEngine) EffectiveLevel(ctx context.Context, userID, manuscriptID string) (*Capability, error) {
	m, err := e.repomanager.Manuscripts(e.db).GetByID(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	user, err := e.repomanager.Users(e.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &Capability{Level: models.LevelNone, Basis: BasisNone}, nil
		}
		return nil, err
	}
	return e.capability(ctx, user, m)
}

// SweepExpired deactivates grants whose expiry has passed, relabels their
// requests EXPIRED and purges every download copy that is due. Running it
// again finds nothing to do.
func (e *GrantEngine) SweepExpired(ctx context.Context) (int, error) {
	var n int
	err := e.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		now := e.now()
		lapsed, err := e.repomanager.Grants(tx).ExpireLapsed(ctx, now)
		if err != nil {
			return err
		}
		reqs := e.repomanager.AccessRequests(tx)
		rends := e.repomanager.Renditions(tx)
		for _, l := range lapsed {
			if _, err := rends.ExpireByGrant(ctx, l.GrantID, now); err != nil {
				return err
			}
			if l.RequestID == nil {
				continue
			}
			if _, err := reqs.MarkExpired(ctx, *l.RequestID, now); err != nil {
				return err
			}
		}
		n = len(lapsed)
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.purgeRenditions(ctx)
	if n > 0 {
		e.logger.Info(ctx, "expired grants swept", "count", n)
	}
	return n, nil
}

// ListByRequester returns the requests filed by requesterID.
func (e *GrantEngine) ListByRequester(ctx context.Context, requesterID string) ([]*models.AccessRequest, error) {
	return e.repomanager.AccessRequests(e.db).ListByRequester(ctx, requesterID)
}

// ListByManuscript returns the requests on a manuscript; only its owner
// and REVIEWER or above may list them.
func (e *GrantEngine) ListByManuscript(ctx context.Context, actorID, manuscriptID string) ([]*models.AccessRequest, error) {
	m, err := e.repomanager.Manuscripts(e.db).GetByID(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	actor, err := e.repomanager.Users(e.db).GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInsufficientAccess
		}
		return nil, err
	}
	if !canReview(actor, m) {
		return nil, common.ErrInsufficientAccess
	}
	return e.repomanager.AccessRequests(e.db).ListByManuscript(ctx, manuscriptID)
}

// TraceWatermark finds the grant a leaked copy was rendered for.
func (e *GrantEngine) TraceWatermark(ctx context.Context, watermarkID string) (*models.ManuscriptAccess, error) {
	if !ids.IsWatermark(watermarkID) {
		return nil, fmt.Errorf("%w: malformed watermark id", common.ErrValidation)
	}
	return e.repomanager.Grants(e.db).FindByWatermark(ctx, watermarkID)
}
