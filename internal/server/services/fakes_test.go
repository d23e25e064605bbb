package services

import (
	"bytes"
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/documents"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/grants"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/manuscripts"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/renditions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/usertokens"
)

// --- in-memory repositories ---

type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*models.User
	sessions    map[string]*models.Session
	requests    map[string]*models.AccessRequest
	grants      map[string]*models.ManuscriptAccess
	manuscripts map[string]*models.Manuscript
	documents   map[string]*models.VerificationDocument
	tokens      map[string]*models.UserToken
	renditions  map[string]*models.Rendition

	usageErr error
	lockedPairs int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]*models.User{},
		sessions:    map[string]*models.Session{},
		requests:    map[string]*models.AccessRequest{},
		grants:      map[string]*models.ManuscriptAccess{},
		manuscripts: map[string]*models.Manuscript{},
		documents:   map[string]*models.VerificationDocument{},
		tokens:      map[string]*models.UserToken{},
		renditions:  map[string]*models.Rendition{},
	}
}

type fakeManager struct{ st *fakeStore }

func (m fakeManager) RunMigrations(context.Context, *sql.DB) error      { return nil }
func (m fakeManager) Users(dbx.DBTX) users.Repository                   { return fakeUsers{m.st} }
func (m fakeManager) Sessions(dbx.DBTX) sessions.Repository             { return fakeSessions{m.st} }
func (m fakeManager) AccessRequests(dbx.DBTX) accessrequests.Repository { return fakeRequests{m.st} }
func (m fakeManager) Grants(dbx.DBTX) grants.Repository                 { return fakeGrants{m.st} }
func (m fakeManager) Manuscripts(dbx.DBTX) manuscripts.Repository       { return fakeManuscripts{m.st} }
func (m fakeManager) Documents(dbx.DBTX) documents.Repository           { return fakeDocuments{m.st} }
func (m fakeManager) UserTokens(dbx.DBTX) usertokens.Repository         { return fakeTokens{m.st} }
func (m fakeManager) Renditions(dbx.DBTX) renditions.Repository         { return fakeRenditions{m.st} }

func directTx(ctx context.Context, fn dbx.TxFunc) error { return fn(ctx, nil) }

type fakeUsers struct{ st *fakeStore }

func (r fakeUsers) Create(_ context.Context, u *models.User) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.users {
		if existing.Email == u.Email {
			return common.ErrAlreadyExists
		}
	}
	c := *u
	r.st.users[u.ID] = &c
	return nil
}

func (r fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (r fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, u := range r.st.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUsers) update(id string, fn func(u *models.User)) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(u)
	return nil
}

func (r fakeUsers) RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*models.User, error) {
	err := r.update(id, func(u *models.User) {
		if u.FailedLogins+1 >= maxAttempts {
			u.LockedUntil = &lockUntil
			u.FailedLogins = 0
		} else {
			u.FailedLogins++
		}
		u.UpdatedAt = at
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r fakeUsers) RecordLogin(_ context.Context, id, ip string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.FailedLogins = 0
		u.LockedUntil = nil
		u.LastLoginAt = &at
		u.LastLoginIP = &ip
	})
}

func (r fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string, at time.Time) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = hash; u.UpdatedAt = at })
}

func (r fakeUsers) UpdateRole(_ context.Context, id string, role models.Role, at time.Time) error {
	return r.update(id, func(u *models.User) { u.Role = role; u.UpdatedAt = at })
}

func (r fakeUsers) SetVerificationStatus(_ context.Context, id string, status models.VerificationStatus, at time.Time) error {
	return r.update(id, func(u *models.User) { u.VerificationStatus = status; u.UpdatedAt = at })
}

func (r fakeUsers) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) { u.EmailVerified = true; u.UpdatedAt = at })
}

func (r fakeUsers) Deactivate(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *models.User) { u.Active = false; u.UpdatedAt = at })
}

type fakeSessions struct{ st *fakeStore }

func (r fakeSessions) Create(_ context.Context, s *models.Session) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *s
	r.st.sessions[s.ID] = &c
	return nil
}

func (r fakeSessions) FindByID(_ context.Context, id string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *s
	return &c, nil
}

func (r fakeSessions) Rotate(_ context.Context, id string, oldHash, newHash []byte, expiresAt, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok || !s.IsValid(at) || !bytes.Equal(s.CredentialHash, oldHash) {
		return common.ErrSessionInvalid
	}
	s.CredentialHash = newHash
	s.ExpiresAt = expiresAt
	s.LastUsedAt = at
	return nil
}

func (r fakeSessions) Invalidate(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	s.Valid = false
	return nil
}

func (r fakeSessions) InvalidateAll(_ context.Context, userID string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, s := range r.st.sessions {
		if s.UserID == userID && s.Valid {
			s.Valid = false
			n++
		}
	}
	return n, nil
}

func (r fakeSessions) active(userID string, now time.Time) []*models.Session {
	var out []*models.Session
	for _, s := range r.st.sessions {
		if s.UserID == userID && s.IsValid(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r fakeSessions) CountActive(_ context.Context, userID string, now time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return len(r.active(userID, now)), nil
}

func (r fakeSessions) InvalidateOldest(_ context.Context, userID string, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if act := r.active(userID, now); len(act) > 0 {
		act[0].Valid = false
	}
	return nil
}

func (r fakeSessions) ListActive(_ context.Context, userID string, now time.Time) ([]*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Session
	for _, s := range r.active(userID, now) {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

type fakeRequests struct{ st *fakeStore }

func (r fakeRequests) Create(_ context.Context, req *models.AccessRequest) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *req
	r.st.requests[req.ID] = &c
	return nil
}

func (r fakeRequests) GetByID(_ context.Context, id string) (*models.AccessRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	req, ok := r.st.requests[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *req
	return &c, nil
}

func (r fakeRequests) FindPending(_ context.Context, requesterID, manuscriptID string) (*models.AccessRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, req := range r.st.requests {
		if req.RequesterID == requesterID && req.ManuscriptID == manuscriptID && req.Status == models.RequestPending {
			c := *req
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeRequests) transition(id string, from models.RequestStatus, fn func(req *models.AccessRequest)) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	req, ok := r.st.requests[id]
	if !ok || req.Status != from {
		return common.ErrInvalidStateTransition
	}
	fn(req)
	return nil
}

func (r fakeRequests) Approve(_ context.Context, id string, rv accessrequests.Review) error {
	return r.transition(id, models.RequestPending, func(req *models.AccessRequest) {
		req.Status = models.RequestApproved
		req.ReviewerID = &rv.ReviewerID
		req.ReviewNotes = rv.Notes
		req.ReviewedAt = &rv.At
		level := rv.ApprovedLevel
		req.ApprovedLevel = &level
		req.ApprovedDays = rv.ApprovedDays
	})
}

func (r fakeRequests) Reject(_ context.Context, id string, rv accessrequests.Review) error {
	return r.transition(id, models.RequestPending, func(req *models.AccessRequest) {
		req.Status = models.RequestRejected
		req.ReviewerID = &rv.ReviewerID
		req.ReviewNotes = rv.Notes
		req.ReviewedAt = &rv.At
	})
}

func (r fakeRequests) MarkRevoked(_ context.Context, id string, at time.Time) error {
	return r.transition(id, models.RequestApproved, func(req *models.AccessRequest) {
		req.Status = models.RequestRevoked
		req.UpdatedAt = at
	})
}

func (r fakeRequests) MarkExpired(_ context.Context, id string, at time.Time) (bool, error) {
	err := r.transition(id, models.RequestApproved, func(req *models.AccessRequest) {
		req.Status = models.RequestExpired
		req.UpdatedAt = at
	})
	return err == nil, nil
}

func (r fakeRequests) list(match func(req *models.AccessRequest) bool) []*models.AccessRequest {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.AccessRequest
	for _, req := range r.st.requests {
		if match(req) {
			c := *req
			out = append(out, &c)
		}
	}
	return out
}

func (r fakeRequests) ListByRequester(_ context.Context, requesterID string) ([]*models.AccessRequest, error) {
	return r.list(func(req *models.AccessRequest) bool { return req.RequesterID == requesterID }), nil
}

func (r fakeRequests) ListByManuscript(_ context.Context, manuscriptID string) ([]*models.AccessRequest, error) {
	return r.list(func(req *models.AccessRequest) bool { return req.ManuscriptID == manuscriptID }), nil
}

type fakeGrants struct{ st *fakeStore }

func (r fakeGrants) LockPair(context.Context, string, string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.lockedPairs++
	return nil
}

func (r fakeGrants) Create(_ context.Context, g *models.ManuscriptAccess) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.grants {
		if existing.WatermarkID == g.WatermarkID {
			return common.ErrAlreadyExists
		}
	}
	c := *g
	r.st.grants[g.ID] = &c
	return nil
}

func (r fakeGrants) find(match func(g *models.ManuscriptAccess) bool) (*models.ManuscriptAccess, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, g := range r.st.grants {
		if match(g) {
			c := *g
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeGrants) GetByID(_ context.Context, id string) (*models.ManuscriptAccess, error) {
	return r.find(func(g *models.ManuscriptAccess) bool { return g.ID == id })
}

func (r fakeGrants) FindActive(_ context.Context, userID, manuscriptID string) (*models.ManuscriptAccess, error) {
	return r.find(func(g *models.ManuscriptAccess) bool {
		return g.UserID == userID && g.ManuscriptID == manuscriptID && g.Active
	})
}

func (r fakeGrants) FindByWatermark(_ context.Context, watermarkID string) (*models.ManuscriptAccess, error) {
	return r.find(func(g *models.ManuscriptAccess) bool { return g.WatermarkID == watermarkID })
}

func revoke(g *models.ManuscriptAccess, rv grants.Revocation) {
	g.Active = false
	g.RevokedAt = &rv.At
	g.RevokedBy = &rv.ActorID
	g.RevokeReason = &rv.Reason
}

func (r fakeGrants) RevokeActive(_ context.Context, userID, manuscriptID string, rv grants.Revocation) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []string
	for _, g := range r.st.grants {
		if g.UserID == userID && g.ManuscriptID == manuscriptID && g.Active {
			revoke(g, rv)
			if g.RequestID != nil {
				out = append(out, *g.RequestID)
			}
		}
	}
	return out, nil
}

func (r fakeGrants) Revoke(_ context.Context, id string, rv grants.Revocation) (*models.ManuscriptAccess, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	g, ok := r.st.grants[id]
	if !ok || !g.Active {
		return nil, common.ErrInvalidStateTransition
	}
	revoke(g, rv)
	c := *g
	return &c, nil
}

func (r fakeGrants) RecordUsage(_ context.Context, id string, kind models.UsageKind, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.st.usageErr != nil {
		return r.st.usageErr
	}
	g, ok := r.st.grants[id]
	if !ok {
		return common.ErrorNotFound
	}
	switch kind {
	case models.UsageView:
		g.ViewCount++
	case models.UsageDownload:
		g.DownloadCount++
	default:
		return common.ErrValidation
	}
	g.LastAccessedAt = &at
	return nil
}

func (r fakeGrants) ExpireLapsed(_ context.Context, now time.Time) ([]grants.Lapsed, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []grants.Lapsed
	for _, g := range r.st.grants {
		if g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			out = append(out, grants.Lapsed{GrantID: g.ID, RequestID: g.RequestID})
		}
	}
	return out, nil
}

func (r fakeGrants) ExpireLapsedPair(_ context.Context, userID, manuscriptID string, now time.Time) ([]grants.Lapsed, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []grants.Lapsed
	for _, g := range r.st.grants {
		if g.UserID == userID && g.ManuscriptID == manuscriptID &&
			g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			out = append(out, grants.Lapsed{GrantID: g.ID, RequestID: g.RequestID})
		}
	}
	return out, nil
}

type fakeManuscripts struct{ st *fakeStore }

func (r fakeManuscripts) Create(_ context.Context, m *models.Manuscript) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *m
	r.st.manuscripts[m.ID] = &c
	return nil
}

func (r fakeManuscripts) GetByID(_ context.Context, id string) (*models.Manuscript, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.manuscripts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *m
	return &c, nil
}

func (r fakeManuscripts) AttachFile(_ context.Context, id string, ref manuscripts.FileRef) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.manuscripts[id]
	if !ok {
		return common.ErrorNotFound
	}
	m.StorageKey = &ref.StorageKey
	m.Checksum = &ref.Checksum
	m.KeyID = &ref.KeyID
	m.MimeType = &ref.MimeType
	return nil
}

type fakeDocuments struct{ st *fakeStore }

func (r fakeDocuments) Create(_ context.Context, d *models.VerificationDocument) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.documents {
		if existing.UserID == d.UserID && existing.Status == models.DocumentPending {
			return common.ErrPendingRequestExists
		}
	}
	c := *d
	r.st.documents[d.ID] = &c
	return nil
}

func (r fakeDocuments) GetByID(_ context.Context, id string) (*models.VerificationDocument, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	d, ok := r.st.documents[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *d
	return &c, nil
}

func (r fakeDocuments) FindPendingByUser(_ context.Context, userID string) (*models.VerificationDocument, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, d := range r.st.documents {
		if d.UserID == userID && d.Status == models.DocumentPending {
			c := *d
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeDocuments) Review(_ context.Context, id string, status models.DocumentStatus, reviewerID string, notes *string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	d, ok := r.st.documents[id]
	if !ok || d.Status != models.DocumentPending {
		return common.ErrInvalidStateTransition
	}
	d.Status = status
	d.ReviewerID = &reviewerID
	d.ReviewNotes = notes
	d.ReviewedAt = &at
	return nil
}

type fakeTokens struct{ st *fakeStore }

func (r fakeTokens) Create(_ context.Context, t *models.UserToken) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *t
	r.st.tokens[t.ID] = &c
	return nil
}

func (r fakeTokens) RetireOutstanding(_ context.Context, userID string, purpose models.TokenPurpose, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, t := range r.st.tokens {
		if t.UserID == userID && t.Purpose == purpose && t.UsedAt == nil {
			t.UsedAt = &at
		}
	}
	return nil
}

func (r fakeTokens) Consume(_ context.Context, purpose models.TokenPurpose, tokenHash []byte, at time.Time) (*models.UserToken, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, t := range r.st.tokens {
		if t.Purpose == purpose && bytes.Equal(t.TokenHash, tokenHash) && t.Usable(at) {
			t.UsedAt = &at
			c := *t
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

type fakeRenditions struct{ st *fakeStore }

func (r fakeRenditions) Create(_ context.Context, rd *models.Rendition) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *rd
	r.st.renditions[rd.StorageKey] = &c
	return nil
}

func (r fakeRenditions) expire(match func(rd *models.Rendition) bool, at time.Time) int64 {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, rd := range r.st.renditions {
		if match(rd) && rd.ExpiresAt.After(at) {
			rd.ExpiresAt = at
			n++
		}
	}
	return n
}

func (r fakeRenditions) ExpireByGrant(_ context.Context, grantID string, at time.Time) (int64, error) {
	return r.expire(func(rd *models.Rendition) bool { return rd.GrantID != nil && *rd.GrantID == grantID }, at), nil
}

func (r fakeRenditions) ExpireByPair(_ context.Context, userID, manuscriptID string, at time.Time) (int64, error) {
	return r.expire(func(rd *models.Rendition) bool {
		return rd.UserID == userID && rd.ManuscriptID == manuscriptID
	}, at), nil
}

func (r fakeRenditions) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Rendition, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Rendition
	for _, rd := range r.st.renditions {
		if !rd.ExpiresAt.After(now) {
			c := *rd
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeRenditions) Delete(_ context.Context, storageKey string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.renditions[storageKey]; !ok {
		return common.ErrorNotFound
	}
	delete(r.st.renditions, storageKey)
	return nil
}

// --- test environment ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Record(_ context.Context, grantID string, kind models.UsageKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, grantID+":"+string(kind))
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type sentToken struct {
	userID  string
	purpose models.TokenPurpose
	token   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentToken
}

func (n *recordingNotifier) DeliverToken(_ context.Context, user *models.User, purpose models.TokenPurpose, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentToken{userID: user.ID, purpose: purpose, token: token})
	return nil
}

// last returns the most recent token sent for purpose, or "".
func (n *recordingNotifier) last(purpose models.TokenPurpose) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].purpose == purpose {
			return n.sent[i].token
		}
	}
	return ""
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type watermarkRenderer struct{}

func (watermarkRenderer) Render(_ context.Context, data []byte, _, watermarkID string) ([]byte, error) {
	return append(append([]byte(nil), data...), []byte("\n#"+watermarkID)...), nil
}

type testEnv struct {
	st       *fakeStore
	rm       fakeManager
	clock    *testClock
	cfg      *config.Config
	issuer   *auth.Issuer
	sessions *SessionService
	users    *UserService
	janitor  *RenditionJanitor
	engine   *GrantEngine
	gate     *ContentGate
	docs     *DocumentService
	files    *ManuscriptFiles
	sealer   *cryptox.Sealer
	blobs    *blobstore.Memory
	sink     *recordingSink
	mail     *recordingNotifier
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Argon2MemoryKiB = 64
	cfg.Argon2Time = 1
	cfg.Argon2Threads = 1
	cfg.MaxConcurrentSessions = 3
	cfg.LockoutMaxAttempts = 3
	cfg.LockoutDuration = 30 * time.Minute
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := newFakeStore()
	rm := fakeManager{st: st}
	clk := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := testConfig()
	log := logging.Nop()

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:    []byte("access-secret"),
		RefreshSecret:   []byte("refresh-secret"),
		AccessLifetime:  "15m",
		RefreshLifetime: "7d",
		Issuer:          auth.DefaultIssuer,
		Audience:        auth.DefaultAudience,
	}, log, auth.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	sealer, err := cryptox.NewSealerWithParams([]byte("master"), cryptox.ScryptParams{N: 16, R: 1, P: 1})
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	env := &testEnv{st: st, rm: rm, clock: clk, cfg: cfg, issuer: issuer, sealer: sealer,
		blobs: blobstore.NewMemory(), sink: &recordingSink{}, mail: &recordingNotifier{}}

	env.sessions = NewSessionService(nil, rm, issuer.RefreshTTL(), cfg.MaxConcurrentSessions, log)
	env.sessions.withTx = directTx
	env.sessions.now = clk.Now

	env.users = NewUserService(nil, rm, cfg, issuer, env.sessions, env.mail, log, nil)
	env.users.withTx = directTx
	env.users.now = clk.Now

	env.janitor = NewRenditionJanitor(nil, rm, env.blobs, log, nil)
	env.janitor.now = clk.Now

	env.engine = NewGrantEngine(nil, rm, env.janitor, log, nil)
	env.engine.withTx = directTx
	env.engine.now = clk.Now

	env.gate = NewContentGate(nil, rm, env.engine, sealer, env.blobs, env.janitor, watermarkRenderer{}, env.sink,
		10*time.Minute, log, nil)
	env.gate.now = clk.Now

	env.docs = NewDocumentService(nil, rm, sealer, env.blobs, log)
	env.docs.withTx = directTx
	env.docs.now = clk.Now

	env.files = NewManuscriptFiles(nil, rm, sealer, env.blobs, log)
	env.files.now = clk.Now

	return env
}

func (e *testEnv) addUser(id string, role models.Role, verified bool) *models.User {
	u := &models.User{
		ID:                 id,
		Email:              id + "@archive.test",
		Role:               role,
		Active:             true,
		VerificationStatus: models.VerificationNone,
		CreatedAt:          e.clock.Now(),
	}
	if verified {
		u.VerificationStatus = models.VerificationVerified
	}
	e.st.mu.Lock()
	e.st.users[id] = u
	e.st.mu.Unlock()
	return u
}

func (e *testEnv) addManuscript(id, ownerID string, vis models.Visibility) *models.Manuscript {
	m := &models.Manuscript{ID: id, OwnerID: ownerID, Title: "Manuscript " + id, Visibility: vis, CreatedAt: e.clock.Now()}
	e.st.mu.Lock()
	e.st.manuscripts[id] = m
	e.st.mu.Unlock()
	return m
}

func (e *testEnv) activeGrants(userID, manuscriptID string) []*models.ManuscriptAccess {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	var out []*models.ManuscriptAccess
	for _, g := range e.st.grants {
		if g.UserID == userID && g.ManuscriptID == manuscriptID && g.Active {
			c := *g
			out = append(out, &c)
		}
	}
	return out
}

func (e *testEnv) request(id string) *models.AccessRequest {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	c := *e.st.requests[id]
	return &c
}

func intp(v int) *int { return &v }
