// Package services contains the server-side business logic of the archive:
// sessions and logins, the access grant engine, the secure content gate and
// the background workers that support them.
package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

const credentialSize = 32

// SessionService tracks the sessions that back refresh tokens. A refresh
// token is only honoured while its session is valid, so invalidation takes
// effect on the next refresh.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	withTx      dbx.TxRunner
	ttl         time.Duration
	maxSessions int
	logger      logging.Logger
	now         func() time.Time
}

// NewSessionService builds a SessionService. ttl is the session lifetime
// (the refresh token lifetime); maxSessions caps concurrent valid sessions
// per user, 0 meaning no cap.
func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, ttl time.Duration, maxSessions int, logger logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		withTx:      dbx.NewTxRunner(db, nil),
		ttl:         ttl,
		maxSessions: maxSessions,
		logger:      logger.With("module", "sessions"),
		now:         time.Now,
	}
}

// hashCredential is what gets persisted instead of the refresh credential.
func hashCredential(credential string) []byte {
	sum := sha256.Sum256([]byte(credential))
	return sum[:]
}

func newCredential() (string, error) {
	return common.MakeRandHexString(credentialSize)
}

// Create opens a session for userID and returns it together with the
// opaque refresh credential, which is never stored in clear. If the user is
// at the session cap the oldest sessions are invalidated first.
func (s *SessionService) Create(ctx context.Context, userID, ip, userAgent string) (*models.Session, string, error) {
	credential, err := newCredential()
	if err != nil {
		return nil, "", fmt.Errorf("error generating session credential: %w", err)
	}

	now := s.now()
	session := &models.Session{
		ID:             ids.New(),
		UserID:         userID,
		CredentialHash: hashCredential(credential),
		IP:             ip,
		UserAgent:      userAgent,
		Valid:          true,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
		LastUsedAt:     now,
	}

	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Sessions(tx)

		if s.maxSessions > 0 {
			active, err := repo.CountActive(ctx, userID, now)
			if err != nil {
				return err
			}
			for ; active >= s.maxSessions; active-- {
				if err := repo.InvalidateOldest(ctx, userID, now); err != nil {
					return err
				}
				s.logger.Info(ctx, "session cap reached, oldest session invalidated", "user_id", userID)
			}
		}

		return repo.Create(ctx, session)
	})
	if err != nil {
		return nil, "", fmt.Errorf("error creating session: %w", err)
	}

	return session, credential, nil
}

// IsValid reports whether the session exists, is flagged valid and has not
// expired.
func (s *SessionService) IsValid(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.repomanager.Sessions(s.db).FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return session.IsValid(s.now()), nil
}

// Check loads the session behind a refresh token and confirms it still
// backs credential. A credential that no longer matches means a rotated
// token is being replayed: the session is invalidated.
func (s *SessionService) Check(ctx context.Context, sessionID, credential string) (*models.Session, error) {
	repo := s.repomanager.Sessions(s.db)

	session, err := repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionInvalid
		}
		return nil, err
	}

	if !session.IsValid(s.now()) {
		s.logger.Info(ctx, "refresh on invalid session", "session_id", sessionID)
		return nil, common.ErrSessionInvalid
	}

	if subtle.ConstantTimeCompare(session.CredentialHash, hashCredential(credential)) != 1 {
		s.logger.Warn(ctx, "superseded refresh credential presented, invalidating session",
			"session_id", sessionID, "user_id", session.UserID)
		if err := repo.Invalidate(ctx, sessionID); err != nil && !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "failed to invalidate replayed session", "session_id", sessionID, "error", err)
		}
		return nil, common.ErrSessionInvalid
	}

	return session, nil
}

// Rotate replaces the session credential with a fresh one and extends the
// session. It fails with common.ErrSessionInvalid if the session was
// invalidated or rotated concurrently.
func (s *SessionService) Rotate(ctx context.Context, session *models.Session, oldCredential string) (string, time.Time, error) {
	credential, err := newCredential()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error generating session credential: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	err = s.repomanager.Sessions(s.db).Rotate(ctx, session.ID,
		hashCredential(oldCredential), hashCredential(credential), expiresAt, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return credential, expiresAt, nil
}

// Invalidate ends one session. Invalidating an unknown session is
// common.ErrorNotFound.
func (s *SessionService) Invalidate(ctx context.Context, sessionID string) error {
	return s.repomanager.Sessions(s.db).Invalidate(ctx, sessionID)
}

// InvalidateAll ends every session of userID and returns how many were
// still valid.
func (s *SessionService) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.Sessions(s.db).InvalidateAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "all sessions invalidated", "user_id", userID, "count", n)
	return n, nil
}

// RevokeOwn lets a user end one of their own sessions, e.g. another device.
func (s *SessionService) RevokeOwn(ctx context.Context, userID, sessionID string) error {
	repo := s.repomanager.Sessions(s.db)
	session, err := repo.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return common.ErrorNotFound
	}
	return repo.Invalidate(ctx, sessionID)
}

// ListActive returns the valid, unexpired sessions of userID.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.repomanager.Sessions(s.db).ListActive(ctx, userID, s.now())
}
