package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
	"github.com/dmitrijs2005/archivekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

// LoginResult is what a successful login or refresh hands back.
type LoginResult struct {
	User      *models.User
	SessionID string
	Tokens    *auth.TokenPair
}

// UserService handles registration, email verification, login with
// lockout, token refresh, logout, password changes and resets, and admin
// user management.
type UserService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	withTx          dbx.TxRunner
	hasher          *cryptox.PasswordHasher
	verify          func(password, encoded string) (bool, error)
	policy          auth.PasswordPolicy
	issuer          *auth.Issuer
	sessions        *SessionService
	notifier        TokenNotifier
	lockoutAttempts int
	lockoutDuration time.Duration
	emailTokenTTL   time.Duration
	resetTokenTTL   time.Duration
	logger          logging.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

// NewUserService constructs a UserService from repositories, server config
// and the shared issuer and session store. A nil notifier logs tokens
// instead of sending them.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, issuer *auth.Issuer,
	sessions *SessionService, notifier TokenNotifier, logger logging.Logger, mt *metrics.Metrics) *UserService {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	hasher := cryptox.NewPasswordHasher(cfg.Argon2Params())
	return &UserService{
		db:              db,
		repomanager:     m,
		withTx:          dbx.NewTxRunner(db, nil),
		hasher:          hasher,
		verify:          hasher.Verify,
		policy:          cfg.PasswordPolicy(),
		issuer:          issuer,
		sessions:        sessions,
		notifier:        notifier,
		lockoutAttempts: cfg.LockoutMaxAttempts,
		lockoutDuration: cfg.LockoutDuration,
		emailTokenTTL:   cfg.EmailVerificationTTL,
		resetTokenTTL:   cfg.PasswordResetTTL,
		logger:          logger.With("module", "users"),
		metrics:         mt,
		now:             time.Now,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	return email, nil
}

// Register creates a VISITOR account and sends it an email verification
// token. Registered users become USER once their identity document is
// verified.
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.createUser(ctx, email, password, models.RoleVisitor, false)
	if err != nil {
		return nil, err
	}

	if err := s.issueToken(ctx, user, models.TokenEmailVerification, s.emailTokenTTL); err != nil {
		s.logger.Warn(ctx, "email verification token not sent", "user_id", user.ID, "error", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

func (s *UserService) createUser(ctx context.Context, email, password string, role models.Role, emailVerified bool) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Validate(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:                 ids.New(),
		Email:              email,
		PasswordHash:       hash,
		Role:               role,
		EmailVerified:      emailVerified,
		VerificationStatus: models.VerificationNone,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repomanager.Users(s.db).Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}

// Login checks credentials and opens a session. Every failure the caller
// sees is common.ErrorUnauthorized; the log keeps the actual reason.
func (s *UserService) Login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	res, err := s.login(ctx, email, password, ip, userAgent)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.Login(metrics.OutcomeOK)
	return res, nil
}

func (s *UserService) login(ctx context.Context, email, password, ip, userAgent string) (*LoginResult, error) {
	repo := s.repomanager.Users(s.db)
	now := s.now()

	user, err := repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.decoyVerify(password)
			s.logger.Info(ctx, "login failed", "reason", "unknown email")
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if user.Locked(now) {
		s.decoyVerify(password)
		s.logger.Info(ctx, "login failed", "reason", "locked", "user_id", user.ID)
		return nil, common.ErrorUnauthorized
	}
	if !user.Active {
		s.decoyVerify(password)
		s.logger.Info(ctx, "login failed", "reason", "deactivated", "user_id", user.ID)
		return nil, common.ErrorUnauthorized
	}

	ok, err := s.verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		updated, err := repo.RegisterFailedLogin(ctx, user.ID, s.lockoutAttempts, now.Add(s.lockoutDuration), now)
		if err != nil {
			s.logger.Error(ctx, "failed to record failed login", "user_id", user.ID, "error", err)
		} else if updated.Locked(now) {
			s.logger.Warn(ctx, "account locked", "user_id", user.ID, "until", *updated.LockedUntil)
		}
		s.logger.Info(ctx, "login failed", "reason", "bad password", "user_id", user.ID)
		return nil, common.ErrorUnauthorized
	}

	if err := repo.RecordLogin(ctx, user.ID, ip, now); err != nil {
		return nil, common.ErrorInternal
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	session, credential, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		s.logger.Error(ctx, "failed to create session", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}

	pair, err := s.issuer.Issue(subjectOf(user), session.ID, credential)
	if err != nil {
		s.logger.Error(ctx, "failed to issue tokens", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "login", "user_id", user.ID, "session_id", session.ID)
	return &LoginResult{User: user, SessionID: session.ID, Tokens: pair}, nil
}

// decoyVerify spends the cost of one password check against a throwaway
// hash, so a rejected login takes as long whether or not the account exists.
func (s *UserService) decoyVerify(password string) {
	s.decoyOnce.Do(func() {
		seed, err := newCredential()
		if err == nil {
			s.decoyHash, err = s.hasher.Hash(seed)
		}
		if err != nil {
			s.logger.Warn(context.Background(), "decoy hash unavailable", "error", err)
		}
	})
	if s.decoyHash == "" {
		return
	}
	_, _ = s.verify(password, s.decoyHash)
}

// rehash upgrades a stored hash to the current cost policy. Failure only
// postpones the upgrade to the next login.
func (s *UserService) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repomanager.Users(s.db).UpdatePasswordHash(ctx, user.ID, hash, s.now())
	}
	if err != nil {
		s.logger.Warn(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info(ctx, "password rehashed", "user_id", user.ID)
}

func subjectOf(u *models.User) auth.Subject {
	return auth.Subject{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Refresh exchanges a refresh token for a new pair. A token that verifies
// but whose session is gone fails with common.ErrSessionInvalid.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	res, err := s.refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.Refresh(metrics.OutcomeOK)
	return res, nil
}

func (s *UserService) refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.issuer.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Check(ctx, claims.SessionID, claims.ID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID {
		s.logger.Warn(ctx, "refresh token subject does not own session", "session_id", session.ID)
		return nil, common.ErrSessionInvalid
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, session.UserID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if err != nil || !user.Active {
		s.logger.Info(ctx, "refresh for missing or inactive user", "user_id", session.UserID)
		if err := s.sessions.Invalidate(ctx, session.ID); err != nil {
			s.logger.Warn(ctx, "failed to invalidate session", "session_id", session.ID, "error", err)
		}
		return nil, common.ErrSessionInvalid
	}

	credential, _, err := s.sessions.Rotate(ctx, session, claims.ID)
	if err != nil {
		if errors.Is(err, common.ErrSessionInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("error rotating session: %w", err)
	}

	pair, err := s.issuer.Issue(subjectOf(user), session.ID, credential)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &LoginResult{User: user, SessionID: session.ID, Tokens: pair}, nil
}

// Logout invalidates the session named in the caller's access token.
func (s *UserService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := s.sessions.Invalidate(ctx, claims.SessionID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return nil
}

// Authenticate turns an access token into verified claims, additionally
// requiring the backing session to be valid.
func (s *UserService) Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error) {
	claims, err := s.issuer.Verify(accessToken, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	ok, err := s.sessions.IsValid(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrSessionInvalid
	}
	return claims, nil
}

// ChangePassword replaces the password and ends every session of the user.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.verify(current, user.PasswordHash)
	if err != nil || !ok {
		return common.ErrorUnauthorized
	}
	if err := s.policy.Validate(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	if err := repo.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return err
	}

	if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return fmt.Errorf("password changed but sessions not invalidated: %w", err)
	}
	return nil
}

// requireAdmin loads actorID and checks it is an active ADMIN.
func (s *UserService) requireAdmin(ctx context.Context, actorID string) error {
	actor, err := s.repomanager.Users(s.db).GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInsufficientAccess
		}
		return err
	}
	if !actor.Active || actor.Role != models.RoleAdmin {
		return common.ErrInsufficientAccess
	}
	return nil
}

// UpdateRole lets an ADMIN change the role of another user.
func (s *UserService) UpdateRole(ctx context.Context, actorID, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role", common.ErrValidation)
	}
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdateRole(ctx, userID, role, s.now()); err != nil {
		return err
	}
	s.logger.Info(ctx, "role changed", "actor_id", actorID, "user_id", userID, "role", role)
	return nil
}

// Deactivate soft-deletes a user and ends their sessions.
func (s *UserService) Deactivate(ctx context.Context, actorID, userID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if actorID == userID {
		return fmt.Errorf("%w: cannot deactivate yourself", common.ErrValidation)
	}
	if err := s.repomanager.Users(s.db).Deactivate(ctx, userID, s.now()); err != nil {
		return err
	}
	if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deactivated", "actor_id", actorID, "user_id", userID)
	return nil
}

// CreateAdmin provisions an ADMIN account; used by operator tooling. The
// operator vouches for the address, so no verification token is sent.
func (s *UserService) CreateAdmin(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.createUser(ctx, email, password, models.RoleAdmin, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "admin provisioned", "user_id", user.ID)
	return user, nil
}

// issueToken creates a single-use token for purpose, retiring any earlier
// unused one, and hands it to the notifier. Only its hash is stored.
func (s *UserService) issueToken(ctx context.Context, user *models.User, purpose models.TokenPurpose, ttl time.Duration) error {
	token, err := newCredential()
	if err != nil {
		return fmt.Errorf("error generating token: %w", err)
	}

	now := s.now()
	t := &models.UserToken{
		ID:        ids.New(),
		UserID:    user.ID,
		Purpose:   purpose,
		TokenHash: hashCredential(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.UserTokens(tx)
		if err := repo.RetireOutstanding(ctx, user.ID, purpose, now); err != nil {
			return err
		}
		return repo.Create(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("error storing token: %w", err)
	}

	if err := s.notifier.DeliverToken(ctx, user, purpose, token, t.ExpiresAt); err != nil {
		return fmt.Errorf("error delivering token: %w", err)
	}
	return nil
}

// consumeToken redeems token for purpose inside tx. Unknown, spent and
// expired tokens are all common.ErrTokenInvalid.
func (s *UserService) consumeToken(ctx context.Context, tx dbx.DBTX, purpose models.TokenPurpose, token string, now time.Time) (*models.UserToken, error) {
	t, err := s.repomanager.UserTokens(tx).Consume(ctx, purpose, hashCredential(token), now)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenInvalid
		}
		return nil, err
	}
	return t, nil
}

// ResendEmailVerification issues a fresh verification token to userID. Any
// earlier token stops working.
func (s *UserService) ResendEmailVerification(ctx context.Context, userID string) error {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return fmt.Errorf("%w: email already verified", common.ErrValidation)
	}
	return s.issueToken(ctx, user, models.TokenEmailVerification, s.emailTokenTTL)
}

// VerifyEmail redeems an email verification token and marks its owner's
// address verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.ErrTokenInvalid
	}

	now := s.now()
	var userID string
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := s.consumeToken(ctx, tx, models.TokenEmailVerification, token, now)
		if err != nil {
			return err
		}
		userID = t.UserID
		return s.repomanager.Users(tx).MarkEmailVerified(ctx, t.UserID, now)
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			s.logger.Info(ctx, "email verification failed", "reason", "token not usable")
		}
		return err
	}

	s.logger.Info(ctx, "email verified", "user_id", userID)
	return nil
}

// RequestPasswordReset sends a reset token to the account registered under
// email. The outcome is the same whether or not such an active account
// exists.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "password reset lookup failed", "error", err)
		} else {
			s.logger.Info(ctx, "password reset requested", "reason", "unknown email")
		}
		return nil
	}
	if !user.Active {
		s.logger.Info(ctx, "password reset requested", "reason", "deactivated", "user_id", user.ID)
		return nil
	}

	if err := s.issueToken(ctx, user, models.TokenPasswordReset, s.resetTokenTTL); err != nil {
		s.logger.Error(ctx, "password reset token not sent", "user_id", user.ID, "error", err)
		return nil
	}
	s.logger.Info(ctx, "password reset requested", "user_id", user.ID)
	return nil
}

// ResetPassword redeems a reset token, sets the new password and ends every
// session of the user. A password that fails the policy leaves the token
// usable.
func (s *UserService) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.ErrTokenInvalid
	}
	if err := s.policy.Validate(password); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now()
	var userID string
	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := s.consumeToken(ctx, tx, models.TokenPasswordReset, token, now)
		if err != nil {
			return err
		}
		userID = t.UserID
		return s.repomanager.Users(tx).UpdatePasswordHash(ctx, t.UserID, hash, now)
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			s.logger.Info(ctx, "password reset failed", "reason", "token not usable")
		}
		return err
	}

	if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return fmt.Errorf("password reset but sessions not invalidated: %w", err)
	}
	s.logger.Info(ctx, "password reset", "user_id", userID)
	return nil
}
