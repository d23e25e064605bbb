// Package auth implements the credential issuer: signed short-lived access
// tokens and session-bound refresh tokens, plus the password policy applied
// when credentials are set.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/timex"
)

const (
	DefaultIssuer   = "manuscript-archive"
	DefaultAudience = "manuscript-users"
)

// TokenKind distinguishes access from refresh tokens. The kind is signed
// into the token and each kind has its own secret.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims are the signed contents of both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string      `json:"uid"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"sid"`
	Kind      TokenKind   `json:"kind"`
}

// Subject identifies whom a token pair is issued to.
type Subject struct {
	UserID string
	Email  string
	Role   models.Role
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssuerConfig carries the settings the Issuer is built from. Lifetimes use
// the "<integer><unit>" grammar of timex.ParseLifetime.
type IssuerConfig struct {
	AccessSecret    []byte
	RefreshSecret   []byte
	AccessLifetime  string
	RefreshLifetime string
	Issuer          string
	Audience        string
}

// Issuer mints and verifies tokens. It is stateless apart from its
// configuration and safe for concurrent use.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      string
	now           func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer validates cfg and returns an Issuer. A lifetime that does not
// parse falls back to timex.DefaultLifetime and is reported on logger.
func NewIssuer(cfg IssuerConfig, logger logging.Logger, opts ...Option) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: token secrets must not be empty")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	i := &Issuer{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     lifetime(logger, "access", cfg.AccessLifetime),
		refreshTTL:    lifetime(logger, "refresh", cfg.RefreshLifetime),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		now:           time.Now,
	}
	if i.issuer == "" {
		i.issuer = DefaultIssuer
	}
	if i.audience == "" {
		i.audience = DefaultAudience
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

func lifetime(logger logging.Logger, kind, raw string) time.Duration {
	d, ok := timex.ParseLifetime(raw)
	if !ok {
		logger.Warn(context.Background(), "token lifetime not understood, using default",
			"kind", kind, "value", raw, "default", d.String())
	}
	return d
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime. Sessions are
// created with the same lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue signs an access and a refresh token for sub bound to sessionID.
// nonce becomes the refresh token id; the session store keeps its hash so a
// superseded refresh token can be told apart from the current one.
func (i *Issuer) Issue(sub Subject, sessionID, nonce string) (*TokenPair, error) {
	if !sub.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", common.ErrValidation)
	}
	now := i.now()

	accessID, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}

	accessExp := now.Add(i.accessTTL)
	access, err := i.sign(i.accessSecret, sub, sessionID, accessID, KindAccess, now, accessExp)
	if err != nil {
		return nil, err
	}

	refreshExp := now.Add(i.refreshTTL)
	refresh, err := i.sign(i.refreshSecret, sub, sessionID, nonce, KindRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(secret []byte, sub Subject, sessionID, id string, kind TokenKind, now, exp time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.UserID,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        id,
		},
		UserID:    sub.UserID,
		Email:     sub.Email,
		Role:      sub.Role,
		SessionID: sessionID,
		Kind:      kind,
	})
	return token.SignedString(secret)
}

// Verify checks signature, algorithm, issuer, audience, expiry and kind.
// An expired but otherwise authentic token yields common.ErrTokenExpired;
// every other failure yields common.ErrTokenInvalid.
func (i *Issuer) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	var secret []byte
	switch kind {
	case KindAccess:
		secret = i.accessSecret
	case KindRefresh:
		secret = i.refreshSecret
	default:
		return nil, fmt.Errorf("%w: unknown token kind %q", common.ErrTokenInvalid, kind)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, common.ErrTokenInvalid
	}
	if claims.Kind != kind || claims.UserID == "" || claims.SessionID == "" ||
		claims.UserID != claims.Subject || !claims.Role.Valid() {
		return nil, common.ErrTokenInvalid
	}
	return claims, nil
}

// Decode returns the claims of tokenString without checking the signature
// or any claim. For diagnostics only: the result must never feed an
// authorization decision.
func (i *Issuer) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}
	return claims, nil
}
