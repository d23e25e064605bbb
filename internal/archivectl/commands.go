package archivectl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
)

var errPasswordMismatch = errors.New("passwords do not match")

// readConfirmedPassword asks twice and wipes both buffers before returning.
func (a *App) readConfirmedPassword() (string, error) {
	first, err := GetPassword(a.out, "Enter password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(first)

	second, err := GetPassword(a.out, "Repeat password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(second)

	if string(first) != string(second) {
		return "", errPasswordMismatch
	}
	return string(first), nil
}

func (a *App) seedAdmin(ctx context.Context, b *Backend, email string) error {
	password, err := a.readConfirmedPassword()
	if err != nil {
		return err
	}

	user, err := b.Admins.CreateAdmin(ctx, email, password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	fmt.Fprintf(a.out, "created admin %s (%s)\n", user.Email, user.ID)
	return nil
}

func (a *App) hashPassword() error {
	password, err := a.readConfirmedPassword()
	if err != nil {
		return err
	}
	if err := a.config.PasswordPolicy().Validate(password); err != nil {
		return err
	}

	hash, err := cryptox.NewPasswordHasher(a.config.Argon2Params()).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, hash)
	return nil
}

func (a *App) sweep(ctx context.Context, b *Backend) error {
	n, err := b.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(a.out, "expired %d grant(s)\n", n)
	return nil
}

type traceReport struct {
	GrantID        string     `json:"grant_id"`
	WatermarkID    string     `json:"watermark_id"`
	ManuscriptID   string     `json:"manuscript_id"`
	UserID         string     `json:"user_id"`
	Level          string     `json:"level"`
	GrantedBy      string     `json:"granted_by"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Active         bool       `json:"active"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	ViewCount      int        `json:"view_count"`
	DownloadCount  int        `json:"download_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

func (a *App) trace(ctx context.Context, b *Backend, watermarkID string) error {
	g, err := b.Tracer.TraceWatermark(ctx, watermarkID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("no grant carries watermark %s", watermarkID)
		}
		return fmt.Errorf("trace watermark: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(traceReport{
		GrantID:        g.ID,
		WatermarkID:    g.WatermarkID,
		ManuscriptID:   g.ManuscriptID,
		UserID:         g.UserID,
		Level:          g.Level.String(),
		GrantedBy:      g.GrantedBy,
		GrantedAt:      g.GrantedAt,
		ExpiresAt:      g.ExpiresAt,
		Active:         g.Active,
		RevokedAt:      g.RevokedAt,
		ViewCount:      g.ViewCount,
		DownloadCount:  g.DownloadCount,
		LastAccessedAt: g.LastAccessedAt,
	})
}
