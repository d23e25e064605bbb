// Package archivectl implements the operator command line: seeding the
// first administrator, hashing passwords offline, forcing an expiry sweep
// and tracing a leaked watermark back to its grant.
package archivectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

var ErrUsage = errors.New("usage: archivectl [flags] seed-admin <email> | hash-password | sweep | trace-watermark <id>")

type AdminCreator interface {
	CreateAdmin(ctx context.Context, email, password string) (*models.User, error)
}

type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type Tracer interface {
	TraceWatermark(ctx context.Context, watermarkID string) (*models.ManuscriptAccess, error)
}

// Backend is the slice of the server the commands need.
type Backend struct {
	Admins  AdminCreator
	Sweeper Sweeper
	Tracer  Tracer
	Close   func() error
}

type App struct {
	config  *config.Config
	out     io.Writer
	connect func(ctx context.Context) (*Backend, error)
}

func NewApp(cfg *config.Config, out io.Writer) *App {
	a := &App{config: cfg, out: out}
	a.connect = func(ctx context.Context) (*Backend, error) {
		logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)
		svc, err := server.Bootstrap(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Admins: svc.Users, Sweeper: svc.Sweeper, Tracer: svc.Grants, Close: svc.DB.Close}, nil
	}
	return a
}

// Run executes the command named by the first positional argument.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "hash-password":
		return a.hashPassword()
	case "seed-admin":
		if len(rest) != 1 {
			return ErrUsage
		}
		return a.withBackend(ctx, func(b *Backend) error { return a.seedAdmin(ctx, b, rest[0]) })
	case "sweep":
		return a.withBackend(ctx, func(b *Backend) error { return a.sweep(ctx, b) })
	case "trace-watermark":
		if len(rest) != 1 {
			return ErrUsage
		}
		return a.withBackend(ctx, func(b *Backend) error { return a.trace(ctx, b, rest[0]) })
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, ErrUsage)
	}
}

func (a *App) withBackend(ctx context.Context, fn func(*Backend) error) error {
	b, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if b.Close != nil {
			_ = b.Close()
		}
	}()
	return fn(b)
}
