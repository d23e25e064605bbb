package manuscripts

import (
	"context"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

// FileRef points at the encrypted file of a manuscript.
type FileRef struct {
	StorageKey string
	Checksum   string
	KeyID      string
	MimeType   string
}

type Repository interface {
	Create(ctx context.Context, m *models.Manuscript) error
	GetByID(ctx context.Context, id string) (*models.Manuscript, error)
	AttachFile(ctx context.Context, id string, ref FileRef) error
}
