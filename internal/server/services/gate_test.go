package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

var manuscriptText = []byte("%PDF-1.7 folio 12r, marginalia in a later hand")

func gateFixture(t *testing.T) *testEnv {
	t.Helper()
	env := grantFixture(t)
	_, err := env.files.Upload(context.Background(), "O", "M", "application/pdf", manuscriptText)
	require.NoError(t, err)
	return env
}

func TestOperation_Required(t *testing.T) {
	tests := map[Operation]models.AccessLevel{
		OpViewMetadata: models.LevelViewMetadata,
		OpViewContent:  models.LevelViewContent,
		OpDownload:     models.LevelDownload,
	}
	for op, want := range tests {
		got, ok := op.Required()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := Operation("print").Required()
	assert.False(t, ok)
}

// User U asks for DOWNLOAD, the reviewer grants only VIEW_CONTENT for 30
// days: downloads are denied, reading is allowed.
func TestContentGate_ReducedApproval(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelDownload, nil)
	_, err := env.engine.Approve(ctx, "R", req.ID, Decision{Level: models.LevelViewContent, Days: intp(30)})
	require.NoError(t, err)

	_, err = env.gate.AuthorizeContentAccess(ctx, "U", "M", OpDownload)
	assert.ErrorIs(t, err, common.ErrInsufficientAccess)

	permit, err := env.gate.AuthorizeContentAccess(ctx, "U", "M", OpViewContent)
	require.NoError(t, err)
	assert.Equal(t, models.LevelViewContent, permit.Level)
	assert.Equal(t, BasisGrant, permit.Basis)
}

func TestContentGate_VisibilityBaseline(t *testing.T) {
	env := grantFixture(t)
	env.addManuscript("PUB", "O", models.VisibilityPublic)
	env.addManuscript("PRIV", "O", models.VisibilityPrivate)
	ctx := context.Background()

	tests := []struct {
		name       string
		user       string
		manuscript string
		op         Operation
		allowed    bool
	}{
		{"anonymous public metadata", "", "PUB", OpViewMetadata, true},
		{"anonymous public content", "", "PUB", OpViewContent, false},
		{"anonymous restricted metadata", "", "M", OpViewMetadata, false},
		{"user restricted metadata", "U", "M", OpViewMetadata, true},
		{"user restricted content", "U", "M", OpViewContent, false},
		{"user private metadata", "U", "PRIV", OpViewMetadata, false},
		{"owner private download", "O", "PRIV", OpDownload, true},
		{"admin private download", "A", "PRIV", OpDownload, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.gate.AuthorizeContentAccess(ctx, tt.user, tt.manuscript, tt.op)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrInsufficientAccess)
			}
		})
	}
}

func TestContentGate_Concealment(t *testing.T) {
	env := grantFixture(t)
	env.addManuscript("PRIV", "O", models.VisibilityPrivate)
	ctx := context.Background()

	_, errMissing := env.gate.AuthorizeContentAccess(ctx, "", "no-such-id", OpViewMetadata)
	_, errForbidden := env.gate.AuthorizeContentAccess(ctx, "", "PRIV", OpViewMetadata)
	assert.ErrorIs(t, errMissing, common.ErrInsufficientAccess)
	assert.ErrorIs(t, errForbidden, common.ErrInsufficientAccess)
	assert.Equal(t, errMissing.Error(), errForbidden.Error())

	_, err := env.gate.AuthorizeContentAccess(ctx, "U", "no-such-id", OpViewMetadata)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestContentGate_UnknownOperation(t *testing.T) {
	env := grantFixture(t)
	_, err := env.gate.AuthorizeContentAccess(context.Background(), "O", "M", Operation("print"))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestContentGate_DeliverViewRecordsUsage(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelViewContent, nil)
	g, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	content, err := env.gate.Deliver(ctx, "U", "M", OpViewContent)
	require.NoError(t, err)
	assert.Equal(t, manuscriptText, content.Data)
	assert.Equal(t, "application/pdf", content.MimeType)
	assert.Empty(t, content.WatermarkID)
	assert.Equal(t, []string{g.ID + ":VIEW"}, env.sink.Events())
}

func TestContentGate_DeliverDownloadWatermarks(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelDownload, nil)
	g, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	content, err := env.gate.Deliver(ctx, "U", "M", OpDownload)
	require.NoError(t, err)
	assert.Equal(t, g.WatermarkID, content.WatermarkID)
	assert.Equal(t, append(append([]byte(nil), manuscriptText...), []byte("\n#"+g.WatermarkID)...), content.Data)
	assert.Equal(t, []string{g.ID + ":DOWNLOAD"}, env.sink.Events())
}

func TestContentGate_OwnerDeliveryHasNoGrantUsage(t *testing.T) {
	env := gateFixture(t)

	content, err := env.gate.Deliver(context.Background(), "O", "M", OpDownload)
	require.NoError(t, err)
	assert.Equal(t, manuscriptText, content.Data)
	assert.Empty(t, content.WatermarkID)
	assert.Empty(t, env.sink.Events())
}

func TestContentGate_DeliverRejectsMetadataOperation(t *testing.T) {
	env := gateFixture(t)
	_, err := env.gate.Deliver(context.Background(), "O", "M", OpViewMetadata)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestContentGate_DeliverWithoutFile(t *testing.T) {
	env := grantFixture(t)
	_, err := env.gate.Deliver(context.Background(), "O", "M", OpViewContent)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestContentGate_TamperedFileIsIntegrityError(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	m := env.st.manuscripts["M"]
	require.NoError(t, env.blobs.Put(ctx, *m.StorageKey, bytes.Repeat([]byte{0x5a}, 128), ""))

	_, err := env.gate.Deliver(ctx, "O", "M", OpViewContent)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestContentGate_UsageFailureDoesNotBlockDelivery(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelViewContent, nil)
	g, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	rec := NewUsageRecorder(nil, env.rm, 4, logging.Nop(), nil)
	env.gate.usage = rec
	env.st.usageErr = errors.New("counter table locked")

	content, err := env.gate.Deliver(ctx, "U", "M", OpViewContent)
	require.NoError(t, err)
	assert.Equal(t, manuscriptText, content.Data)

	rec.drain()
	assert.Equal(t, 0, env.st.grants[g.ID].ViewCount)
}

func TestContentGate_Link(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelDownload, nil)
	g, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	before := env.blobs.Len()
	link, err := env.gate.Link(ctx, "U", "M")
	require.NoError(t, err)
	assert.Equal(t, g.WatermarkID, link.WatermarkID)
	assert.Contains(t, link.URL, "mem://renditions")
	assert.Equal(t, before+1, env.blobs.Len())

	_, err = env.gate.Link(ctx, "R", "M")
	assert.ErrorIs(t, err, common.ErrInsufficientAccess)
}

func TestContentGate_LinkRenditionRemovedOnRevoke(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelDownload, nil)
	_, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	link, err := env.gate.Link(ctx, "U", "M")
	require.NoError(t, err)
	data, err := env.blobs.Get(ctx, link.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(manuscriptText))

	_, err = env.engine.Revoke(ctx, "O", "M", "U", "leak suspected")
	require.NoError(t, err)

	_, err = env.blobs.Get(ctx, link.StorageKey)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, env.st.renditions)
}

func TestContentGate_LinkRenditionRemovedOnSupersede(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	r1 := submit(t, env, "U", models.LevelDownload, nil)
	_, err := env.engine.Approve(ctx, "R", r1.ID, Decision{})
	require.NoError(t, err)

	link, err := env.gate.Link(ctx, "U", "M")
	require.NoError(t, err)

	r2 := submit(t, env, "U", models.LevelFullAccess, nil)
	_, err = env.engine.Approve(ctx, "R", r2.ID, Decision{})
	require.NoError(t, err)

	_, err = env.blobs.Get(ctx, link.StorageKey)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestContentGate_LinkRenditionRemovedAfterTTL(t *testing.T) {
	env := gateFixture(t)
	ctx := context.Background()

	req := submit(t, env, "U", models.LevelDownload, nil)
	_, err := env.engine.Approve(ctx, "R", req.ID, Decision{})
	require.NoError(t, err)

	link, err := env.gate.Link(ctx, "U", "M")
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(10*time.Minute), link.ExpiresAt)

	// sweep before the URL lapses keeps the copy
	_, err = env.engine.SweepExpired(ctx)
	require.NoError(t, err)
	_, err = env.blobs.Get(ctx, link.StorageKey)
	require.NoError(t, err)

	env.clock.Advance(11 * time.Minute)
	_, err = env.engine.SweepExpired(ctx)
	require.NoError(t, err)

	_, err = env.blobs.Get(ctx, link.StorageKey)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
