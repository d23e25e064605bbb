package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

var ts = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var cols = []string{"id", "user_id", "credential_hash", "ip", "user_agent", "valid", "expires_at", "created_at", "last_used_at"}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	s := &models.Session{ID: "s-1", UserID: "u-1", CredentialHash: []byte{1, 2}, IP: "10.0.0.1",
		UserAgent: "curl", ExpiresAt: ts.Add(time.Hour), CreatedAt: ts}

	mock.ExpectExec(q("INSERT INTO sessions")).
		WithArgs("s-1", "u-1", []byte{1, 2}, "10.0.0.1", "curl", ts.Add(time.Hour), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), s))
}

func TestFindByID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(q("FROM sessions WHERE id = $1")).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s-1", "u-1", []byte{9}, "ip", "ua", true, ts.Add(time.Hour), ts, ts))

	s, err := repo.FindByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, s.IsValid(ts))
	assert.Equal(t, []byte{9}, s.CredentialHash)

	mock.ExpectQuery(q("FROM sessions WHERE id = $1")).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "gone")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRotate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	exp := ts.Add(7 * 24 * time.Hour)

	mock.ExpectExec(q("UPDATE sessions SET credential_hash = $3")).
		WithArgs("s-1", []byte("old"), []byte("new"), exp, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Rotate(context.Background(), "s-1", []byte("old"), []byte("new"), exp, ts))

	mock.ExpectExec(q("UPDATE sessions SET credential_hash = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Rotate(context.Background(), "s-1", []byte("stale"), []byte("new"), exp, ts)
	assert.ErrorIs(t, err, common.ErrSessionInvalid)
}

func TestInvalidate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(q("UPDATE sessions SET valid = FALSE WHERE id = $1")).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Invalidate(context.Background(), "s-1"))

	mock.ExpectExec(q("UPDATE sessions SET valid = FALSE WHERE id = $1")).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Invalidate(context.Background(), "nope"), common.ErrorNotFound)
}

func TestInvalidateAll(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(q("UPDATE sessions SET valid = FALSE WHERE user_id = $1 AND valid")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.InvalidateAll(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCountActiveAndInvalidateOldest(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectQuery(q("SELECT COUNT(*) FROM sessions")).
		WithArgs("u-1", ts).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec(q("ORDER BY created_at ASC LIMIT 1")).
		WithArgs("u-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.CountActive(ctx, "u-1", ts)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, repo.InvalidateOldest(ctx, "u-1", ts))
}

func TestListActive(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(q("ORDER BY created_at DESC")).
		WithArgs("u-1", ts).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s-2", "u-1", []byte{2}, "ip", "ua", true, ts.Add(time.Hour), ts, ts).
			AddRow("s-1", "u-1", []byte{1}, "ip", "ua", true, ts.Add(time.Hour), ts.Add(-time.Hour), ts))

	list, err := repo.ListActive(context.Background(), "u-1", ts)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s-2", list[0].ID)

	mock.ExpectQuery(q("ORDER BY created_at DESC")).WillReturnError(errors.New("boom"))
	_, err = repo.ListActive(context.Background(), "u-1", ts)
	assert.Error(t, err)
}
