package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestGrantRevokeHas(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	proj := models.ProjectObject("p1")

	ok, err := l.Has(ctx, "u1", proj, models.PermCreateSprint)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Grant(ctx, "u1", proj, models.PermCreateSprint))
	require.NoError(t, l.Grant(ctx, "u1", proj, models.PermViewProject))

	ok, err = l.Has(ctx, "u1", proj, models.PermCreateSprint)
	require.NoError(t, err)
	assert.True(t, ok)

	kinds, err := l.ListFor(ctx, "u1", proj)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.PermissionKind{models.PermCreateSprint, models.PermViewProject}, kinds)

	require.NoError(t, l.Revoke(ctx, "u1", proj, models.PermCreateSprint))
	require.NoError(t, l.Revoke(ctx, "u1", proj, models.PermCreateSprint))

	ok, err = l.Has(ctx, "u1", proj, models.PermCreateSprint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantRejectsScopeMismatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	err := l.Grant(ctx, "u1", models.ProjectObject("p1"), models.PermEditMyUserStory)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = l.Grant(ctx, "u1", models.StoryObject("s1"), models.PermissionKind("fly"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRequire(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Grant(ctx, "dev", models.StoryObject("s1"), models.PermRegisterMyActivity))

	err := l.Require(ctx, "dev",
		OnProject("p1", models.PermRegisterActivity),
		OnStory("s1", models.PermRegisterMyActivity))
	assert.NoError(t, err)

	err = l.Require(ctx, "dev",
		OnProject("p1", models.PermRegisterActivity),
		OnStory("s2", models.PermRegisterMyActivity))
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestGrantsCommitWithTransaction(t *testing.T) {
	_, s := newTestLedger(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, New(tx).Grant(ctx, "u1", models.GlobalObject, models.PermAddFlowTemplate))
		return boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := New(s).Has(ctx, "u1", models.GlobalObject, models.PermAddFlowTemplate)
	require.NoError(t, err)
	assert.False(t, ok, "grant must roll back with its transaction")

	subjects, err := New(s).SubjectsWith(ctx, models.GlobalObject, models.PermAddFlowTemplate)
	require.NoError(t, err)
	assert.Empty(t, subjects)
}
