package attachment

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/team"
)

type fixture struct {
	store *store.SQLiteStore
	files *FileStore
	svc   *Service
	story *models.UserStory
	dev   *models.User
	other *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	files, err := NewFileStore(filepath.Join(dir, "attachments"))
	require.NoError(t, err)

	f := &fixture{store: s, files: files, svc: NewService(s, files, nil)}
	p := &models.Project{ShortName: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))

	f.dev = &models.User{Username: "dev", Email: "dev@example.com"}
	f.other = &models.User{Username: "other", Email: "other@example.com"}
	require.NoError(t, s.CreateUser(ctx, f.dev))
	require.NoError(t, s.CreateUser(ctx, f.other))

	mgr := team.NewManager(s, nil)
	role, err := mgr.CreateRole(ctx, "dev", []models.PermissionKind{models.PermEditMyUserStory})
	require.NoError(t, err)
	_, err = mgr.AddMember(ctx, f.dev.ID, p.ID, []string{role.ID})
	require.NoError(t, err)
	_, err = mgr.AddMember(ctx, f.other.ID, p.ID, []string{role.ID})
	require.NoError(t, err)

	f.story = &models.UserStory{ProjectID: p.ID, Name: "upload", DeveloperID: f.dev.ID}
	require.NoError(t, s.CreateStory(ctx, f.story))
	require.NoError(t, mgr.SyncStoryPermissions(ctx, f.story, ""))
	return f
}

func TestAddAndOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{
		Filename: "../../etc/main.go",
		Kind:     models.AttachmentSource,
		Language: models.LangCLike,
		Data:     []byte("package main\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "main.go", a.Filename)
	assert.Equal(t, "../../etc/main.go", a.Name)
	assert.Equal(t, int64(13), a.Size)
	assert.Contains(t, a.ContentType, "text/plain")

	meta, rc, err := f.svc.Open(ctx, f.other.ID, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
	assert.Equal(t, a.Handle, meta.Handle)

	list, err := f.svc.List(ctx, f.other.ID, f.story.ID)
	require.NoError(t, err, "any project member may read")
	require.Len(t, list, 1)
}

func TestReads_RequireViewProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{Name: "notes", Kind: models.AttachmentText, Data: []byte("hello")})
	require.NoError(t, err)

	stranger := &models.User{Username: "stranger"}
	require.NoError(t, f.store.CreateUser(ctx, stranger))

	for _, actor := range []string{stranger.ID, ""} {
		_, _, err = f.svc.Open(ctx, actor, a.ID)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		_, err = f.svc.List(ctx, actor, f.story.ID)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	}
}

func TestAdd_RequiresEditPermission(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Add(context.Background(), f.other.ID, f.story.ID, Upload{Name: "x", Kind: models.AttachmentText, Data: []byte("x")})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestAdd_ValidatesKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{Name: "x", Kind: models.AttachmentSource, Data: []byte("x")})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "source needs a language")

	_, err = f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{Name: "x", Kind: models.AttachmentImage, Language: models.LangSQL})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "language only for source")

	_, err = f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{Kind: models.AttachmentText})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "name required")
}

func TestUpdateMeta_KeepsBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Add(ctx, f.dev.ID, f.story.ID, Upload{Name: "notes", Kind: models.AttachmentText, Data: []byte("hello")})
	require.NoError(t, err)

	got, err := f.svc.UpdateMeta(ctx, f.dev.ID, a.ID, Meta{Name: "query", Description: "report", Kind: models.AttachmentSource, Language: models.LangSQL})
	require.NoError(t, err)
	assert.Equal(t, "query", got.Name)
	assert.Equal(t, a.Handle, got.Handle)
	assert.Equal(t, a.Size, got.Size)

	stored, err := f.store.GetAttachment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LangSQL, stored.Language)
	assert.Equal(t, "report", stored.Description)

	_, err = f.svc.UpdateMeta(ctx, f.other.ID, a.ID, Meta{Name: "mine", Kind: models.AttachmentText})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestOpen_Missing(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Open(context.Background(), f.dev.ID, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileStore(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	h, err := fs.Put(ctx, []byte("abc"))
	require.NoError(t, err)

	rc, err := fs.Open(ctx, h)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, "abc", string(data))

	require.NoError(t, fs.Delete(ctx, h))
	_, err = fs.Open(ctx, h)
	assert.ErrorIs(t, err, ErrHandleNotFound)

	_, err = fs.Open(ctx, "../secret")
	assert.Error(t, err)
}
