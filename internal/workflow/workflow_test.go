package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

type fixture struct {
	store    *store.SQLiteStore
	graph    *Graph
	project  *models.Project
	designer *models.User
}

// newFixture returns a graph and a designer holding every flow permission
// on the project plus the global template kinds.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	p := &models.Project{ShortName: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))
	designer := &models.User{Username: "designer"}
	require.NoError(t, s.CreateUser(ctx, designer))

	l := ledger.New(s)
	for _, k := range []models.PermissionKind{models.PermCreateFlow, models.PermEditFlow, models.PermRemoveFlow} {
		require.NoError(t, l.Grant(ctx, designer.ID, models.ProjectObject(p.ID), k))
	}
	for _, k := range []models.PermissionKind{models.PermAddFlowTemplate, models.PermChangeFlowTemplate, models.PermDeleteFlowTemplate} {
		require.NoError(t, l.Grant(ctx, designer.ID, models.GlobalObject, k))
	}
	return &fixture{store: s, graph: New(s, nil), project: p, designer: designer}
}

func (f *fixture) stranger(t *testing.T) *models.User {
	t.Helper()
	u := &models.User{Username: "stranger"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func buildFlow(t *testing.T, f *fixture, projectID string, names ...string) (*models.Flow, []*models.Activity) {
	t.Helper()
	ctx := context.Background()
	flow, err := f.graph.CreateFlow(ctx, f.designer.ID, "flow", projectID, names...)
	require.NoError(t, err)
	acts, err := f.graph.ActivitiesOf(ctx, flow.ID)
	require.NoError(t, err)
	return flow, acts
}

func TestNextActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, acts := buildFlow(t, f, f.project.ID, "A1", "A2", "A3")

	next, err := f.graph.NextActivity(ctx, acts[0].ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "A2", next.Name)

	next, err = f.graph.NextActivity(ctx, acts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "A3", next.Name)

	next, err = f.graph.NextActivity(ctx, acts[2].ID)
	require.NoError(t, err)
	assert.Nil(t, next, "tail has no next activity")
}

func TestActivitiesOf_Ordered(t *testing.T) {
	f := newFixture(t)
	flow, _ := buildFlow(t, f, f.project.ID, "analysis", "build")

	_, err := f.graph.AppendActivity(context.Background(), f.designer.ID, flow.ID, "review")
	require.NoError(t, err)

	acts, err := f.graph.ActivitiesOf(context.Background(), flow.ID)
	require.NoError(t, err)
	var names []string
	for _, a := range acts {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"analysis", "build", "review"}, names)
}

func TestFirstActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, _ := buildFlow(t, f, f.project.ID)
	_, err := f.graph.FirstActivity(ctx, empty.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	flow, acts := buildFlow(t, f, f.project.ID, "A1", "A2")
	first, err := f.graph.FirstActivity(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, acts[0].ID, first.ID)
}

func TestAppendActivity_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.graph.AppendActivity(ctx, f.designer.ID, "missing", "A1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.graph.CreateFlow(ctx, f.designer.ID, "  ", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.graph.CreateFlow(ctx, f.designer.ID, "flow", f.project.ID, "A1", " ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	flows, err := f.graph.ListFlows(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestFlowOperations_RequirePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := f.stranger(t)
	flow, _ := buildFlow(t, f, f.project.ID, "A1")
	tmpl, _ := buildFlow(t, f, "", "todo")

	for _, actor := range []string{stranger.ID, ""} {
		_, err := f.graph.CreateFlow(ctx, actor, "mine", f.project.ID, "A1")
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		_, err = f.graph.CreateFlow(ctx, actor, "template", "")
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		_, err = f.graph.AppendActivity(ctx, actor, flow.ID, "A2")
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		_, err = f.graph.AppendActivity(ctx, actor, tmpl.ID, "doing")
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		_, err = f.graph.Instantiate(ctx, actor, tmpl.ID, f.project.ID, "")
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		err = f.graph.RemoveFlow(ctx, actor, flow.ID)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
		err = f.graph.RemoveFlow(ctx, actor, tmpl.ID)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	}

	flows, err := f.graph.ListFlows(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
	acts, err := f.graph.ActivitiesOf(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestFlowOperations_ProjectGrantDoesNotCoverTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.stranger(t)
	require.NoError(t, ledger.New(f.store).Grant(ctx, lead.ID, models.ProjectObject(f.project.ID), models.PermCreateFlow))

	_, err := f.graph.CreateFlow(ctx, lead.ID, "mine", f.project.ID, "A1")
	require.NoError(t, err)
	_, err = f.graph.CreateFlow(ctx, lead.ID, "template", "")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestRemoveFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flow, acts := buildFlow(t, f, f.project.ID, "A1")

	us := &models.UserStory{ProjectID: f.project.ID, Name: "login", ActivityID: acts[0].ID}
	require.NoError(t, f.store.CreateStory(ctx, us))
	err := f.graph.RemoveFlow(ctx, f.designer.ID, flow.ID)
	assert.ErrorIs(t, err, apperrors.ErrWrongState)

	require.NoError(t, f.store.DeleteStory(ctx, us.ID))
	require.NoError(t, f.graph.RemoveFlow(ctx, f.designer.ID, flow.ID))
	_, err = f.graph.ActivitiesOf(ctx, flow.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	tmpl, _ := buildFlow(t, f, "", "todo")
	require.NoError(t, f.graph.RemoveFlow(ctx, f.designer.ID, tmpl.ID))
	err = f.graph.RemoveFlow(ctx, f.designer.ID, tmpl.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestInstantiateTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl, _ := buildFlow(t, f, "", "todo", "doing", "review")
	templates, err := f.graph.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	flow, err := f.graph.Instantiate(ctx, f.designer.ID, tmpl.ID, f.project.ID, "")
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, flow.ProjectID)
	assert.Equal(t, tmpl.Name, flow.Name)

	acts, err := f.graph.ActivitiesOf(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, "review", acts[2].Name)

	_, err = f.graph.Instantiate(ctx, f.designer.ID, flow.ID, f.project.ID, "copy")
	assert.ErrorIs(t, err, apperrors.ErrValidation, "project flows are not templates")

	flows, err := f.graph.ListFlows(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}
