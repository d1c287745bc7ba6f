package sprint

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev models.Event, _ *models.UserStory, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fixture struct {
	store    *store.SQLiteStore
	alloc    *Allocator
	notifier *recordingNotifier
	project  *models.Project
	flow     *models.Flow
	first    *models.Activity
	lead     *models.User
	dev      *models.User
	outsider *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, notifier: &recordingNotifier{}}
	f.alloc = NewAllocator(s, f.notifier, nil)

	f.project = &models.Project{ShortName: "P", SprintDays: 14}
	require.NoError(t, s.CreateProject(ctx, f.project))

	mgr := team.NewManager(s, nil)
	leadRole, err := mgr.CreateRole(ctx, "lead", []models.PermissionKind{
		models.PermCreateSprint, models.PermEditSprint, models.PermRemoveSprint, models.PermCreateFlow,
	})
	require.NoError(t, err)
	devRole, err := mgr.CreateRole(ctx, "dev", []models.PermissionKind{models.PermRegisterMyActivity, models.PermEditMyUserStory})
	require.NoError(t, err)

	f.lead = f.user(t, "lead")
	f.dev = f.user(t, "dev")
	f.outsider = f.user(t, "outsider")
	_, err = mgr.AddMember(ctx, f.lead.ID, f.project.ID, []string{leadRole.ID})
	require.NoError(t, err)
	_, err = mgr.AddMember(ctx, f.dev.ID, f.project.ID, []string{devRole.ID})
	require.NoError(t, err)

	graph := workflow.New(s, nil)
	f.flow, err = graph.CreateFlow(ctx, f.lead.ID, "dev flow", f.project.ID, "analysis", "build")
	require.NoError(t, err)
	f.first, err = graph.FirstActivity(ctx, f.flow.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) story(t *testing.T, name string) *models.UserStory {
	t.Helper()
	us := &models.UserStory{ProjectID: f.project.ID, Name: name, Priority: models.PriorityMedium, EstimatedHours: 8}
	require.NoError(t, f.store.CreateStory(context.Background(), us))
	return us
}

func (f *fixture) sprintCount(t *testing.T) int {
	t.Helper()
	sprints, err := f.alloc.List(context.Background(), f.project.ID)
	require.NoError(t, err)
	return len(sprints)
}

var start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestAllocate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	us := f.story(t, "login")

	sp, stories, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "Sprint 1", StartAt: start},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	require.NoError(t, err)

	assert.Equal(t, start.AddDate(0, 0, 14), sp.EndAt)
	require.Len(t, stories, 1)

	got, err := f.store.GetStory(ctx, us.ID)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, got.SprintID)
	assert.Equal(t, f.dev.ID, got.DeveloperID)
	assert.Equal(t, f.first.ID, got.ActivityID)
	assert.Equal(t, models.ActivityToDo, got.ActivityState)
	assert.Equal(t, models.StateInProgress, got.State)

	kinds, err := ledger.New(f.store).ListFor(ctx, f.dev.ID, models.StoryObject(us.ID))
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.PermissionKind{models.PermRegisterMyActivity, models.PermEditMyUserStory}, kinds)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventSprintCreated, f.notifier.events[0].Type)
	assert.Equal(t, sp.ID, f.notifier.events[0].SprintID)
}

func TestAllocate_RequiresCreateSprint(t *testing.T) {
	f := newFixture(t)
	us := f.story(t, "login")

	_, _, err := f.alloc.Allocate(context.Background(), f.dev.ID, f.project.ID, Draft{Name: "S", StartAt: start},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	assert.Zero(t, f.sprintCount(t))
	assert.Empty(t, f.notifier.events)
}

func TestAllocate_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.story(t, "good")
	bad := f.story(t, "bad")

	_, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start}, []Assignment{
		{StoryID: good.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID},
		{StoryID: bad.ID, DeveloperID: f.outsider.ID, FlowID: f.flow.ID},
	})
	assert.ErrorIs(t, err, apperrors.ErrMembershipNotFound)

	assert.Zero(t, f.sprintCount(t))
	got, err := f.store.GetStory(ctx, good.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SprintID)
	assert.Empty(t, got.DeveloperID)
	assert.Equal(t, models.StateInactive, got.State)
}

func TestAllocate_RejectsInvalidAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	us := f.story(t, "login")

	other := &models.Project{ShortName: "Q"}
	require.NoError(t, f.store.CreateProject(ctx, other))
	require.NoError(t, ledger.New(f.store).Grant(ctx, f.lead.ID, models.ProjectObject(other.ID), models.PermCreateFlow))
	foreignFlow, err := workflow.New(f.store, nil).CreateFlow(ctx, f.lead.ID, "foreign", other.ID, "A1")
	require.NoError(t, err)
	emptyFlow, err := workflow.New(f.store, nil).CreateFlow(ctx, f.lead.ID, "empty", f.project.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		as   []Assignment
		want error
	}{
		{"missing story", []Assignment{{StoryID: "nope", DeveloperID: f.dev.ID, FlowID: f.flow.ID}}, apperrors.ErrNotFound},
		{"foreign flow", []Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: foreignFlow.ID}}, apperrors.ErrValidation},
		{"empty flow", []Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: emptyFlow.ID}}, apperrors.ErrValidation},
		{"duplicate story", []Assignment{
			{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID},
			{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID},
		}, apperrors.ErrValidation},
		{"incomplete", []Assignment{{StoryID: us.ID}}, apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start}, tt.as)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.sprintCount(t))
}

func TestAllocate_RejectsFinishedStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	us := f.story(t, "done")
	us.State = models.StateApproved
	require.NoError(t, f.store.UpdateStory(ctx, us))

	_, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	assert.ErrorIs(t, err, apperrors.ErrWrongState)
}

func TestAllocate_RejectsPendingApprovalStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	us := f.story(t, "awaiting review")
	us.State = models.StatePendingApproval
	us.ActivityState = models.ActivityDone
	require.NoError(t, f.store.UpdateStory(ctx, us))

	_, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	assert.ErrorIs(t, err, apperrors.ErrWrongState)
	assert.Zero(t, f.sprintCount(t))

	got, err := f.store.GetStory(ctx, us.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingApproval, got.State)
	assert.Equal(t, models.ActivityDone, got.ActivityState)
	assert.Empty(t, got.ActivityID)
	assert.Empty(t, got.SprintID)
}

func TestAllocate_DraftValidation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.alloc.Allocate(context.Background(), f.lead.ID, f.project.ID, Draft{StartAt: start}, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, _, err = f.alloc.Allocate(context.Background(), f.lead.ID, f.project.ID, Draft{Name: "S"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdate_ReschedulesAndAssigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start}, nil)
	require.NoError(t, err)

	us := f.story(t, "late addition")
	newStart := start.AddDate(0, 0, 7)
	updated, stories, err := f.alloc.Update(ctx, f.lead.ID, sp.ID, Draft{Name: "S (moved)", StartAt: newStart},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	require.NoError(t, err)
	require.Len(t, stories, 1)

	assert.Equal(t, "S (moved)", updated.Name)
	assert.Equal(t, newStart.AddDate(0, 0, 14), updated.EndAt)

	got, err := f.alloc.Get(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "S (moved)", got.Name)

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, models.EventSprintUpdated, f.notifier.events[1].Type)
}

func TestUpdate_RequiresEditSprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S", StartAt: start}, nil)
	require.NoError(t, err)

	_, _, err = f.alloc.Update(ctx, f.dev.ID, sp.ID, Draft{Name: "hijack"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, _, err = f.alloc.Update(ctx, f.lead.ID, "missing", Draft{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRemove_EmptySprintOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	us := f.story(t, "login")

	busy, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S1", StartAt: start},
		[]Assignment{{StoryID: us.ID, DeveloperID: f.dev.ID, FlowID: f.flow.ID}})
	require.NoError(t, err)
	idle, _, err := f.alloc.Allocate(ctx, f.lead.ID, f.project.ID, Draft{Name: "S2", StartAt: start}, nil)
	require.NoError(t, err)

	err = f.alloc.Remove(ctx, f.lead.ID, busy.ID)
	assert.ErrorIs(t, err, apperrors.ErrWrongState)

	for _, actor := range []string{f.dev.ID, f.outsider.ID, ""} {
		err = f.alloc.Remove(ctx, actor, idle.ID)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	}
	assert.Equal(t, 2, f.sprintCount(t))

	require.NoError(t, f.alloc.Remove(ctx, f.lead.ID, idle.ID))
	assert.Equal(t, 1, f.sprintCount(t))
	err = f.alloc.Remove(ctx, f.lead.ID, idle.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
