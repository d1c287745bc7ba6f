// Package sprint creates sprints and allocates user stories into them.
package sprint

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

// Draft describes a sprint to create or the new values of an existing one.
type Draft struct {
	Name    string
	StartAt time.Time
}

// Assignment places one story in the sprint with a developer and a flow.
type Assignment struct {
	StoryID     string
	DeveloperID string
	FlowID      string
}

// Allocator creates sprints and applies story assignments atomically.
type Allocator struct {
	store    store.Store
	notifier story.Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewAllocator returns an Allocator. A nil notifier disables notifications
// and a nil logger falls back to slog.Default().
func NewAllocator(s store.Store, notifier story.Notifier, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{store: s, notifier: notifier, now: time.Now, logger: logger}
}

// prepared is a validated assignment ready to apply.
type prepared struct {
	story    *models.UserStory
	activity *models.Activity
	devID    string
}

// Allocate creates a sprint ending project.SprintDays after its start and
// applies every assignment. Either the sprint and all assignments commit or
// nothing does.
func (a *Allocator) Allocate(ctx context.Context, actorID, projectID string, draft Draft, assignments []Assignment) (*models.Sprint, []*models.UserStory, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "sprint name is required")
	}
	if draft.StartAt.IsZero() {
		return nil, nil, apperrors.New(apperrors.CodeValidation, "sprint start is required")
	}

	var sp *models.Sprint
	var stories []*models.UserStory
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if err := ledger.New(tx).Require(ctx, actorID, ledger.OnProject(projectID, models.PermCreateSprint)); err != nil {
			return err
		}
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return apperrors.FromStore(err, "allocate sprint")
		}
		plan, err := a.prepare(ctx, tx, projectID, assignments)
		if err != nil {
			return err
		}

		sp = &models.Sprint{
			ProjectID: projectID,
			Name:      strings.TrimSpace(draft.Name),
			StartAt:   draft.StartAt,
			EndAt:     EndAt(draft.StartAt, project.SprintDays),
		}
		if err := tx.CreateSprint(ctx, sp); err != nil {
			return apperrors.FromStore(err, "create sprint")
		}
		stories, err = a.apply(ctx, tx, sp, plan)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("sprint allocated", "sprint", sp.ID, "project", projectID, "stories", len(stories), "actor", actorID)
	a.notify(ctx, models.EventSprintCreated, sp, actorID, len(stories))
	return sp, stories, nil
}

// Update renames or reschedules a sprint and applies further assignments
// with the same all-or-nothing contract as Allocate. A zero StartAt keeps the
// current dates; a new start recomputes the end from the project's sprint length.
func (a *Allocator) Update(ctx context.Context, actorID, sprintID string, draft Draft, assignments []Assignment) (*models.Sprint, []*models.UserStory, error) {
	var sp *models.Sprint
	var stories []*models.UserStory
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if sp, err = tx.GetSprint(ctx, sprintID); err != nil {
			return apperrors.FromStore(err, "update sprint")
		}
		if err := ledger.New(tx).Require(ctx, actorID, ledger.OnProject(sp.ProjectID, models.PermEditSprint)); err != nil {
			return err
		}
		project, err := tx.GetProject(ctx, sp.ProjectID)
		if err != nil {
			return apperrors.FromStore(err, "update sprint")
		}
		plan, err := a.prepare(ctx, tx, sp.ProjectID, assignments)
		if err != nil {
			return err
		}

		if name := strings.TrimSpace(draft.Name); name != "" {
			sp.Name = name
		}
		if !draft.StartAt.IsZero() {
			sp.StartAt = draft.StartAt
			sp.EndAt = EndAt(draft.StartAt, project.SprintDays)
		}
		if err := tx.UpdateSprint(ctx, sp); err != nil {
			return apperrors.FromStore(err, "update sprint")
		}
		stories, err = a.apply(ctx, tx, sp, plan)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("sprint updated", "sprint", sp.ID, "stories", len(stories), "actor", actorID)
	a.notify(ctx, models.EventSprintUpdated, sp, actorID, len(stories))
	return sp, stories, nil
}

// Remove deletes a sprint that no story was ever allocated to. It needs
// remove_sprint on the sprint's project.
func (a *Allocator) Remove(ctx context.Context, actorID, sprintID string) error {
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		sp, err := tx.GetSprint(ctx, sprintID)
		if err != nil {
			return apperrors.FromStore(err, "remove sprint")
		}
		if err := ledger.New(tx).Require(ctx, actorID, ledger.OnProject(sp.ProjectID, models.PermRemoveSprint)); err != nil {
			return err
		}
		stories, err := tx.ListStories(ctx, store.StoryFilter{SprintID: sp.ID})
		if err != nil {
			return apperrors.FromStore(err, "remove sprint")
		}
		if len(stories) > 0 {
			return apperrors.New(apperrors.CodeWrongState, "sprint %s holds %d user stories", sp.ID, len(stories))
		}
		return apperrors.FromStore(tx.DeleteSprint(ctx, sp.ID), "remove sprint")
	})
	if err != nil {
		return err
	}
	a.logger.Info("sprint removed", "sprint", sprintID, "actor", actorID)
	return nil
}

// prepare validates every assignment before any is applied.
func (a *Allocator) prepare(ctx context.Context, tx store.Store, projectID string, assignments []Assignment) ([]prepared, error) {
	graph := workflow.New(tx, a.logger)
	seen := make(map[string]bool, len(assignments))
	plan := make([]prepared, 0, len(assignments))

	for i, as := range assignments {
		if as.StoryID == "" || as.DeveloperID == "" || as.FlowID == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "assignment %d needs a story, a developer and a flow", i+1)
		}
		if seen[as.StoryID] {
			return nil, apperrors.New(apperrors.CodeValidation, "story %s is assigned twice", as.StoryID)
		}
		seen[as.StoryID] = true

		us, err := tx.GetStory(ctx, as.StoryID)
		if err != nil {
			return nil, apperrors.FromStore(err, "assignment "+strconv.Itoa(i+1))
		}
		if us.ProjectID != projectID {
			return nil, apperrors.New(apperrors.CodeValidation, "story %s belongs to another project", us.ID)
		}
		// Moving a pending story back to the first activity would leave it
		// awaiting approval for work it has not finished.
		switch us.State {
		case models.StateApproved, models.StateCancelled, models.StatePendingApproval:
			return nil, apperrors.New(apperrors.CodeWrongState, "story %s is %s and cannot be allocated", us.ID, us.State)
		}

		flow, err := tx.GetFlow(ctx, as.FlowID)
		if err != nil {
			return nil, apperrors.FromStore(err, "assignment "+strconv.Itoa(i+1))
		}
		if flow.ProjectID != projectID {
			return nil, apperrors.New(apperrors.CodeValidation, "flow %s is not bound to project %s", flow.ID, projectID)
		}
		first, err := graph.FirstActivity(ctx, flow.ID)
		if err != nil {
			return nil, err
		}

		if _, err := tx.GetMembershipFor(ctx, as.DeveloperID, projectID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperrors.Wrap(apperrors.CodeMembershipNotFound, err,
					"developer "+as.DeveloperID+" is not a member of project "+projectID)
			}
			return nil, apperrors.FromStore(err, "assignment "+strconv.Itoa(i+1))
		}

		plan = append(plan, prepared{story: us, activity: first, devID: as.DeveloperID})
	}
	return plan, nil
}

func (a *Allocator) apply(ctx context.Context, tx store.Store, sp *models.Sprint, plan []prepared) ([]*models.UserStory, error) {
	members := team.NewManager(tx, a.logger)
	out := make([]*models.UserStory, 0, len(plan))
	for _, p := range plan {
		us := p.story
		oldDev := us.DeveloperID

		us.DeveloperID = p.devID
		us.SprintID = sp.ID
		us.ActivityID = p.activity.ID
		us.ActivityState = models.ActivityToDo
		if us.State == models.StateInactive {
			next, err := story.Fire(us.State, story.EventStart, us.ID)
			if err != nil {
				return nil, err
			}
			us.State = next
		}

		if err := tx.UpdateStory(ctx, us); err != nil {
			return nil, apperrors.FromStore(err, "allocate story")
		}
		if err := members.SyncStoryPermissions(ctx, us, oldDev); err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	return out, nil
}

func (a *Allocator) notify(ctx context.Context, t models.EventType, sp *models.Sprint, actorID string, n int) {
	if a.notifier == nil {
		return
	}
	ev := models.Event{
		Type:      t,
		ProjectID: sp.ProjectID,
		SprintID:  sp.ID,
		ActorID:   actorID,
		Timestamp: a.now().UTC(),
	}
	a.notifier.Notify(ctx, ev, nil, map[string]string{"sprint": sp.Name, "stories": strconv.Itoa(n)})
}

// Get returns a sprint by id.
func (a *Allocator) Get(ctx context.Context, id string) (*models.Sprint, error) {
	sp, err := a.store.GetSprint(ctx, id)
	if err != nil {
		return nil, apperrors.FromStore(err, "get sprint")
	}
	return sp, nil
}

// List returns the sprints of a project ordered by start.
func (a *Allocator) List(ctx context.Context, projectID string) ([]*models.Sprint, error) {
	sprints, err := a.store.ListSprints(ctx, projectID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list sprints")
	}
	return sprints, nil
}

// EndAt returns the end of a sprint starting at start for days-long sprints.
func EndAt(start time.Time, days int) time.Time {
	return models.SprintEnd(start, days)
}
