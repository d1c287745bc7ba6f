// Package story implements the user story state machine: creation, edits,
// progress recording through a flow, approval and cancellation.
package story

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/revision"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

// Notifier is told about committed transitions. Implementations must not
// fail the caller; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event, us *models.UserStory, extra map[string]string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Event, *models.UserStory, map[string]string) {}

// Service runs story transitions. Each transition executes in one store
// transaction; notifications are sent after it commits.
type Service struct {
	store    store.Store
	notifier Notifier
	blobs    BlobRemover
	now      func() time.Time
	logger   *slog.Logger
}

// BlobRemover deletes stored attachment bytes by handle.
type BlobRemover interface {
	Delete(ctx context.Context, handle string) error
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the notifier that receives committed transitions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithBlobRemover lets Delete drop the bytes of a story's attachments.
func WithBlobRemover(b BlobRemover) Option {
	return func(s *Service) { s.blobs = b }
}

// WithClock replaces time.Now for sprint window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService returns a Service. A nil logger falls back to slog.Default().
func NewService(s store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{store: s, notifier: nopNotifier{}, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Patch lists the fields an edit changes. Nil fields are left alone.
type Patch struct {
	Name           *string
	Description    *string
	Priority       *models.Priority
	BusinessValue  *int
	TechnicalValue *int
	EstimatedHours *int
}

// Progress is the input of RecordProgress.
type Progress struct {
	Hours         int
	ActivityState models.ActivityState
	Message       string
}

// pending is a notification to send after commit.
type pending struct {
	ev    models.Event
	story models.UserStory
	extra map[string]string
}

func (s *Service) event(t models.EventType, us *models.UserStory, actorID string) models.Event {
	return models.Event{
		Type:      t,
		ProjectID: us.ProjectID,
		StoryID:   us.ID,
		SprintID:  us.SprintID,
		ActorID:   actorID,
		Timestamp: s.now().UTC(),
	}
}

func (s *Service) flush(ctx context.Context, out []pending) {
	for i := range out {
		s.notifier.Notify(ctx, out[i].ev, &out[i].story, out[i].extra)
	}
}

func loadStory(ctx context.Context, tx store.Store, id string) (*models.UserStory, error) {
	us, err := tx.GetStory(ctx, id)
	if err != nil {
		return nil, apperrors.FromStore(err, "load story")
	}
	return us, nil
}

func requireEdit(ctx context.Context, l *ledger.Ledger, actorID string, us *models.UserStory) error {
	return l.Require(ctx, actorID,
		ledger.OnProject(us.ProjectID, models.PermEditUserStory),
		ledger.OnStory(us.ID, models.PermEditMyUserStory))
}

// requireView checks that actorID may see projectID.
func requireView(ctx context.Context, s store.Store, actorID, projectID string) error {
	return ledger.New(s).Require(ctx, actorID, ledger.OnProject(projectID, models.PermViewProject))
}

// Get returns a story by id to an actor who may view its project.
func (s *Service) Get(ctx context.Context, actorID, id string) (*models.UserStory, error) {
	us, err := loadStory(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := requireView(ctx, s.store, actorID, us.ProjectID); err != nil {
		return nil, err
	}
	return us, nil
}

// List returns the stories matching filter. A filter naming a project
// requires view_project on it; otherwise stories of projects the actor
// cannot view are left out.
func (s *Service) List(ctx context.Context, actorID string, filter store.StoryFilter) ([]*models.UserStory, error) {
	if filter.ProjectID != "" {
		if err := requireView(ctx, s.store, actorID, filter.ProjectID); err != nil {
			return nil, err
		}
	}
	stories, err := s.store.ListStories(ctx, filter)
	if err != nil {
		return nil, apperrors.FromStore(err, "list stories")
	}
	if filter.ProjectID != "" {
		return stories, nil
	}

	l := ledger.New(s.store)
	visible := make(map[string]bool)
	out := stories[:0]
	for _, us := range stories {
		ok, seen := visible[us.ProjectID]
		if !seen {
			if ok, err = l.Has(ctx, actorID, models.ProjectObject(us.ProjectID), models.PermViewProject); err != nil {
				return nil, apperrors.FromStore(err, "list stories")
			}
			visible[us.ProjectID] = ok
		}
		if ok {
			out = append(out, us)
		}
	}
	return out, nil
}

// Notes returns the notes of a story, oldest first.
func (s *Service) Notes(ctx context.Context, actorID, storyID string) ([]*models.Note, error) {
	if _, err := s.Get(ctx, actorID, storyID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, storyID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list notes")
	}
	return notes, nil
}

// Create adds a story to a project in state Inactive/ToDo. The priority in
// fields is kept only when the actor may prioritize; otherwise it is low.
func (s *Service) Create(ctx context.Context, actorID, projectID string, fields models.StoryFields) (*models.UserStory, error) {
	var us *models.UserStory
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		l := ledger.New(tx)
		if err := l.Require(ctx, actorID, ledger.OnProject(projectID, models.PermCreateUserStory)); err != nil {
			return err
		}
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return apperrors.FromStore(err, "create story")
		}
		canPrioritize, err := l.Has(ctx, actorID, models.ProjectObject(projectID), models.PermPrioritizeUserStory)
		if err != nil {
			return err
		}
		if !canPrioritize {
			fields.Priority = models.PriorityLow
		}
		if err := fields.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
		}

		us = &models.UserStory{
			ProjectID:     projectID,
			State:         models.StateInactive,
			ActivityState: models.ActivityToDo,
		}
		us.Apply(fields)
		if err := tx.CreateStory(ctx, us); err != nil {
			return apperrors.FromStore(err, "create story")
		}
		_, _, err = revision.New(tx).Snapshot(ctx, us, actorID, "initial version")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("story created", "story", us.ID, "project", projectID, "actor", actorID)
	s.flush(ctx, []pending{{ev: s.event(models.EventStoryCreated, us, actorID), story: *us}})
	return us, nil
}

// Edit applies patch to a story. A priority change is applied only when the
// actor may prioritize. An edit that changes nothing writes nothing.
func (s *Service) Edit(ctx context.Context, actorID, storyID string, patch Patch) (*models.UserStory, error) {
	var us *models.UserStory
	var changed []string
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		l := ledger.New(tx)
		if err := requireEdit(ctx, l, actorID, us); err != nil {
			return err
		}

		fields := us.Fields()
		if patch.Name != nil {
			fields.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			fields.Description = *patch.Description
		}
		if patch.BusinessValue != nil {
			fields.BusinessValue = *patch.BusinessValue
		}
		if patch.TechnicalValue != nil {
			fields.TechnicalValue = *patch.TechnicalValue
		}
		if patch.EstimatedHours != nil {
			fields.EstimatedHours = *patch.EstimatedHours
		}
		if patch.Priority != nil && *patch.Priority != fields.Priority {
			ok, err := l.Has(ctx, actorID, models.ProjectObject(us.ProjectID), models.PermPrioritizeUserStory)
			if err != nil {
				return err
			}
			if ok {
				fields.Priority = *patch.Priority
			}
		}

		changed, err = s.applyFields(ctx, tx, us, fields, actorID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return us, nil
	}
	s.logger.Info("story edited", "story", us.ID, "actor", actorID, "changed", strings.Join(changed, ","))
	s.flush(ctx, []pending{{
		ev:    s.event(models.EventStoryChanged, us, actorID),
		story: *us,
		extra: map[string]string{"changes": strings.Join(changed, ", ")},
	}})
	return us, nil
}

// applyFields validates and writes new tracked fields and appends a
// revision. comment defaults to the list of changed fields.
func (s *Service) applyFields(ctx context.Context, tx store.Store, us *models.UserStory, fields models.StoryFields, actorID, comment string) ([]string, error) {
	if err := fields.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
	}
	changed := us.Fields().Changed(fields)
	if len(changed) == 0 {
		return nil, nil
	}
	us.Apply(fields)
	if err := tx.UpdateStory(ctx, us); err != nil {
		return nil, apperrors.FromStore(err, "update story")
	}
	if comment == "" {
		comment = "changed: " + strings.Join(changed, ", ")
	}
	if _, _, err := revision.New(tx).Snapshot(ctx, us, actorID, comment); err != nil {
		return nil, err
	}
	return changed, nil
}

// RecordProgress registers hours and a sub-state change for a story. The
// gates run in order: permission, sprint window, priority, lifecycle state.
// Reaching Done advances to the next activity, or at the tail of the flow
// moves the story to PendingApproval.
func (s *Service) RecordProgress(ctx context.Context, actorID, storyID string, p Progress) (*models.UserStory, error) {
	if p.Hours < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "hours must not be negative")
	}
	if !p.ActivityState.Valid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown activity state: %d", int(p.ActivityState))
	}

	var us *models.UserStory
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}

		l := ledger.New(tx)
		if err := l.Require(ctx, actorID,
			ledger.OnProject(us.ProjectID, models.PermRegisterActivity),
			ledger.OnStory(us.ID, models.PermRegisterMyActivity)); err != nil {
			return err
		}
		if err := s.checkSprintWindow(ctx, tx, us); err != nil {
			return err
		}
		higher, err := tx.CountHigherPriority(ctx, us)
		if err != nil {
			return apperrors.FromStore(err, "check priority")
		}
		if higher > 0 {
			return apperrors.New(apperrors.CodeLowerPriority,
				"story %s is outranked by %d higher priority stories in the same slot", us.ID, higher)
		}
		if us.State != models.StateInProgress || us.ActivityID == "" {
			return apperrors.New(apperrors.CodeWrongState, "story %s is %s, not in progress", us.ID, us.State)
		}

		if p.Hours > math.MaxInt-us.RecordedHours {
			return apperrors.New(apperrors.CodeValidation, "hours %d would overflow the recorded effort of story %s", p.Hours, us.ID)
		}
		us.RecordedHours += p.Hours
		if p.ActivityState == models.ActivityDone {
			next, err := workflow.New(tx, s.logger).NextActivity(ctx, us.ActivityID)
			if err != nil {
				return err
			}
			if next != nil {
				us.ActivityID = next.ID
				us.ActivityState = models.ActivityToDo
			} else {
				if us.State, err = Fire(us.State, EventFinish, us.ID); err != nil {
					return err
				}
				us.ActivityState = models.ActivityDone
			}
		} else {
			us.ActivityState = p.ActivityState
		}

		if err := tx.UpdateStory(ctx, us); err != nil {
			return apperrors.FromStore(err, "record progress")
		}
		note := &models.Note{
			StoryID:       us.ID,
			Message:       p.Message,
			HoursDelta:    p.Hours,
			RecordedHours: us.RecordedHours,
			DeveloperID:   us.DeveloperID,
			SprintID:      us.SprintID,
			ActivityID:    us.ActivityID,
			State:         us.State,
			ActivityState: us.ActivityState,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.CreateNote(ctx, note); err != nil {
			return apperrors.FromStore(err, "record progress note")
		}
		_, _, err = revision.New(tx).Snapshot(ctx, us, actorID, "progress recorded")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("story progress recorded", "story", us.ID, "hours", p.Hours,
		"state", us.State.String(), "activity_state", us.ActivityState.String(), "actor", actorID)
	s.flush(ctx, []pending{{
		ev:    s.event(models.EventStoryProgress, us, actorID),
		story: *us,
		extra: map[string]string{"hours": strconv.Itoa(p.Hours), "message": p.Message},
	}})
	return us, nil
}

func (s *Service) checkSprintWindow(ctx context.Context, tx store.Store, us *models.UserStory) error {
	if us.SprintID == "" {
		return apperrors.New(apperrors.CodeSprintExpired, "story %s is not in a sprint", us.ID)
	}
	sp, err := tx.GetSprint(ctx, us.SprintID)
	if err != nil {
		return apperrors.FromStore(err, "load sprint")
	}
	if !sp.Contains(s.now()) {
		return apperrors.New(apperrors.CodeSprintExpired, "sprint %s is not running (%s to %s)",
			sp.Name, sp.StartAt.Format(time.DateOnly), sp.EndAt.Format(time.DateOnly))
	}
	return nil
}

// Approve accepts a story waiting for approval.
func (s *Service) Approve(ctx context.Context, actorID, storyID string) (*models.UserStory, error) {
	return s.decide(ctx, actorID, storyID, EventApprove, "")
}

// Reject sends a story waiting for approval back into progress at its
// current activity.
func (s *Service) Reject(ctx context.Context, actorID, storyID, reason string) (*models.UserStory, error) {
	return s.decide(ctx, actorID, storyID, EventReject, reason)
}

func (s *Service) decide(ctx context.Context, actorID, storyID string, ev Event, reason string) (*models.UserStory, error) {
	var us *models.UserStory
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		if err := ledger.New(tx).Require(ctx, actorID,
			ledger.OnProject(us.ProjectID, models.PermApproveUserStory)); err != nil {
			return err
		}
		if us.State != models.StatePendingApproval {
			return apperrors.New(apperrors.CodeNotFound, "no pending approval for story %s", us.ID)
		}
		if us.State, err = Fire(us.State, ev, us.ID); err != nil {
			return err
		}
		if ev == EventReject {
			us.ActivityState = models.ActivityToDo
		}
		return apperrors.FromStore(tx.UpdateStory(ctx, us), string(ev)+" story")
	})
	if err != nil {
		return nil, err
	}

	kind := models.EventStoryApproved
	if ev == EventReject {
		kind = models.EventStoryRejected
	}
	s.logger.Info("story "+string(ev)+"d", "story", us.ID, "actor", actorID)
	s.flush(ctx, []pending{{ev: s.event(kind, us, actorID), story: *us, extra: map[string]string{"reason": reason}}})
	return us, nil
}

// Cancel moves a story to the terminal Cancelled state and records the reason as a note.
func (s *Service) Cancel(ctx context.Context, actorID, storyID, reason string) (*models.UserStory, error) {
	var us *models.UserStory
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		if err := ledger.New(tx).Require(ctx, actorID,
			ledger.OnProject(us.ProjectID, models.PermCancelUserStory)); err != nil {
			return err
		}
		if us.State, err = Fire(us.State, EventCancel, us.ID); err != nil {
			return err
		}
		if err := tx.UpdateStory(ctx, us); err != nil {
			return apperrors.FromStore(err, "cancel story")
		}
		note := &models.Note{
			StoryID:       us.ID,
			Message:       reason,
			RecordedHours: us.RecordedHours,
			DeveloperID:   us.DeveloperID,
			SprintID:      us.SprintID,
			ActivityID:    us.ActivityID,
			State:         us.State,
			ActivityState: us.ActivityState,
			CreatedAt:     s.now().UTC(),
		}
		return apperrors.FromStore(tx.CreateNote(ctx, note), "cancel story note")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("story cancelled", "story", us.ID, "actor", actorID)
	s.flush(ctx, []pending{{ev: s.event(models.EventStoryCancelled, us, actorID), story: *us, extra: map[string]string{"reason": reason}}})
	return us, nil
}

// Delete removes a story together with its notes, revisions, attachments
// and story-scoped grants. Attachment bytes are removed after commit.
func (s *Service) Delete(ctx context.Context, actorID, storyID string) error {
	var (
		us      *models.UserStory
		handles []string
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		if err := ledger.New(tx).Require(ctx, actorID,
			ledger.OnProject(us.ProjectID, models.PermRemoveUserStory)); err != nil {
			return err
		}
		atts, err := tx.ListAttachments(ctx, us.ID)
		if err != nil {
			return apperrors.FromStore(err, "list story attachments")
		}
		for _, a := range atts {
			handles = append(handles, a.Handle)
		}
		if err := tx.DeleteObjectGrants(ctx, models.StoryObject(us.ID)); err != nil {
			return apperrors.FromStore(err, "delete story grants")
		}
		return apperrors.FromStore(tx.DeleteStory(ctx, us.ID), "delete story")
	})
	if err != nil {
		return err
	}
	if s.blobs != nil {
		for _, h := range handles {
			if err := s.blobs.Delete(ctx, h); err != nil {
				s.logger.Warn("attachment bytes not removed", "story", storyID, "handle", h, "error", err)
			}
		}
	}
	s.logger.Info("story deleted", "story", storyID, "actor", actorID)
	s.flush(ctx, []pending{{ev: s.event(models.EventStoryDeleted, us, actorID), story: *us}})
	return nil
}

// ListPending returns the stories of a project that wait for approval.
func (s *Service) ListPending(ctx context.Context, actorID, projectID string) ([]*models.UserStory, error) {
	if err := ledger.New(s.store).Require(ctx, actorID,
		ledger.OnProject(projectID, models.PermApproveUserStory)); err != nil {
		return nil, err
	}
	state := models.StatePendingApproval
	return s.List(ctx, store.StoryFilter{ProjectID: projectID, State: &state})
}

// Revisions returns the revision log of a story.
func (s *Service) Revisions(ctx context.Context, actorID, storyID string) ([]*models.Revision, error) {
	us, err := loadStory(ctx, s.store, storyID)
	if err != nil {
		return nil, err
	}
	if err := requireEdit(ctx, ledger.New(s.store), actorID, us); err != nil {
		return nil, err
	}
	return revision.New(s.store).List(ctx, storyID)
}

// Restore applies the fields of a past revision as a new edit. History is
// never rewritten; the restore itself becomes the latest revision.
func (s *Service) Restore(ctx context.Context, actorID, storyID, revisionID string) (*models.UserStory, error) {
	var us *models.UserStory
	var changed []string
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		l := ledger.New(tx)
		if err := requireEdit(ctx, l, actorID, us); err != nil {
			return err
		}
		rev, err := revision.New(tx).Get(ctx, storyID, revisionID)
		if err != nil {
			return err
		}
		fields := rev.Fields
		if fields.Priority != us.Priority {
			ok, err := l.Has(ctx, actorID, models.ProjectObject(us.ProjectID), models.PermPrioritizeUserStory)
			if err != nil {
				return err
			}
			if !ok {
				fields.Priority = us.Priority
			}
		}
		changed, err = s.applyFields(ctx, tx, us, fields, actorID, "restored revision "+strconv.Itoa(rev.Seq))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return us, nil
	}
	s.logger.Info("story restored", "story", us.ID, "revision", revisionID, "actor", actorID)
	s.flush(ctx, []pending{{
		ev:    s.event(models.EventStoryChanged, us, actorID),
		story: *us,
		extra: map[string]string{"changes": strings.Join(changed, ", ")},
	}})
	return us, nil
}

// Assign sets the developer of a story and moves story-scoped grants to them.
func (s *Service) Assign(ctx context.Context, actorID, storyID, developerID string) (*models.UserStory, error) {
	var us *models.UserStory
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if us, err = loadStory(ctx, tx, storyID); err != nil {
			return err
		}
		if err := ledger.New(tx).Require(ctx, actorID,
			ledger.OnProject(us.ProjectID, models.PermEditUserStory)); err != nil {
			return err
		}
		old := us.DeveloperID
		if old == developerID {
			return nil
		}
		us.DeveloperID = developerID
		if err := tx.UpdateStory(ctx, us); err != nil {
			return apperrors.FromStore(err, "assign story")
		}
		return team.NewManager(tx, s.logger).SyncStoryPermissions(ctx, us, old)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("story assigned", "story", us.ID, "developer", developerID, "actor", actorID)
	return us, nil
}
