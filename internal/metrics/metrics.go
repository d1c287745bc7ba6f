// Package metrics derives effort and progress figures for projects and sprints.
package metrics

import (
	"context"
	"time"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Summary aggregates a set of user stories.
type Summary struct {
	Stories        int                       `json:"stories"`
	EstimatedHours int                       `json:"estimated_hours"`
	RecordedHours  int                       `json:"recorded_hours"`
	Progress       int                       `json:"progress"`
	ByState        map[models.StoryState]int `json:"-"`
	Health         *Health                   `json:"health"`
	LastActivity   time.Time                 `json:"last_activity"`
}

// Health scores how well a project is moving, 0-100.
type Health struct {
	Total           int `json:"total"`
	Completion      int `json:"completion"`       // 0-40
	ActivityRecency int `json:"activity_recency"` // 0-30
	ApprovalQueue   int `json:"approval_queue"`   // 0-15
	Effort          int `json:"effort"`           // 0-15
}

// Calculator computes summaries from the store.
type Calculator struct {
	store store.Store
	now   func() time.Time
}

// NewCalculator returns a Calculator.
func NewCalculator(s store.Store) *Calculator {
	return &Calculator{store: s, now: time.Now}
}

// Project summarizes every story of a project.
func (c *Calculator) Project(ctx context.Context, projectID string) (*Summary, error) {
	if _, err := c.store.GetProject(ctx, projectID); err != nil {
		return nil, apperrors.FromStore(err, "project metrics")
	}
	stories, err := c.store.ListStories(ctx, store.StoryFilter{ProjectID: projectID})
	if err != nil {
		return nil, apperrors.FromStore(err, "project metrics")
	}
	return Summarize(stories, c.now()), nil
}

// Sprint summarizes the stories allocated to a sprint.
func (c *Calculator) Sprint(ctx context.Context, sprintID string) (*Summary, error) {
	if _, err := c.store.GetSprint(ctx, sprintID); err != nil {
		return nil, apperrors.FromStore(err, "sprint metrics")
	}
	stories, err := c.store.ListStories(ctx, store.StoryFilter{SprintID: sprintID})
	if err != nil {
		return nil, apperrors.FromStore(err, "sprint metrics")
	}
	return Summarize(stories, c.now()), nil
}

// Summarize aggregates stories. Progress is the share of approved stories
// among those not cancelled, truncated to an integer percentage.
func Summarize(stories []*models.UserStory, now time.Time) *Summary {
	s := &Summary{ByState: make(map[models.StoryState]int)}
	for _, us := range stories {
		s.Stories++
		s.EstimatedHours += us.EstimatedHours
		s.RecordedHours += us.RecordedHours
		s.ByState[us.State]++
		if us.UpdatedAt.After(s.LastActivity) {
			s.LastActivity = us.UpdatedAt
		}
	}
	s.Progress = ProjectProgress(s.ByState[models.StateApproved], s.Stories, s.ByState[models.StateCancelled])
	s.Health = score(s, now)
	return s
}

// ProjectProgress returns approved / (total - cancelled) * 100, or 0 when
// every story is cancelled.
func ProjectProgress(approved, total, cancelled int) int {
	live := total - cancelled
	if live <= 0 {
		return 0
	}
	return approved * 100 / live
}

func score(s *Summary, now time.Time) *Health {
	h := &Health{}

	h.Completion = s.Progress * 40 / 100
	h.ActivityRecency = scoreRecency(s.LastActivity, now, 30)

	// A long approval queue means finished work is waiting on reviewers.
	live := s.Stories - s.ByState[models.StateCancelled]
	if live == 0 {
		h.ApprovalQueue = 15
	} else {
		ratio := float64(s.ByState[models.StatePendingApproval]) / float64(live)
		h.ApprovalQueue = int(15 * (1 - ratio))
	}

	// Recorded effort far beyond the estimate signals poor estimation.
	switch {
	case s.EstimatedHours == 0:
		h.Effort = 15
	case s.RecordedHours <= s.EstimatedHours:
		h.Effort = 15
	case s.RecordedHours <= s.EstimatedHours*3/2:
		h.Effort = 8
	default:
		h.Effort = 3
	}

	h.Total = h.Completion + h.ActivityRecency + h.ApprovalQueue + h.Effort
	return h
}

// scoreRecency converts time since the last story update to points.
func scoreRecency(t, now time.Time, maxPoints int) int {
	if t.IsZero() {
		return 0
	}
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 1:
		return maxPoints
	case days <= 3:
		return int(float64(maxPoints) * 0.9)
	case days <= 7:
		return int(float64(maxPoints) * 0.75)
	case days <= 14:
		return int(float64(maxPoints) * 0.6)
	case days <= 30:
		return int(float64(maxPoints) * 0.4)
	case days <= 90:
		return int(float64(maxPoints) * 0.2)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}
