package api

import (
	"time"

	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
)

type storyView struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Priority       string    `json:"priority"`
	BusinessValue  int       `json:"business_value"`
	TechnicalValue int       `json:"technical_value"`
	EstimatedHours int       `json:"estimated_hours"`
	RecordedHours  int       `json:"recorded_hours"`
	Progress       int       `json:"progress"`
	State          string    `json:"state"`
	ActivityState  string    `json:"activity_state"`
	SprintID       string    `json:"sprint_id,omitempty"`
	DeveloperID    string    `json:"developer_id,omitempty"`
	ActivityID     string    `json:"activity_id,omitempty"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newStoryView(us *models.UserStory) storyView {
	return storyView{
		ID:             us.ID,
		ProjectID:      us.ProjectID,
		Name:           us.Name,
		Description:    us.Description,
		Priority:       us.Priority.String(),
		BusinessValue:  us.BusinessValue,
		TechnicalValue: us.TechnicalValue,
		EstimatedHours: us.EstimatedHours,
		RecordedHours:  us.RecordedHours,
		Progress:       us.Progress(),
		State:          us.State.String(),
		ActivityState:  us.ActivityState.String(),
		SprintID:       us.SprintID,
		DeveloperID:    us.DeveloperID,
		ActivityID:     us.ActivityID,
		Version:        us.Version,
		CreatedAt:      us.CreatedAt,
		UpdatedAt:      us.UpdatedAt,
	}
}

func newStoryViews(list []*models.UserStory) []storyView {
	out := make([]storyView, 0, len(list))
	for _, us := range list {
		out = append(out, newStoryView(us))
	}
	return out
}

type noteView struct {
	ID            string    `json:"id"`
	Message       string    `json:"message"`
	HoursDelta    int       `json:"hours_delta"`
	RecordedHours int       `json:"recorded_hours"`
	DeveloperID   string    `json:"developer_id,omitempty"`
	SprintID      string    `json:"sprint_id,omitempty"`
	ActivityID    string    `json:"activity_id,omitempty"`
	State         string    `json:"state"`
	ActivityState string    `json:"activity_state"`
	CreatedAt     time.Time `json:"created_at"`
}

func newNoteViews(list []*models.Note) []noteView {
	out := make([]noteView, 0, len(list))
	for _, n := range list {
		out = append(out, noteView{
			ID:            n.ID,
			Message:       n.Message,
			HoursDelta:    n.HoursDelta,
			RecordedHours: n.RecordedHours,
			DeveloperID:   n.DeveloperID,
			SprintID:      n.SprintID,
			ActivityID:    n.ActivityID,
			State:         n.State.String(),
			ActivityState: n.ActivityState.String(),
			CreatedAt:     n.CreatedAt,
		})
	}
	return out
}

type revisionView struct {
	ID        string             `json:"id"`
	Seq       int                `json:"seq"`
	ActorID   string             `json:"actor_id,omitempty"`
	Comment   string             `json:"comment"`
	Fields    models.StoryFields `json:"fields"`
	CreatedAt time.Time          `json:"created_at"`
}

func newRevisionViews(list []*models.Revision) []revisionView {
	out := make([]revisionView, 0, len(list))
	for _, r := range list {
		out = append(out, revisionView{
			ID: r.ID, Seq: r.Seq, ActorID: r.ActorID, Comment: r.Comment, Fields: r.Fields, CreatedAt: r.CreatedAt,
		})
	}
	return out
}

type sprintView struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
}

func newSprintView(sp *models.Sprint) sprintView {
	return sprintView{ID: sp.ID, ProjectID: sp.ProjectID, Name: sp.Name, StartAt: sp.StartAt, EndAt: sp.EndAt}
}

type membershipView struct {
	ID      string   `json:"id"`
	UserID  string   `json:"user_id"`
	RoleIDs []string `json:"role_ids"`
}

type attachmentView struct {
	ID          string    `json:"id"`
	StoryID     string    `json:"story_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Kind        string    `json:"kind"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newAttachmentView(a *models.Attachment) attachmentView {
	return attachmentView{
		ID: a.ID, StoryID: a.StoryID, Name: a.Name, Description: a.Description, Filename: a.Filename,
		ContentType: a.ContentType, Size: a.Size, Kind: string(a.Kind), Language: string(a.Language), CreatedAt: a.CreatedAt,
	}
}

type metricsView struct {
	Stories        int            `json:"stories"`
	EstimatedHours int            `json:"estimated_hours"`
	RecordedHours  int            `json:"recorded_hours"`
	Progress       int            `json:"progress"`
	ByState        map[string]int `json:"by_state"`
	Health         int            `json:"health"`
	LastActivity   time.Time      `json:"last_activity"`
}

func newMetricsView(s *metrics.Summary) metricsView {
	byState := make(map[string]int, len(s.ByState))
	for st, n := range s.ByState {
		byState[st.String()] = n
	}
	return metricsView{
		Stories:        s.Stories,
		EstimatedHours: s.EstimatedHours,
		RecordedHours:  s.RecordedHours,
		Progress:       s.Progress,
		ByState:        byState,
		Health:         s.Health.Total,
		LastActivity:   s.LastActivity,
	}
}
