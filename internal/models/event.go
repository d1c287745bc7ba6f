package models

import "time"

// EventType names a committed workflow transition.
type EventType string

const (
	EventStoryCreated   EventType = "story.created"
	EventStoryChanged   EventType = "story.changed"
	EventStoryProgress  EventType = "story.progress"
	EventStoryApproved  EventType = "story.approved"
	EventStoryRejected  EventType = "story.rejected"
	EventStoryCancelled EventType = "story.cancelled"
	EventStoryDeleted   EventType = "story.deleted"
	EventSprintCreated  EventType = "sprint.created"
	EventSprintUpdated  EventType = "sprint.updated"
)

// Event is published after a transition commits.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id"`
	StoryID   string    `json:"story_id,omitempty"`
	SprintID  string    `json:"sprint_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
