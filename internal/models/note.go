package models

import "time"

// Note is an immutable record of a progress or cancellation event on a user story.
type Note struct {
	ID            string
	StoryID       string
	Message       string
	HoursDelta    int
	RecordedHours int
	DeveloperID   string
	SprintID      string
	ActivityID    string
	State         StoryState
	ActivityState ActivityState
	CreatedAt     time.Time
}
