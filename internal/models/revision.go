package models

import "time"

// Revision is an append-only snapshot of a story's tracked fields. Seq starts
// at 1 and increases by one per story.
type Revision struct {
	ID        string
	StoryID   string
	Seq       int
	ActorID   string
	Comment   string
	Fields    StoryFields
	CreatedAt time.Time
}
