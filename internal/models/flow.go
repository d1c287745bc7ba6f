package models

import "time"

// Flow is an ordered sequence of activities. A flow without a project is a
// reusable template.
type Flow struct {
	ID        string
	Name      string
	ProjectID string
	CreatedAt time.Time
}

// IsTemplate reports whether the flow is not bound to a project.
func (f *Flow) IsTemplate() bool { return f.ProjectID == "" }

// Activity is one stage of a flow. Position gives a strict total order within the flow.
type Activity struct {
	ID       string
	FlowID   string
	Name     string
	Position int
}
