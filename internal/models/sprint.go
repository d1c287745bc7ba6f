package models

import "time"

// Sprint is a dated iteration of a project.
type Sprint struct {
	ID        string
	ProjectID string
	Name      string
	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
}

// SprintEnd computes the end of a sprint starting at start for a project
// configured with days-long sprints.
func SprintEnd(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days)
}

// Contains reports whether the calendar day of t falls within the sprint,
// inclusive of both the start and end days.
func (s *Sprint) Contains(t time.Time) bool {
	day := dateOf(t)
	return !day.Before(dateOf(s.StartAt)) && !day.After(dateOf(s.EndAt))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
