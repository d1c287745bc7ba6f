package models

import (
	"fmt"
	"math/bits"
	"strings"
	"time"
	"unicode"
)

// Priority orders user stories competing for the same developer slot.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityMedium: "medium",
	PriorityHigh:   "high",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts a priority name or its numeric value.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if s == name || s == fmt.Sprint(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority: %q", s)
}

// StoryState is the lifecycle state of a user story.
type StoryState int

const (
	StateInactive StoryState = iota
	StateInProgress
	StatePendingApproval
	StateApproved
	StateCancelled
)

var storyStateNames = map[StoryState]string{
	StateInactive:        "inactive",
	StateInProgress:      "in_progress",
	StatePendingApproval: "pending_approval",
	StateApproved:        "approved",
	StateCancelled:       "cancelled",
}

func (s StoryState) String() string {
	if name, ok := storyStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseStoryState converts a state name into a StoryState.
func ParseStoryState(s string) (StoryState, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for st, name := range storyStateNames {
		if s == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown story state: %q", s)
}

// ActivityState is the position of a story within its current activity.
type ActivityState int

const (
	ActivityToDo ActivityState = iota
	ActivityDoing
	ActivityDone
)

var activityStateNames = map[ActivityState]string{
	ActivityToDo:  "todo",
	ActivityDoing: "doing",
	ActivityDone:  "done",
}

func (a ActivityState) String() string {
	if name, ok := activityStateNames[a]; ok {
		return name
	}
	return fmt.Sprintf("activity_state(%d)", int(a))
}

// Valid reports whether a is a known activity state.
func (a ActivityState) Valid() bool {
	_, ok := activityStateNames[a]
	return ok
}

// ParseActivityState converts a sub-state name into an ActivityState.
func ParseActivityState(s string) (ActivityState, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	for st, name := range activityStateNames {
		if s == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown activity state: %q", s)
}

// UserStory is a unit of work moving through the activities of a flow.
type UserStory struct {
	ID             string
	ProjectID      string
	Name           string
	Description    string
	Priority       Priority
	BusinessValue  int
	TechnicalValue int
	EstimatedHours int
	RecordedHours  int
	State          StoryState
	ActivityState  ActivityState
	SprintID       string
	DeveloperID    string
	ActivityID     string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Progress returns the recorded effort as a percentage of the estimate,
// capped at 100. A zero estimate yields 0.
func (us *UserStory) Progress() int {
	return Progress(us.RecordedHours, us.EstimatedHours)
}

// Progress computes min(100, floor(recorded/estimated*100)), or 0 when estimated is not positive.
func Progress(recorded, estimated int) int {
	if estimated <= 0 || recorded <= 0 {
		return 0
	}
	if recorded >= estimated {
		return 100
	}
	// recorded < estimated, so the quotient fits and Div64 cannot panic.
	hi, lo := bits.Mul64(uint64(recorded), 100)
	q, _ := bits.Div64(hi, lo, uint64(estimated))
	return int(q)
}

// Fields returns the revision-tracked fields of the story.
func (us *UserStory) Fields() StoryFields {
	return StoryFields{
		Name:           us.Name,
		Description:    us.Description,
		Priority:       us.Priority,
		BusinessValue:  us.BusinessValue,
		TechnicalValue: us.TechnicalValue,
		EstimatedHours: us.EstimatedHours,
	}
}

// Apply copies tracked fields onto the story.
func (us *UserStory) Apply(f StoryFields) {
	us.Name = f.Name
	us.Description = f.Description
	us.Priority = f.Priority
	us.BusinessValue = f.BusinessValue
	us.TechnicalValue = f.TechnicalValue
	us.EstimatedHours = f.EstimatedHours
}

// StoryFields are the user story fields captured by revisions.
type StoryFields struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Priority       Priority `json:"priority"`
	BusinessValue  int      `json:"business_value"`
	TechnicalValue int      `json:"technical_value"`
	EstimatedHours int      `json:"estimated_hours"`
}

// Changed returns the names of the fields that differ between f and other, in a stable order.
func (f StoryFields) Changed(other StoryFields) []string {
	var out []string
	if f.Name != other.Name {
		out = append(out, "name")
	}
	if f.Description != other.Description {
		out = append(out, "description")
	}
	if f.Priority != other.Priority {
		out = append(out, "priority")
	}
	if f.BusinessValue != other.BusinessValue {
		out = append(out, "business_value")
	}
	if f.TechnicalValue != other.TechnicalValue {
		out = append(out, "technical_value")
	}
	if f.EstimatedHours != other.EstimatedHours {
		out = append(out, "estimated_hours")
	}
	return out
}

// Validate checks the tracked fields.
func (f StoryFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Name) > 60 {
		return fmt.Errorf("name must be at most 60 characters")
	}
	if strings.IndexFunc(f.Name, unicode.IsControl) >= 0 {
		return fmt.Errorf("name must not contain control characters")
	}
	if !f.Priority.Valid() {
		return fmt.Errorf("unknown priority: %d", int(f.Priority))
	}
	if f.EstimatedHours < 0 {
		return fmt.Errorf("estimated hours must not be negative")
	}
	return nil
}
