package models

import (
	"errors"
	"time"
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusEnProduction ProjectStatus = "en_production"
	ProjectStatusCompleted    ProjectStatus = "completed"
	ProjectStatusApproved     ProjectStatus = "approved"
	ProjectStatusCancelled    ProjectStatus = "cancelled"
	ProjectStatusInactive     ProjectStatus = "inactive"
)

// DefaultSprintDays is the sprint length used when a project does not configure one.
const DefaultSprintDays = 30

// Project represents a managed project and the configuration shared by its sprints.
type Project struct {
	ID          string
	ShortName   string
	LongName    string
	Status      ProjectStatus
	StartAt     *time.Time
	EndAt       *time.Time
	SprintDays  int
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the project fields that the store cannot enforce.
func (p *Project) Validate() error {
	if p.ShortName == "" {
		return errors.New("short name is required")
	}
	if p.SprintDays < 0 {
		return errors.New("sprint length must not be negative")
	}
	if p.StartAt != nil && p.EndAt != nil && p.StartAt.After(*p.EndAt) {
		return errors.New("start date must not be after end date")
	}
	switch p.Status {
	case "", ProjectStatusEnProduction, ProjectStatusCompleted, ProjectStatusApproved,
		ProjectStatusCancelled, ProjectStatusInactive:
	default:
		return errors.New("unknown project status: " + string(p.Status))
	}
	return nil
}
