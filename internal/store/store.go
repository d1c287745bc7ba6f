package store

import (
	"context"
	"errors"

	"github.com/joescharf/scrum/internal/models"
)

var (
	// ErrNotFound is wrapped by every lookup that matches no record.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("already exists")
	// ErrConflict is returned when a compare-and-set update loses to a concurrent writer.
	ErrConflict = errors.New("concurrent modification")
)

// StoryFilter specifies filters for listing user stories.
type StoryFilter struct {
	ProjectID   string
	SprintID    string
	DeveloperID string
	State       *models.StoryState
}

// Store defines the persistence interface for scrum.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, shortName string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error

	// Roles
	CreateRole(ctx context.Context, r *models.Role) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	SetRolePermissions(ctx context.Context, roleID string, kinds []models.PermissionKind) error

	// Memberships
	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, id string) (*models.Membership, error)
	GetMembershipFor(ctx context.Context, userID, projectID string) (*models.Membership, error)
	ListMemberships(ctx context.Context, projectID string) ([]*models.Membership, error)
	ListMembershipsWithRole(ctx context.Context, roleID string) ([]*models.Membership, error)
	SetMembershipRoles(ctx context.Context, membershipID string, roleIDs []string) error
	DeleteMembership(ctx context.Context, id string) error

	// Grants
	AddGrant(ctx context.Context, g *models.Grant) error
	RemoveGrant(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) error
	HasGrant(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) (bool, error)
	ListGrants(ctx context.Context, subjectID string, obj models.ObjectRef) ([]models.PermissionKind, error)
	GrantSubjects(ctx context.Context, obj models.ObjectRef, kind models.PermissionKind) ([]string, error)
	DeleteObjectGrants(ctx context.Context, obj models.ObjectRef) error

	// Flows and activities
	CreateFlow(ctx context.Context, f *models.Flow) error
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	ListFlows(ctx context.Context, projectID string) ([]*models.Flow, error)
	ListTemplates(ctx context.Context) ([]*models.Flow, error)
	DeleteFlow(ctx context.Context, id string) error
	CountFlowStories(ctx context.Context, flowID string) (int, error)
	CreateActivity(ctx context.Context, a *models.Activity) error
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	ListActivities(ctx context.Context, flowID string) ([]*models.Activity, error)

	// Sprints
	CreateSprint(ctx context.Context, s *models.Sprint) error
	GetSprint(ctx context.Context, id string) (*models.Sprint, error)
	ListSprints(ctx context.Context, projectID string) ([]*models.Sprint, error)
	UpdateSprint(ctx context.Context, s *models.Sprint) error
	DeleteSprint(ctx context.Context, id string) error

	// User stories
	CreateStory(ctx context.Context, us *models.UserStory) error
	GetStory(ctx context.Context, id string) (*models.UserStory, error)
	ListStories(ctx context.Context, filter StoryFilter) ([]*models.UserStory, error)
	UpdateStory(ctx context.Context, us *models.UserStory) error
	DeleteStory(ctx context.Context, id string) error
	CountHigherPriority(ctx context.Context, us *models.UserStory) (int, error)

	// Notes
	CreateNote(ctx context.Context, n *models.Note) error
	ListNotes(ctx context.Context, storyID string) ([]*models.Note, error)

	// Revisions
	AppendRevision(ctx context.Context, r *models.Revision) error
	GetRevision(ctx context.Context, id string) (*models.Revision, error)
	LatestRevision(ctx context.Context, storyID string) (*models.Revision, error)
	ListRevisions(ctx context.Context, storyID string) ([]*models.Revision, error)

	// Attachments
	CreateAttachment(ctx context.Context, a *models.Attachment) error
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	ListAttachments(ctx context.Context, storyID string) ([]*models.Attachment, error)
	UpdateAttachment(ctx context.Context, a *models.Attachment) error

	// WithTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Calling WithTx on a transactional Store reuses the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
