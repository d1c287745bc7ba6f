// Package team manages project memberships and keeps the permission ledger in
// step with the roles each member holds.
package team

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Manager mutates memberships and roles. Every mutation runs in one
// transaction together with the ledger writes it causes.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// NewManager returns a Manager. A nil logger falls back to slog.Default().
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger}
}

type kindSet map[models.PermissionKind]bool

func (s kindSet) sorted() []models.PermissionKind {
	out := make([]models.PermissionKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// minus returns the kinds in s that are not in other.
func (s kindSet) minus(other kindSet) []models.PermissionKind {
	diff := kindSet{}
	for k := range s {
		if !other[k] {
			diff[k] = true
		}
	}
	return diff.sorted()
}

// CreateRole stores a role with a validated permission set.
func (m *Manager) CreateRole(ctx context.Context, name string, kinds []models.PermissionKind) (*models.Role, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "role name is required")
	}
	if err := validateKinds(kinds); err != nil {
		return nil, err
	}
	r := &models.Role{Name: name, Permissions: kinds}
	if err := m.store.CreateRole(ctx, r); err != nil {
		return nil, apperrors.FromStore(err, "create role")
	}
	m.logger.Info("role created", "role", r.Name, "permissions", len(kinds))
	return r, nil
}

func validateKinds(kinds []models.PermissionKind) error {
	for _, k := range kinds {
		if !k.Valid() {
			return apperrors.New(apperrors.CodeValidation, "unknown permission: %q", k)
		}
	}
	return nil
}

// AddMember creates a membership, grants the baseline view permission and
// every project-scoped kind of the given roles.
func (m *Manager) AddMember(ctx context.Context, userID, projectID string, roleIDs []string) (*models.Membership, error) {
	var membership *models.Membership
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return apperrors.FromStore(err, "add member")
		}
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return apperrors.FromStore(err, "add member")
		}
		if existing, err := tx.GetMembershipFor(ctx, userID, projectID); err == nil {
			return apperrors.New(apperrors.CodeDuplicateMembership,
				"user %s is already a member of project %s (membership %s)", userID, projectID, existing.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return apperrors.FromStore(err, "add member")
		}

		kinds, err := roleKinds(ctx, tx, roleIDs)
		if err != nil {
			return err
		}

		membership = &models.Membership{UserID: userID, ProjectID: projectID, RoleIDs: roleIDs}
		if err := tx.CreateMembership(ctx, membership); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.Wrap(apperrors.CodeDuplicateMembership, err, "membership already exists")
			}
			return apperrors.FromStore(err, "add member")
		}

		l := ledger.New(tx)
		obj := models.ProjectObject(projectID)
		if err := l.Grant(ctx, userID, obj, models.PermViewProject); err != nil {
			return err
		}
		for _, k := range projectScoped(kinds).sorted() {
			if err := l.Grant(ctx, userID, obj, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("member added", "user", userID, "project", projectID, "roles", len(roleIDs))
	return membership, nil
}

// UpdateRoles replaces the roles of a membership. Only the difference between
// the old and new permission sets touches the ledger.
func (m *Manager) UpdateRoles(ctx context.Context, membershipID string, roleIDs []string) (*models.Membership, error) {
	var membership *models.Membership
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		membership, err = tx.GetMembership(ctx, membershipID)
		if err != nil {
			return apperrors.FromStore(err, "update roles")
		}
		oldKinds, err := roleKinds(ctx, tx, membership.RoleIDs)
		if err != nil {
			return err
		}
		newKinds, err := roleKinds(ctx, tx, roleIDs)
		if err != nil {
			return err
		}

		if err := tx.SetMembershipRoles(ctx, membership.ID, roleIDs); err != nil {
			return apperrors.FromStore(err, "update roles")
		}
		membership.RoleIDs = roleIDs

		if err := applyProjectDiff(ctx, ledger.New(tx), membership, oldKinds, newKinds); err != nil {
			return err
		}
		return resyncMemberStories(ctx, tx, membership)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("member roles updated", "membership", membershipID, "roles", len(roleIDs))
	return membership, nil
}

// RemoveMember revokes every project grant the membership produced, the
// member's story-scoped grants on the project's stories, and deletes it.
func (m *Manager) RemoveMember(ctx context.Context, membershipID string) error {
	var membership *models.Membership
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		membership, err = tx.GetMembership(ctx, membershipID)
		if err != nil {
			return apperrors.FromStore(err, "remove member")
		}
		kinds, err := roleKinds(ctx, tx, membership.RoleIDs)
		if err != nil {
			return err
		}

		l := ledger.New(tx)
		obj := models.ProjectObject(membership.ProjectID)
		for _, k := range projectScoped(kinds).sorted() {
			if err := l.Revoke(ctx, membership.UserID, obj, k); err != nil {
				return err
			}
		}
		if err := l.Revoke(ctx, membership.UserID, obj, models.PermViewProject); err != nil {
			return err
		}

		stories, err := tx.ListStories(ctx, store.StoryFilter{ProjectID: membership.ProjectID, DeveloperID: membership.UserID})
		if err != nil {
			return apperrors.FromStore(err, "remove member")
		}
		for _, us := range stories {
			if err := revokeStoryGrants(ctx, l, membership.UserID, us.ID); err != nil {
				return err
			}
		}

		return apperrors.FromStore(tx.DeleteMembership(ctx, membership.ID), "remove member")
	})
	if err != nil {
		return err
	}
	m.logger.Info("member removed", "user", membership.UserID, "project", membership.ProjectID)
	return nil
}

// SetRolePermissions changes a role's permission set and applies the
// resulting change to every membership that holds the role.
func (m *Manager) SetRolePermissions(ctx context.Context, roleID string, kinds []models.PermissionKind) error {
	if err := validateKinds(kinds); err != nil {
		return err
	}
	var affected int
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return apperrors.FromStore(err, "set role permissions")
		}
		memberships, err := tx.ListMembershipsWithRole(ctx, roleID)
		if err != nil {
			return apperrors.FromStore(err, "set role permissions")
		}

		before := make([]kindSet, len(memberships))
		for i, ms := range memberships {
			if before[i], err = roleKinds(ctx, tx, ms.RoleIDs); err != nil {
				return err
			}
		}

		if err := tx.SetRolePermissions(ctx, roleID, kinds); err != nil {
			return apperrors.FromStore(err, "set role permissions")
		}

		l := ledger.New(tx)
		for i, ms := range memberships {
			after, err := roleKinds(ctx, tx, ms.RoleIDs)
			if err != nil {
				return err
			}
			if err := applyProjectDiff(ctx, l, ms, before[i], after); err != nil {
				return err
			}
			if err := resyncMemberStories(ctx, tx, ms); err != nil {
				return err
			}
		}
		affected = len(memberships)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("role permissions updated", "role", roleID, "permissions", len(kinds), "memberships", affected)
	return nil
}

// SyncStoryPermissions moves story-scoped grants from oldDeveloperID to the
// story's current developer. The new developer receives the story-scoped
// kinds of their roles on the story's project.
func (m *Manager) SyncStoryPermissions(ctx context.Context, us *models.UserStory, oldDeveloperID string) error {
	return m.store.WithTx(ctx, func(tx store.Store) error {
		return syncStory(ctx, tx, us, oldDeveloperID)
	})
}

// ListMembers returns the memberships of a project.
func (m *Manager) ListMembers(ctx context.Context, projectID string) ([]*models.Membership, error) {
	ms, err := m.store.ListMemberships(ctx, projectID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list members")
	}
	return ms, nil
}

func syncStory(ctx context.Context, tx store.Store, us *models.UserStory, oldDeveloperID string) error {
	l := ledger.New(tx)
	if oldDeveloperID != "" {
		if err := revokeStoryGrants(ctx, l, oldDeveloperID, us.ID); err != nil {
			return err
		}
	}
	if us.ProjectID == "" || us.DeveloperID == "" {
		return nil
	}

	membership, err := tx.GetMembershipFor(ctx, us.DeveloperID, us.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeMembershipNotFound, err,
			"developer "+us.DeveloperID+" has no membership on project "+us.ProjectID)
	}
	if err != nil {
		return apperrors.FromStore(err, "sync story permissions")
	}
	kinds, err := roleKinds(ctx, tx, membership.RoleIDs)
	if err != nil {
		return err
	}
	obj := models.StoryObject(us.ID)
	for _, k := range storyScoped(kinds).sorted() {
		if err := l.Grant(ctx, us.DeveloperID, obj, k); err != nil {
			return err
		}
	}
	return nil
}

func revokeStoryGrants(ctx context.Context, l *ledger.Ledger, subjectID, storyID string) error {
	obj := models.StoryObject(storyID)
	held, err := l.ListFor(ctx, subjectID, obj)
	if err != nil {
		return err
	}
	for _, k := range held {
		if err := l.Revoke(ctx, subjectID, obj, k); err != nil {
			return err
		}
	}
	return nil
}

// resyncMemberStories re-derives story grants for stories the member develops in the project.
func resyncMemberStories(ctx context.Context, tx store.Store, ms *models.Membership) error {
	stories, err := tx.ListStories(ctx, store.StoryFilter{ProjectID: ms.ProjectID, DeveloperID: ms.UserID})
	if err != nil {
		return apperrors.FromStore(err, "list member stories")
	}
	for _, us := range stories {
		if err := syncStory(ctx, tx, us, us.DeveloperID); err != nil {
			return err
		}
	}
	return nil
}

// applyProjectDiff revokes project-scoped kinds in before but not after and
// grants those in after but not before. The baseline view permission is
// owned by the membership and never revoked here.
func applyProjectDiff(ctx context.Context, l *ledger.Ledger, ms *models.Membership, before, after kindSet) error {
	obj := models.ProjectObject(ms.ProjectID)
	oldSet, newSet := projectScoped(before), projectScoped(after)
	for _, k := range oldSet.minus(newSet) {
		if k == models.PermViewProject {
			continue
		}
		if err := l.Revoke(ctx, ms.UserID, obj, k); err != nil {
			return err
		}
	}
	for _, k := range newSet.minus(oldSet) {
		if err := l.Grant(ctx, ms.UserID, obj, k); err != nil {
			return err
		}
	}
	return nil
}

// roleKinds returns the union of the permission kinds of the given roles.
func roleKinds(ctx context.Context, tx store.Store, roleIDs []string) (kindSet, error) {
	set := kindSet{}
	for _, id := range roleIDs {
		r, err := tx.GetRole(ctx, id)
		if err != nil {
			return nil, apperrors.FromStore(err, "load role")
		}
		for _, k := range r.Permissions {
			set[k] = true
		}
	}
	return set, nil
}

func projectScoped(s kindSet) kindSet { return filterScope(s, models.ScopeProject) }

func storyScoped(s kindSet) kindSet { return filterScope(s, models.ScopeUserStory) }

func filterScope(s kindSet, scope models.Scope) kindSet {
	out := kindSet{}
	for k := range s {
		if k.Scope() == scope {
			out[k] = true
		}
	}
	return out
}

// GrantGlobal gives a user a kind that is not tied to a project, such as
// list_all_projects or the flow template kinds.
func (m *Manager) GrantGlobal(ctx context.Context, userID string, kind models.PermissionKind) error {
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return apperrors.FromStore(err, "grant global permission")
		}
		return ledger.New(tx).Grant(ctx, userID, models.GlobalObject, kind)
	})
	if err != nil {
		return err
	}
	m.logger.Info("global permission granted", "user", userID, "permission", kind)
	return nil
}

// RevokeGlobal removes a global kind from a user.
func (m *Manager) RevokeGlobal(ctx context.Context, userID string, kind models.PermissionKind) error {
	if err := ledger.New(m.store).Revoke(ctx, userID, models.GlobalObject, kind); err != nil {
		return err
	}
	m.logger.Info("global permission revoked", "user", userID, "permission", kind)
	return nil
}

// VisibleProjects returns every project for holders of list_all_projects
// and the projects the actor may view otherwise.
func (m *Manager) VisibleProjects(ctx context.Context, actorID string) ([]*models.Project, error) {
	all, err := m.store.ListProjects(ctx)
	if err != nil {
		return nil, apperrors.FromStore(err, "list projects")
	}
	l := ledger.New(m.store)
	listAll, err := l.Has(ctx, actorID, models.GlobalObject, models.PermListAllProjects)
	if err != nil {
		return nil, err
	}
	if listAll {
		return all, nil
	}
	var out []*models.Project
	for _, p := range all {
		ok, err := l.Has(ctx, actorID, models.ProjectObject(p.ID), models.PermViewProject)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetProjectStatus moves a project through its lifecycle. It needs
// aprobar_proyecto on the project.
func (m *Manager) SetProjectStatus(ctx context.Context, actorID, projectID string, status models.ProjectStatus) (*models.Project, error) {
	var p *models.Project
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if p, err = tx.GetProject(ctx, projectID); err != nil {
			return apperrors.FromStore(err, "set project status")
		}
		if err := ledger.New(tx).Require(ctx, actorID, ledger.OnProject(projectID, models.PermApproveProject)); err != nil {
			return err
		}
		p.Status = status
		if err := p.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
		}
		return apperrors.FromStore(tx.UpdateProject(ctx, p), "set project status")
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("project status changed", "project", projectID, "status", status, "actor", actorID)
	return p, nil
}
