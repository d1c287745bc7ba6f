package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/scrum/internal/models"
)

// --- Roles ---

func (s *SQLiteStore) CreateRole(ctx context.Context, r *models.Role) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx, `INSERT INTO roles (id, name, created_at) VALUES (?, ?, ?)`, r.ID, r.Name, r.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create role %s: %w", r.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return s.SetRolePermissions(ctx, r.ID, r.Permissions)
}

func (s *SQLiteStore) GetRole(ctx context.Context, id string) (*models.Role, error) {
	return s.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE id = ?`, id)
}

func (s *SQLiteStore) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return s.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE name = ?`, name)
}

func (s *SQLiteStore) getRole(ctx context.Context, query, key string) (*models.Role, error) {
	r := &models.Role{}
	err := s.q.QueryRowContext(ctx, query, key).Scan(&r.ID, &r.Name, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	if r.Permissions, err = s.rolePermissions(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	var roles []*models.Role
	for rows.Next() {
		r := &models.Role{}
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Permissions are loaded after the role cursor is released; the store
	// runs on a single connection.
	for _, r := range roles {
		if r.Permissions, err = s.rolePermissions(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (s *SQLiteStore) rolePermissions(ctx context.Context, roleID string) ([]models.PermissionKind, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT kind FROM role_permissions WHERE role_id = ? ORDER BY kind`, roleID)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var kinds []models.PermissionKind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		kinds = append(kinds, models.PermissionKind(k))
	}
	return kinds, rows.Err()
}

// SetRolePermissions replaces the permission set of a role.
func (s *SQLiteStore) SetRolePermissions(ctx context.Context, roleID string, kinds []models.PermissionKind) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, k := range kinds {
		if _, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role_id, kind) VALUES (?, ?)`, roleID, string(k)); err != nil {
			return fmt.Errorf("add role permission: %w", err)
		}
	}
	return nil
}

// --- Memberships ---

func (s *SQLiteStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	if m.ID == "" {
		m.ID = newULID()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, project_id, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.UserID, m.ProjectID, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create membership %s/%s: %w", m.UserID, m.ProjectID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return s.SetMembershipRoles(ctx, m.ID, m.RoleIDs)
}

const membershipColumns = `id, user_id, project_id, created_at`

func (s *SQLiteStore) GetMembership(ctx context.Context, id string) (*models.Membership, error) {
	return s.getMembership(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id = ?`, id)
}

func (s *SQLiteStore) GetMembershipFor(ctx context.Context, userID, projectID string) (*models.Membership, error) {
	return s.getMembership(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE user_id = ? AND project_id = ?`, userID, projectID)
}

func (s *SQLiteStore) getMembership(ctx context.Context, query string, args ...any) (*models.Membership, error) {
	m := &models.Membership{}
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.UserID, &m.ProjectID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("membership", fmt.Sprint(args...))
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m.RoleIDs, err = s.membershipRoles(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListMemberships(ctx context.Context, projectID string) ([]*models.Membership, error) {
	return s.listMemberships(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

func (s *SQLiteStore) ListMembershipsWithRole(ctx context.Context, roleID string) ([]*models.Membership, error) {
	return s.listMemberships(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		WHERE id IN (SELECT membership_id FROM membership_roles WHERE role_id = ?)
		ORDER BY created_at, id`, roleID)
}

func (s *SQLiteStore) listMemberships(ctx context.Context, query string, args ...any) ([]*models.Membership, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	var out []*models.Membership
	for rows.Next() {
		m := &models.Membership{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.ProjectID, &m.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, m := range out {
		if m.RoleIDs, err = s.membershipRoles(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) membershipRoles(ctx context.Context, membershipID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT role_id FROM membership_roles WHERE membership_id = ? ORDER BY role_id`, membershipID)
	if err != nil {
		return nil, fmt.Errorf("list membership roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership role: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetMembershipRoles replaces the role set of a membership.
func (s *SQLiteStore) SetMembershipRoles(ctx context.Context, membershipID string, roleIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM membership_roles WHERE membership_id = ?`, membershipID); err != nil {
		return fmt.Errorf("clear membership roles: %w", err)
	}
	for _, id := range roleIDs {
		if _, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO membership_roles (membership_id, role_id) VALUES (?, ?)`, membershipID, id); err != nil {
			return fmt.Errorf("add membership role: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteMembership(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM memberships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return affected(result, "membership", id)
}

// --- Grants ---

// AddGrant records a grant. Granting an existing (subject, object, kind) is a no-op.
func (s *SQLiteStore) AddGrant(ctx context.Context, g *models.Grant) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO grants (subject_id, object_type, object_id, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.SubjectID, string(g.Object.Type), g.Object.ID, string(g.Kind), g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add grant: %w", err)
	}
	return nil
}

// RemoveGrant deletes a grant. Removing an absent grant is a no-op.
func (s *SQLiteStore) RemoveGrant(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM grants WHERE subject_id = ? AND object_type = ? AND object_id = ? AND kind = ?`,
		subjectID, string(obj.Type), obj.ID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HasGrant(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE subject_id = ? AND object_type = ? AND object_id = ? AND kind = ?`,
		subjectID, string(obj.Type), obj.ID, string(kind),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListGrants(ctx context.Context, subjectID string, obj models.ObjectRef) ([]models.PermissionKind, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT kind FROM grants WHERE subject_id = ? AND object_type = ? AND object_id = ? ORDER BY kind`,
		subjectID, string(obj.Type), obj.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var kinds []models.PermissionKind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		kinds = append(kinds, models.PermissionKind(k))
	}
	return kinds, rows.Err()
}

// GrantSubjects lists the subjects holding kind on obj, ordered by subject id.
func (s *SQLiteStore) GrantSubjects(ctx context.Context, obj models.ObjectRef, kind models.PermissionKind) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT subject_id FROM grants WHERE object_type = ? AND object_id = ? AND kind = ? ORDER BY subject_id`,
		string(obj.Type), obj.ID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list grant subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan grant subject: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteObjectGrants removes every grant on obj.
func (s *SQLiteStore) DeleteObjectGrants(ctx context.Context, obj models.ObjectRef) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM grants WHERE object_type = ? AND object_id = ?`, string(obj.Type), obj.ID)
	if err != nil {
		return fmt.Errorf("delete object grants: %w", err)
	}
	return nil
}
