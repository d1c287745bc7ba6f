package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/scrum/internal/models"
)

// --- Flows ---

func (s *SQLiteStore) CreateFlow(ctx context.Context, f *models.Flow) error {
	if f.ID == "" {
		f.ID = newULID()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO flows (id, name, project_id, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.Name, nullString(f.ProjectID), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create flow: %w", err)
	}
	return nil
}

func scanFlow(row interface{ Scan(...any) error }) (*models.Flow, error) {
	f := &models.Flow{}
	var projectID sql.NullString
	if err := row.Scan(&f.ID, &f.Name, &projectID, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ProjectID = projectID.String
	return f, nil
}

func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	f, err := scanFlow(s.q.QueryRowContext(ctx, `SELECT id, name, project_id, created_at FROM flows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("flow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return f, nil
}

// ListFlows returns the flows bound to a project.
func (s *SQLiteStore) ListFlows(ctx context.Context, projectID string) ([]*models.Flow, error) {
	return s.listFlows(ctx, `SELECT id, name, project_id, created_at FROM flows WHERE project_id = ? ORDER BY name`, projectID)
}

// ListTemplates returns the flows not bound to any project.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*models.Flow, error) {
	return s.listFlows(ctx, `SELECT id, name, project_id, created_at FROM flows WHERE project_id IS NULL ORDER BY name`)
}

func (s *SQLiteStore) listFlows(ctx context.Context, query string, args ...any) ([]*models.Flow, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flows []*models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// DeleteFlow removes a flow. Its activities go with it.
func (s *SQLiteStore) DeleteFlow(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	return affected(result, "flow", id)
}

// CountFlowStories counts the stories currently placed on one of the flow's activities.
func (s *SQLiteStore) CountFlowStories(ctx context.Context, flowID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_stories
		WHERE activity_id IN (SELECT id FROM activities WHERE flow_id = ?)`, flowID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flow stories: %w", err)
	}
	return n, nil
}

// --- Activities ---

// CreateActivity appends an activity to its flow. A zero Position is replaced
// by the next free position.
func (s *SQLiteStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.Position == 0 {
		err := s.q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM activities WHERE flow_id = ?`, a.FlowID,
		).Scan(&a.Position)
		if err != nil {
			return fmt.Errorf("next activity position: %w", err)
		}
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO activities (id, flow_id, name, position) VALUES (?, ?, ?, ?)`,
		a.ID, a.FlowID, a.Name, a.Position,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create activity at position %d: %w", a.Position, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	a := &models.Activity{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, flow_id, name, position FROM activities WHERE id = ?`, id,
	).Scan(&a.ID, &a.FlowID, &a.Name, &a.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("activity", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// ListActivities returns a flow's activities ordered by position.
func (s *SQLiteStore) ListActivities(ctx context.Context, flowID string) ([]*models.Activity, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, flow_id, name, position FROM activities WHERE flow_id = ? ORDER BY position`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		if err := rows.Scan(&a.ID, &a.FlowID, &a.Name, &a.Position); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Sprints ---

func (s *SQLiteStore) CreateSprint(ctx context.Context, sp *models.Sprint) error {
	if sp.ID == "" {
		sp.ID = newULID()
	}
	sp.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sprints (id, project_id, name, start_at, end_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.ProjectID, sp.Name, sp.StartAt, sp.EndAt, sp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sprint: %w", err)
	}
	return nil
}

const sprintColumns = `id, project_id, name, start_at, end_at, created_at`

func (s *SQLiteStore) GetSprint(ctx context.Context, id string) (*models.Sprint, error) {
	sp := &models.Sprint{}
	err := s.q.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id).
		Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.StartAt, &sp.EndAt, &sp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sprint", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sprint: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) ListSprints(ctx context.Context, projectID string) ([]*models.Sprint, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE project_id = ? ORDER BY start_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Sprint
	for rows.Next() {
		sp := &models.Sprint{}
		if err := rows.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.StartAt, &sp.EndAt, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSprint(ctx context.Context, sp *models.Sprint) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE sprints SET name=?, start_at=?, end_at=? WHERE id=?`,
		sp.Name, sp.StartAt, sp.EndAt, sp.ID,
	)
	if err != nil {
		return fmt.Errorf("update sprint: %w", err)
	}
	return affected(result, "sprint", sp.ID)
}

func (s *SQLiteStore) DeleteSprint(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM sprints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sprint: %w", err)
	}
	return affected(result, "sprint", id)
}
