package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/scrum/internal/models"
)

// --- User stories ---

const storyColumns = `id, project_id, name, description, priority, business_value, technical_value,
	estimated_hours, recorded_hours, state, activity_state, sprint_id, developer_id, activity_id,
	version, created_at, updated_at`

func scanStory(row interface{ Scan(...any) error }) (*models.UserStory, error) {
	us := &models.UserStory{}
	var sprintID, developerID, activityID sql.NullString
	err := row.Scan(&us.ID, &us.ProjectID, &us.Name, &us.Description, &us.Priority,
		&us.BusinessValue, &us.TechnicalValue, &us.EstimatedHours, &us.RecordedHours,
		&us.State, &us.ActivityState, &sprintID, &developerID, &activityID,
		&us.Version, &us.CreatedAt, &us.UpdatedAt)
	if err != nil {
		return nil, err
	}
	us.SprintID = sprintID.String
	us.DeveloperID = developerID.String
	us.ActivityID = activityID.String
	return us, nil
}

func (s *SQLiteStore) CreateStory(ctx context.Context, us *models.UserStory) error {
	if us.ID == "" {
		us.ID = newULID()
	}
	now := time.Now().UTC()
	us.CreatedAt = now
	us.UpdatedAt = now
	us.Version = 1

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO user_stories (`+storyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		us.ID, us.ProjectID, us.Name, us.Description, int(us.Priority),
		us.BusinessValue, us.TechnicalValue, us.EstimatedHours, us.RecordedHours,
		int(us.State), int(us.ActivityState), nullString(us.SprintID), nullString(us.DeveloperID), nullString(us.ActivityID),
		us.Version, us.CreatedAt, us.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStory(ctx context.Context, id string) (*models.UserStory, error) {
	us, err := scanStory(s.q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM user_stories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("story", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return us, nil
}

func (s *SQLiteStore) ListStories(ctx context.Context, filter StoryFilter) ([]*models.UserStory, error) {
	query := `SELECT ` + storyColumns + ` FROM user_stories`
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.SprintID != "" {
		conditions = append(conditions, "sprint_id = ?")
		args = append(args, filter.SprintID)
	}
	if filter.DeveloperID != "" {
		conditions = append(conditions, "developer_id = ?")
		args = append(args, filter.DeveloperID)
	}
	if filter.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, int(*filter.State))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY priority DESC, created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stories []*models.UserStory
	for rows.Next() {
		us, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, us)
	}
	return stories, rows.Err()
}

// UpdateStory writes every mutable column if the stored version still equals
// us.Version, then increments us.Version. A stale version yields ErrConflict.
func (s *SQLiteStore) UpdateStory(ctx context.Context, us *models.UserStory) error {
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`UPDATE user_stories SET name=?, description=?, priority=?, business_value=?, technical_value=?,
			estimated_hours=?, recorded_hours=?, state=?, activity_state=?, sprint_id=?, developer_id=?,
			activity_id=?, version=version+1, updated_at=?
		WHERE id=? AND version=?`,
		us.Name, us.Description, int(us.Priority), us.BusinessValue, us.TechnicalValue,
		us.EstimatedHours, us.RecordedHours, int(us.State), int(us.ActivityState),
		nullString(us.SprintID), nullString(us.DeveloperID), nullString(us.ActivityID),
		now, us.ID, us.Version,
	)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetStory(ctx, us.ID); err != nil {
			return err
		}
		return fmt.Errorf("update story %s at version %d: %w", us.ID, us.Version, ErrConflict)
	}
	us.Version++
	us.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteStory(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM user_stories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	return affected(result, "story", id)
}

// CountHigherPriority counts the in-progress stories that share us's
// (sprint, activity, developer) slot and outrank it. Inactive, pending,
// approved and cancelled siblings have no work left to do in the slot,
// so only in-progress ones can block.
func (s *SQLiteStore) CountHigherPriority(ctx context.Context, us *models.UserStory) (int, error) {
	if us.SprintID == "" || us.ActivityID == "" || us.DeveloperID == "" {
		return 0, nil
	}
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_stories
		WHERE id != ? AND sprint_id = ? AND activity_id = ? AND developer_id = ?
			AND priority > ? AND state = ?`,
		us.ID, us.SprintID, us.ActivityID, us.DeveloperID, int(us.Priority), int(models.StateInProgress),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count higher priority stories: %w", err)
	}
	return n, nil
}

// --- Notes ---

func (s *SQLiteStore) CreateNote(ctx context.Context, n *models.Note) error {
	if n.ID == "" {
		n.ID = newULID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO notes (id, story_id, message, hours_delta, recorded_hours, developer_id, sprint_id, activity_id, state, activity_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.StoryID, n.Message, n.HoursDelta, n.RecordedHours, n.DeveloperID, n.SprintID, n.ActivityID,
		int(n.State), int(n.ActivityState), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, storyID string) ([]*models.Note, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, story_id, message, hours_delta, recorded_hours, developer_id, sprint_id, activity_id, state, activity_state, created_at
		FROM notes WHERE story_id = ? ORDER BY created_at, id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*models.Note
	for rows.Next() {
		n := &models.Note{}
		if err := rows.Scan(&n.ID, &n.StoryID, &n.Message, &n.HoursDelta, &n.RecordedHours,
			&n.DeveloperID, &n.SprintID, &n.ActivityID, &n.State, &n.ActivityState, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// --- Revisions ---

// AppendRevision stores r with the next sequence number for its story.
func (s *SQLiteStore) AppendRevision(ctx context.Context, r *models.Revision) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshal revision fields: %w", err)
	}

	err = s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM revisions WHERE story_id = ?`, r.StoryID,
	).Scan(&r.Seq)
	if err != nil {
		return fmt.Errorf("next revision seq: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO revisions (id, story_id, seq, actor_id, comment, fields, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StoryID, r.Seq, r.ActorID, r.Comment, string(fields), r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("append revision %d: %w", r.Seq, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

const revisionColumns = `id, story_id, seq, actor_id, comment, fields, created_at`

func scanRevision(row interface{ Scan(...any) error }) (*models.Revision, error) {
	r := &models.Revision{}
	var fields string
	if err := row.Scan(&r.ID, &r.StoryID, &r.Seq, &r.ActorID, &r.Comment, &fields, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal revision fields: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRevision(ctx context.Context, id string) (*models.Revision, error) {
	r, err := scanRevision(s.q.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("revision", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) LatestRevision(ctx context.Context, storyID string) (*models.Revision, error) {
	r, err := scanRevision(s.q.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE story_id = ? ORDER BY seq DESC LIMIT 1`, storyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("revision for story", storyID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest revision: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRevisions(ctx context.Context, storyID string) ([]*models.Revision, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE story_id = ? ORDER BY seq`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Attachments ---

const attachmentColumns = `id, story_id, name, description, filename, content_type, size, handle, kind, language, created_at`

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	a := &models.Attachment{}
	var kind, lang string
	if err := row.Scan(&a.ID, &a.StoryID, &a.Name, &a.Description, &a.Filename, &a.ContentType,
		&a.Size, &a.Handle, &kind, &lang, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Kind = models.AttachmentKind(kind)
	a.Language = models.Language(lang)
	return a, nil
}

func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO attachments (`+attachmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StoryID, a.Name, a.Description, a.Filename, a.ContentType, a.Size, a.Handle,
		string(a.Kind), string(a.Language), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	a, err := scanAttachment(s.q.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attachment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, storyID string) ([]*models.Attachment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE story_id = ? ORDER BY created_at, id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAttachment changes the metadata of an attachment. The byte handle,
// size and content type are fixed at creation.
func (s *SQLiteStore) UpdateAttachment(ctx context.Context, a *models.Attachment) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE attachments SET name=?, description=?, kind=?, language=? WHERE id=?`,
		a.Name, a.Description, string(a.Kind), string(a.Language), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	return affected(result, "attachment", a.ID)
}
