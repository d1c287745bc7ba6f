// Package revision keeps the append-only snapshot log of user story fields.
package revision

import (
	"context"
	"errors"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Recorder appends and reads revisions through a store handle.
type Recorder struct {
	store store.Store
}

// New returns a Recorder backed by s. Pass the transactional store so the
// snapshot commits with the mutation it records.
func New(s store.Store) *Recorder {
	return &Recorder{store: s}
}

// Snapshot appends a revision of us's tracked fields. It returns false and
// writes nothing when the fields equal the latest revision.
func (r *Recorder) Snapshot(ctx context.Context, us *models.UserStory, actorID, comment string) (*models.Revision, bool, error) {
	fields := us.Fields()
	latest, err := r.store.LatestRevision(ctx, us.ID)
	switch {
	case err == nil:
		if latest.Fields == fields {
			return latest, false, nil
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, false, apperrors.FromStore(err, "load latest revision")
	}

	rev := &models.Revision{StoryID: us.ID, ActorID: actorID, Comment: comment, Fields: fields}
	if err := r.store.AppendRevision(ctx, rev); err != nil {
		return nil, false, apperrors.FromStore(err, "append revision")
	}
	return rev, true, nil
}

// List returns the revisions of a story, oldest first.
func (r *Recorder) List(ctx context.Context, storyID string) ([]*models.Revision, error) {
	revs, err := r.store.ListRevisions(ctx, storyID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list revisions")
	}
	return revs, nil
}

// Get returns one revision of a story. A revision of another story is reported as not found.
func (r *Recorder) Get(ctx context.Context, storyID, revisionID string) (*models.Revision, error) {
	rev, err := r.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, apperrors.FromStore(err, "get revision")
	}
	if rev.StoryID != storyID {
		return nil, apperrors.New(apperrors.CodeNotFound, "revision %s does not belong to story %s", revisionID, storyID)
	}
	return rev, nil
}
