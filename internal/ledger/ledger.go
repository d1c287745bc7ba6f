// Package ledger records which subject holds which permission kind on which object.
package ledger

import (
	"context"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Ledger reads and writes grants through a store handle. Construct it with
// the transactional store to make grants commit with the surrounding change.
type Ledger struct {
	store store.Store
}

// New returns a Ledger backed by s.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Requirement is one (object, kind) pair that satisfies a permission check.
type Requirement struct {
	Object models.ObjectRef
	Kind   models.PermissionKind
}

func checkScope(obj models.ObjectRef, kind models.PermissionKind) error {
	if !kind.Valid() {
		return apperrors.New(apperrors.CodeValidation, "unknown permission: %q", kind)
	}
	if kind.Scope() != obj.Type {
		return apperrors.New(apperrors.CodeValidation, "permission %s applies to %s objects, not %s", kind, kind.Scope(), obj.Type)
	}
	return nil
}

// Grant gives subject kind on obj. Granting an existing entry is a no-op.
func (l *Ledger) Grant(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) error {
	if err := checkScope(obj, kind); err != nil {
		return err
	}
	g := &models.Grant{SubjectID: subjectID, Object: obj, Kind: kind}
	return apperrors.FromStore(l.store.AddGrant(ctx, g), "grant "+string(kind))
}

// Revoke removes kind from subject on obj. Revoking an absent grant is a no-op.
func (l *Ledger) Revoke(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) error {
	if err := checkScope(obj, kind); err != nil {
		return err
	}
	return apperrors.FromStore(l.store.RemoveGrant(ctx, subjectID, obj, kind), "revoke "+string(kind))
}

// Has reports whether subject holds kind on obj.
func (l *Ledger) Has(ctx context.Context, subjectID string, obj models.ObjectRef, kind models.PermissionKind) (bool, error) {
	if subjectID == "" {
		return false, nil
	}
	ok, err := l.store.HasGrant(ctx, subjectID, obj, kind)
	if err != nil {
		return false, apperrors.FromStore(err, "check permission")
	}
	return ok, nil
}

// ListFor returns every kind subject holds on obj.
func (l *Ledger) ListFor(ctx context.Context, subjectID string, obj models.ObjectRef) ([]models.PermissionKind, error) {
	kinds, err := l.store.ListGrants(ctx, subjectID, obj)
	if err != nil {
		return nil, apperrors.FromStore(err, "list permissions")
	}
	return kinds, nil
}

// SubjectsWith returns the subjects holding kind on obj.
func (l *Ledger) SubjectsWith(ctx context.Context, obj models.ObjectRef, kind models.PermissionKind) ([]string, error) {
	ids, err := l.store.GrantSubjects(ctx, obj, kind)
	if err != nil {
		return nil, apperrors.FromStore(err, "list permission holders")
	}
	return ids, nil
}

// Require succeeds when subject satisfies at least one requirement and
// returns a permission_denied error otherwise.
func (l *Ledger) Require(ctx context.Context, subjectID string, reqs ...Requirement) error {
	kinds := make([]any, 0, len(reqs))
	for _, r := range reqs {
		ok, err := l.Has(ctx, subjectID, r.Object, r.Kind)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		kinds = append(kinds, r.Kind)
	}
	return apperrors.PermissionDenied(subjectID, kinds...)
}

// OnProject is a Requirement for a project-scoped kind.
func OnProject(projectID string, kind models.PermissionKind) Requirement {
	return Requirement{Object: models.ProjectObject(projectID), Kind: kind}
}

// OnStory is a Requirement for a story-scoped kind.
func OnStory(storyID string, kind models.PermissionKind) Requirement {
	return Requirement{Object: models.StoryObject(storyID), Kind: kind}
}

// Global is a Requirement for a global kind.
func Global(kind models.PermissionKind) Requirement {
	return Requirement{Object: models.GlobalObject, Kind: kind}
}
