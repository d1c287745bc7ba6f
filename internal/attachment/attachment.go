// Package attachment stores files attached to user stories.
package attachment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Upload is a new attachment.
type Upload struct {
	Name        string
	Description string
	Filename    string
	ContentType string
	Kind        models.AttachmentKind
	Language    models.Language
	Data        []byte
}

// Meta holds the editable attachment fields.
type Meta struct {
	Name        string
	Description string
	Kind        models.AttachmentKind
	Language    models.Language
}

// Service manages attachment metadata and bytes.
type Service struct {
	store  store.Store
	bytes  ByteStore
	logger *slog.Logger
}

// NewService returns a Service.
func NewService(s store.Store, b ByteStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, bytes: b, logger: logger}
}

func requireEdit(ctx context.Context, s store.Store, actorID string, us *models.UserStory) error {
	return ledger.New(s).Require(ctx, actorID,
		ledger.OnProject(us.ProjectID, models.PermEditUserStory),
		ledger.OnStory(us.ID, models.PermEditMyUserStory))
}

// requireView loads the story and checks that actorID may view its project.
func requireView(ctx context.Context, s store.Store, actorID, storyID, action string) error {
	us, err := s.GetStory(ctx, storyID)
	if err != nil {
		return apperrors.FromStore(err, action)
	}
	return ledger.New(s).Require(ctx, actorID, ledger.OnProject(us.ProjectID, models.PermViewProject))
}

// Add stores up.Data and records its metadata on the story.
func (s *Service) Add(ctx context.Context, actorID, storyID string, up Upload) (*models.Attachment, error) {
	if strings.TrimSpace(up.Name) == "" {
		up.Name = up.Filename
	}
	if strings.TrimSpace(up.Name) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "attachment name is required")
	}
	if err := models.ValidateKind(up.Kind, up.Language); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
	}

	us, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, apperrors.FromStore(err, "add attachment")
	}
	if err := requireEdit(ctx, s.store, actorID, us); err != nil {
		return nil, err
	}

	contentType := up.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(up.Data)
	}
	handle, err := s.bytes.Put(ctx, up.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "store attachment: "+err.Error())
	}

	a := &models.Attachment{
		StoryID:     storyID,
		Name:        strings.TrimSpace(up.Name),
		Description: up.Description,
		Filename:    filepath.Base(up.Filename),
		ContentType: contentType,
		Size:        int64(len(up.Data)),
		Handle:      handle,
		Kind:        up.Kind,
		Language:    up.Language,
	}
	if err := s.store.CreateAttachment(ctx, a); err != nil {
		if delErr := s.bytes.Delete(ctx, handle); delErr != nil {
			s.logger.Warn("orphaned attachment bytes", "handle", handle, "error", delErr)
		}
		return nil, apperrors.FromStore(err, "add attachment")
	}
	s.logger.Info("attachment added", "attachment", a.ID, "story", storyID, "size", a.Size, "actor", actorID)
	return a, nil
}

// Open returns an attachment's metadata and a reader over its bytes. The
// caller closes the reader.
func (s *Service) Open(ctx context.Context, actorID, id string) (*models.Attachment, io.ReadCloser, error) {
	a, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, apperrors.FromStore(err, "open attachment")
	}
	if err := requireView(ctx, s.store, actorID, a.StoryID, "open attachment"); err != nil {
		return nil, nil, err
	}
	rc, err := s.bytes.Open(ctx, a.Handle)
	if err != nil {
		if errors.Is(err, ErrHandleNotFound) {
			return nil, nil, apperrors.Wrap(apperrors.CodeNotFound, err, "open attachment: "+err.Error())
		}
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, err, "open attachment: "+err.Error())
	}
	return a, rc, nil
}

// UpdateMeta changes the name, description, kind and language of an
// attachment. Its bytes never change.
func (s *Service) UpdateMeta(ctx context.Context, actorID, id string, m Meta) (*models.Attachment, error) {
	if strings.TrimSpace(m.Name) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "attachment name is required")
	}
	if err := models.ValidateKind(m.Kind, m.Language); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, err.Error())
	}

	var out *models.Attachment
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAttachment(ctx, id)
		if err != nil {
			return apperrors.FromStore(err, "update attachment")
		}
		us, err := tx.GetStory(ctx, a.StoryID)
		if err != nil {
			return apperrors.FromStore(err, "update attachment")
		}
		if err := requireEdit(ctx, tx, actorID, us); err != nil {
			return err
		}
		a.Name = strings.TrimSpace(m.Name)
		a.Description = m.Description
		a.Kind = m.Kind
		a.Language = m.Language
		if err := tx.UpdateAttachment(ctx, a); err != nil {
			return apperrors.FromStore(err, "update attachment")
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the attachments of a story.
func (s *Service) List(ctx context.Context, actorID, storyID string) ([]*models.Attachment, error) {
	if err := requireView(ctx, s.store, actorID, storyID, "list attachments"); err != nil {
		return nil, err
	}
	list, err := s.store.ListAttachments(ctx, storyID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list attachments")
	}
	return list, nil
}
