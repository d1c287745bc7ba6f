package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joescharf/scrum/internal/attachment"
	"github.com/joescharf/scrum/internal/models"
)

func (s *Server) registerAttachmentOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listAttachments",
		Method:      http.MethodGet,
		Path:        prefix + "/stories/{id}/attachments",
		Summary:     "List story attachments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.listAttachments)

	huma.Register(s.api, huma.Operation{
		OperationID:   "addAttachment",
		Method:        http.MethodPost,
		Path:          prefix + "/stories/{id}/attachments",
		DefaultStatus: http.StatusCreated,
		Summary:       "Attach a file to a story",
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, s.addAttachment)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateAttachment",
		Method:      http.MethodPatch,
		Path:        prefix + "/attachments/{id}",
		Summary:     "Change attachment metadata",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, s.updateAttachment)
}

type attachmentOutput struct {
	Body attachmentView
}

type attachmentsOutput struct {
	Body struct {
		Attachments []attachmentView `json:"attachments"`
	}
}

func (s *Server) listAttachments(ctx context.Context, input *storyPathInput) (*attachmentsOutput, error) {
	list, err := s.attachments.List(ctx, input.Actor, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &attachmentsOutput{}
	out.Body.Attachments = make([]attachmentView, 0, len(list))
	for _, a := range list {
		out.Body.Attachments = append(out.Body.Attachments, newAttachmentView(a))
	}
	return out, nil
}

type addAttachmentInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  struct {
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type,omitempty"`
		Kind        string `json:"kind" enum:"img,text,misc,src"`
		Language    string `json:"language,omitempty"`
		Data        []byte `json:"data" doc:"Base64 encoded file contents"`
	}
}

func (s *Server) addAttachment(ctx context.Context, input *addAttachmentInput) (*attachmentOutput, error) {
	a, err := s.attachments.Add(ctx, input.Actor, input.ID, attachment.Upload{
		Name:        input.Body.Name,
		Description: input.Body.Description,
		Filename:    input.Body.Filename,
		ContentType: input.Body.ContentType,
		Kind:        models.AttachmentKind(input.Body.Kind),
		Language:    models.Language(input.Body.Language),
		Data:        input.Body.Data,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return &attachmentOutput{Body: newAttachmentView(a)}, nil
}

type updateAttachmentInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Kind        string `json:"kind" enum:"img,text,misc,src"`
		Language    string `json:"language,omitempty"`
	}
}

func (s *Server) updateAttachment(ctx context.Context, input *updateAttachmentInput) (*attachmentOutput, error) {
	a, err := s.attachments.UpdateMeta(ctx, input.Actor, input.ID, attachment.Meta{
		Name:        input.Body.Name,
		Description: input.Body.Description,
		Kind:        models.AttachmentKind(input.Body.Kind),
		Language:    models.Language(input.Body.Language),
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return &attachmentOutput{Body: newAttachmentView(a)}, nil
}
