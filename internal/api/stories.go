package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
)

func (s *Server) registerStoryOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listStories",
		Method:      http.MethodGet,
		Path:        prefix + "/projects/{project}/stories",
		Summary:     "List user stories",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError},
	}, s.listStories)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createStory",
		Method:        http.MethodPost,
		Path:          prefix + "/projects/{project}/stories",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create user story",
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, s.createStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPendingStories",
		Method:      http.MethodGet,
		Path:        prefix + "/projects/{project}/pending",
		Summary:     "List stories waiting for approval",
		Errors:      []int{http.StatusForbidden},
	}, s.listPending)

	huma.Register(s.api, huma.Operation{
		OperationID: "getStory",
		Method:      http.MethodGet,
		Path:        prefix + "/stories/{id}",
		Summary:     "Get user story",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.getStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "editStory",
		Method:      http.MethodPatch,
		Path:        prefix + "/stories/{id}",
		Summary:     "Edit user story",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, s.editStory)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteStory",
		Method:        http.MethodDelete,
		Path:          prefix + "/stories/{id}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Delete user story",
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, s.deleteStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "recordProgress",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/progress",
		Summary:     "Record progress on a user story",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, s.recordProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "approveStory",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/approve",
		Summary:     "Approve a finished user story",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.approveStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "rejectStory",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/reject",
		Summary:     "Reject a finished user story",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.rejectStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelStory",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/cancel",
		Summary:     "Cancel a user story",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, s.cancelStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "assignStory",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/assign",
		Summary:     "Assign a developer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, s.assignStory)

	huma.Register(s.api, huma.Operation{
		OperationID: "listNotes",
		Method:      http.MethodGet,
		Path:        prefix + "/stories/{id}/notes",
		Summary:     "List progress notes",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.listNotes)

	huma.Register(s.api, huma.Operation{
		OperationID: "listRevisions",
		Method:      http.MethodGet,
		Path:        prefix + "/stories/{id}/revisions",
		Summary:     "List story revisions",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.listRevisions)

	huma.Register(s.api, huma.Operation{
		OperationID: "restoreRevision",
		Method:      http.MethodPost,
		Path:        prefix + "/stories/{id}/revisions/{revision}/restore",
		Summary:     "Restore the fields of a past revision",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, s.restoreRevision)
}

type storyPathInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
}

type storyOutput struct {
	Body storyView
}

type storiesOutput struct {
	Body struct {
		Stories []storyView `json:"stories"`
	}
}

func storyResult(us *models.UserStory, err error) (*storyOutput, error) {
	if err != nil {
		return nil, toHumaError(err)
	}
	return &storyOutput{Body: newStoryView(us)}, nil
}

func storiesResult(list []*models.UserStory, err error) (*storiesOutput, error) {
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &storiesOutput{}
	out.Body.Stories = newStoryViews(list)
	return out, nil
}

type listStoriesInput struct {
	Actor     string `header:"X-Scrum-User"`
	Project   string `path:"project"`
	Sprint    string `query:"sprint"`
	Developer string `query:"developer"`
	State     string `query:"state"`
}

func (s *Server) listStories(ctx context.Context, input *listStoriesInput) (*storiesOutput, error) {
	filter := store.StoryFilter{ProjectID: input.Project, SprintID: input.Sprint, DeveloperID: input.Developer}
	if input.State != "" {
		st, err := models.ParseStoryState(input.State)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		filter.State = &st
	}
	return storiesResult(s.stories.List(ctx, input.Actor, filter))
}

type createStoryRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Priority       string `json:"priority,omitempty"`
	BusinessValue  int    `json:"business_value,omitempty"`
	TechnicalValue int    `json:"technical_value,omitempty"`
	EstimatedHours int    `json:"estimated_hours,omitempty"`
}

type createStoryInput struct {
	Actor   string `header:"X-Scrum-User"`
	Project string `path:"project"`
	Body    createStoryRequest
}

func (s *Server) createStory(ctx context.Context, input *createStoryInput) (*storyOutput, error) {
	fields := models.StoryFields{
		Name:           input.Body.Name,
		Description:    input.Body.Description,
		BusinessValue:  input.Body.BusinessValue,
		TechnicalValue: input.Body.TechnicalValue,
		EstimatedHours: input.Body.EstimatedHours,
	}
	if input.Body.Priority != "" {
		p, err := models.ParsePriority(input.Body.Priority)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		fields.Priority = p
	}
	return storyResult(s.stories.Create(ctx, input.Actor, input.Project, fields))
}

type projectActorInput struct {
	Actor   string `header:"X-Scrum-User"`
	Project string `path:"project"`
}

func (s *Server) listPending(ctx context.Context, input *projectActorInput) (*storiesOutput, error) {
	return storiesResult(s.stories.ListPending(ctx, input.Actor, input.Project))
}

func (s *Server) getStory(ctx context.Context, input *storyPathInput) (*storyOutput, error) {
	return storyResult(s.stories.Get(ctx, input.Actor, input.ID))
}

type editStoryRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	BusinessValue  *int    `json:"business_value,omitempty"`
	TechnicalValue *int    `json:"technical_value,omitempty"`
	EstimatedHours *int    `json:"estimated_hours,omitempty"`
}

type editStoryInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  editStoryRequest
}

func (s *Server) editStory(ctx context.Context, input *editStoryInput) (*storyOutput, error) {
	patch := story.Patch{
		Name:           input.Body.Name,
		Description:    input.Body.Description,
		BusinessValue:  input.Body.BusinessValue,
		TechnicalValue: input.Body.TechnicalValue,
		EstimatedHours: input.Body.EstimatedHours,
	}
	if input.Body.Priority != nil {
		p, err := models.ParsePriority(*input.Body.Priority)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		patch.Priority = &p
	}
	return storyResult(s.stories.Edit(ctx, input.Actor, input.ID, patch))
}

func (s *Server) deleteStory(ctx context.Context, input *storyPathInput) (*struct{}, error) {
	if err := s.stories.Delete(ctx, input.Actor, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{}{}, nil
}

type progressRequest struct {
	Hours         int    `json:"hours" minimum:"0"`
	ActivityState string `json:"activity_state"`
	Message       string `json:"message,omitempty"`
}

type progressInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  progressRequest
}

func (s *Server) recordProgress(ctx context.Context, input *progressInput) (*storyOutput, error) {
	as, err := models.ParseActivityState(input.Body.ActivityState)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return storyResult(s.stories.RecordProgress(ctx, input.Actor, input.ID, story.Progress{
		Hours:         input.Body.Hours,
		ActivityState: as,
		Message:       input.Body.Message,
	}))
}

func (s *Server) approveStory(ctx context.Context, input *storyPathInput) (*storyOutput, error) {
	return storyResult(s.stories.Approve(ctx, input.Actor, input.ID))
}

type reasonInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  struct {
		Reason string `json:"reason,omitempty"`
	}
}

func (s *Server) rejectStory(ctx context.Context, input *reasonInput) (*storyOutput, error) {
	return storyResult(s.stories.Reject(ctx, input.Actor, input.ID, input.Body.Reason))
}

func (s *Server) cancelStory(ctx context.Context, input *reasonInput) (*storyOutput, error) {
	return storyResult(s.stories.Cancel(ctx, input.Actor, input.ID, input.Body.Reason))
}

type assignInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  struct {
		DeveloperID string `json:"developer_id"`
	}
}

func (s *Server) assignStory(ctx context.Context, input *assignInput) (*storyOutput, error) {
	return storyResult(s.stories.Assign(ctx, input.Actor, input.ID, input.Body.DeveloperID))
}

type notesOutput struct {
	Body struct {
		Notes []noteView `json:"notes"`
	}
}

func (s *Server) listNotes(ctx context.Context, input *storyPathInput) (*notesOutput, error) {
	notes, err := s.stories.Notes(ctx, input.Actor, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &notesOutput{}
	out.Body.Notes = newNoteViews(notes)
	return out, nil
}

type revisionsOutput struct {
	Body struct {
		Revisions []revisionView `json:"revisions"`
	}
}

func (s *Server) listRevisions(ctx context.Context, input *storyPathInput) (*revisionsOutput, error) {
	revs, err := s.stories.Revisions(ctx, input.Actor, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &revisionsOutput{}
	out.Body.Revisions = newRevisionViews(revs)
	return out, nil
}

type restoreInput struct {
	Actor    string `header:"X-Scrum-User"`
	ID       string `path:"id"`
	Revision string `path:"revision"`
}

func (s *Server) restoreRevision(ctx context.Context, input *restoreInput) (*storyOutput, error) {
	return storyResult(s.stories.Restore(ctx, input.Actor, input.ID, input.Revision))
}
