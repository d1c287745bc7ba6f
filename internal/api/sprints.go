package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/sprint"
)

// dateLayout is the wire format of sprint start dates.
const dateLayout = "2006-01-02"

func (s *Server) registerSprintOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "allocateSprint",
		Method:        http.MethodPost,
		Path:          prefix + "/projects/{project}/sprints",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create a sprint and allocate stories into it",
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, s.allocateSprint)

	huma.Register(s.api, huma.Operation{
		OperationID: "listSprints",
		Method:      http.MethodGet,
		Path:        prefix + "/projects/{project}/sprints",
		Summary:     "List sprints",
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, s.listSprints)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateSprint",
		Method:      http.MethodPatch,
		Path:        prefix + "/sprints/{id}",
		Summary:     "Update a sprint and allocate more stories",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, s.updateSprint)

	huma.Register(s.api, huma.Operation{
		OperationID: "sprintMetrics",
		Method:      http.MethodGet,
		Path:        prefix + "/sprints/{id}/metrics",
		Summary:     "Sprint effort and progress",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.sprintMetrics)
}

type assignmentRequest struct {
	StoryID     string `json:"story_id"`
	DeveloperID string `json:"developer_id"`
	FlowID      string `json:"flow_id"`
}

type sprintRequest struct {
	Name        string              `json:"name,omitempty"`
	Start       string              `json:"start,omitempty" doc:"Start date, YYYY-MM-DD"`
	Assignments []assignmentRequest `json:"assignments,omitempty"`
}

func (r sprintRequest) draft() (sprint.Draft, []sprint.Assignment, error) {
	d := sprint.Draft{Name: r.Name}
	if r.Start != "" {
		start, err := time.Parse(dateLayout, r.Start)
		if err != nil {
			return d, nil, huma.Error400BadRequest("start must be a YYYY-MM-DD date")
		}
		d.StartAt = start
	}
	as := make([]sprint.Assignment, 0, len(r.Assignments))
	for _, a := range r.Assignments {
		as = append(as, sprint.Assignment{StoryID: a.StoryID, DeveloperID: a.DeveloperID, FlowID: a.FlowID})
	}
	return d, as, nil
}

type sprintOutput struct {
	Body struct {
		Sprint  sprintView  `json:"sprint"`
		Stories []storyView `json:"stories"`
	}
}

func sprintResult(sp *models.Sprint, stories []*models.UserStory, err error) (*sprintOutput, error) {
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &sprintOutput{}
	out.Body.Sprint = newSprintView(sp)
	out.Body.Stories = newStoryViews(stories)
	return out, nil
}

type allocateSprintInput struct {
	Actor   string `header:"X-Scrum-User"`
	Project string `path:"project"`
	Body    sprintRequest
}

func (s *Server) allocateSprint(ctx context.Context, input *allocateSprintInput) (*sprintOutput, error) {
	d, as, err := input.Body.draft()
	if err != nil {
		return nil, err
	}
	return sprintResult(s.sprints.Allocate(ctx, input.Actor, input.Project, d, as))
}

type updateSprintInput struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
	Body  sprintRequest
}

func (s *Server) updateSprint(ctx context.Context, input *updateSprintInput) (*sprintOutput, error) {
	d, as, err := input.Body.draft()
	if err != nil {
		return nil, err
	}
	return sprintResult(s.sprints.Update(ctx, input.Actor, input.ID, d, as))
}

type listSprintsInput struct {
	Actor   string `header:"X-Scrum-User"`
	Project string `path:"project"`
}

type listSprintsOutput struct {
	Body struct {
		Sprints []sprintView `json:"sprints"`
	}
}

func (s *Server) listSprints(ctx context.Context, input *listSprintsInput) (*listSprintsOutput, error) {
	if err := s.requireView(ctx, input.Actor, input.Project); err != nil {
		return nil, err
	}
	sprints, err := s.sprints.List(ctx, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listSprintsOutput{}
	out.Body.Sprints = make([]sprintView, 0, len(sprints))
	for _, sp := range sprints {
		out.Body.Sprints = append(out.Body.Sprints, newSprintView(sp))
	}
	return out, nil
}

type metricsOutput struct {
	Body metricsView
}

func (s *Server) sprintMetrics(ctx context.Context, input *struct {
	Actor string `header:"X-Scrum-User"`
	ID    string `path:"id"`
}) (*metricsOutput, error) {
	sp, err := s.sprints.Get(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	if err := s.requireView(ctx, input.Actor, sp.ProjectID); err != nil {
		return nil, err
	}
	sum, err := s.metrics.Sprint(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &metricsOutput{Body: newMetricsView(sum)}, nil
}
