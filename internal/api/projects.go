package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerProjectOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listMembers",
		Method:      http.MethodGet,
		Path:        prefix + "/projects/{project}/members",
		Summary:     "List project team members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.listMembers)

	huma.Register(s.api, huma.Operation{
		OperationID: "projectMetrics",
		Method:      http.MethodGet,
		Path:        prefix + "/projects/{project}/metrics",
		Summary:     "Project effort and progress",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, s.projectMetrics)
}

type projectPathInput struct {
	Actor   string `header:"X-Scrum-User"`
	Project string `path:"project"`
}

type membersOutput struct {
	Body struct {
		Members []membershipView `json:"members"`
	}
}

func (s *Server) listMembers(ctx context.Context, input *projectPathInput) (*membersOutput, error) {
	if err := s.requireView(ctx, input.Actor, input.Project); err != nil {
		return nil, err
	}
	members, err := s.team.ListMembers(ctx, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &membersOutput{}
	out.Body.Members = make([]membershipView, 0, len(members))
	for _, m := range members {
		roles := m.RoleIDs
		if roles == nil {
			roles = []string{}
		}
		out.Body.Members = append(out.Body.Members, membershipView{ID: m.ID, UserID: m.UserID, RoleIDs: roles})
	}
	return out, nil
}

func (s *Server) projectMetrics(ctx context.Context, input *projectPathInput) (*metricsOutput, error) {
	if err := s.requireView(ctx, input.Actor, input.Project); err != nil {
		return nil, err
	}
	sum, err := s.metrics.Project(ctx, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &metricsOutput{Body: newMetricsView(sum)}, nil
}
