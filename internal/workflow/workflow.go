// Package workflow maintains flows: ordered, append-only sequences of activities.
package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Graph answers ordering questions about flows and appends to them.
type Graph struct {
	store  store.Store
	logger *slog.Logger
}

// New returns a Graph. A nil logger falls back to slog.Default().
func New(s store.Store, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{store: s, logger: logger}
}

// flowRequirement names the grant that lets a subject act on f: the
// project-scoped kind for a project flow, the global kind for a template.
func flowRequirement(f *models.Flow, onProject, onTemplate models.PermissionKind) ledger.Requirement {
	if f.IsTemplate() {
		return ledger.Global(onTemplate)
	}
	return ledger.OnProject(f.ProjectID, onProject)
}

// CreateFlow creates a flow with the given activities in order. An empty
// projectID creates a reusable template, which needs add_flow_template;
// a project flow needs create_flujo on the project.
func (g *Graph) CreateFlow(ctx context.Context, actorID, name, projectID string, activities ...string) (*models.Flow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "flow name is required")
	}
	for _, a := range activities {
		if strings.TrimSpace(a) == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "activity name is required")
		}
	}

	f := &models.Flow{Name: name, ProjectID: projectID}
	err := g.store.WithTx(ctx, func(tx store.Store) error {
		if projectID != "" {
			if _, err := tx.GetProject(ctx, projectID); err != nil {
				return apperrors.FromStore(err, "create flow")
			}
		}
		req := flowRequirement(f, models.PermCreateFlow, models.PermAddFlowTemplate)
		if err := ledger.New(tx).Require(ctx, actorID, req); err != nil {
			return err
		}
		if err := tx.CreateFlow(ctx, f); err != nil {
			return apperrors.FromStore(err, "create flow")
		}
		for _, a := range activities {
			act := &models.Activity{FlowID: f.ID, Name: strings.TrimSpace(a)}
			if err := tx.CreateActivity(ctx, act); err != nil {
				return apperrors.FromStore(err, "create flow")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("flow created", "flow", f.ID, "name", f.Name, "project", projectID, "activities", len(activities))
	return f, nil
}

// AppendActivity adds an activity after the current tail of the flow. It
// needs edit_flujo on the flow's project, or change_flow_template for a template.
func (g *Graph) AppendActivity(ctx context.Context, actorID, flowID, name string) (*models.Activity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "activity name is required")
	}
	var a *models.Activity
	err := g.store.WithTx(ctx, func(tx store.Store) error {
		f, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return apperrors.FromStore(err, "append activity")
		}
		req := flowRequirement(f, models.PermEditFlow, models.PermChangeFlowTemplate)
		if err := ledger.New(tx).Require(ctx, actorID, req); err != nil {
			return err
		}
		a = &models.Activity{FlowID: flowID, Name: name}
		return apperrors.FromStore(tx.CreateActivity(ctx, a), "append activity")
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RemoveFlow deletes a flow and its activities. It needs remove_flujo on
// the flow's project, or delete_flow_template for a template. A flow that
// still carries stories cannot be removed.
func (g *Graph) RemoveFlow(ctx context.Context, actorID, flowID string) error {
	err := g.store.WithTx(ctx, func(tx store.Store) error {
		f, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return apperrors.FromStore(err, "remove flow")
		}
		req := flowRequirement(f, models.PermRemoveFlow, models.PermDeleteFlowTemplate)
		if err := ledger.New(tx).Require(ctx, actorID, req); err != nil {
			return err
		}
		n, err := tx.CountFlowStories(ctx, flowID)
		if err != nil {
			return apperrors.FromStore(err, "remove flow")
		}
		if n > 0 {
			return apperrors.New(apperrors.CodeWrongState, "flow %s still carries %d user stories", flowID, n)
		}
		return apperrors.FromStore(tx.DeleteFlow(ctx, flowID), "remove flow")
	})
	if err != nil {
		return err
	}
	g.logger.Info("flow removed", "flow", flowID)
	return nil
}

// ActivitiesOf returns the flow's activities in order.
func (g *Graph) ActivitiesOf(ctx context.Context, flowID string) ([]*models.Activity, error) {
	if _, err := g.store.GetFlow(ctx, flowID); err != nil {
		return nil, apperrors.FromStore(err, "list activities")
	}
	acts, err := g.store.ListActivities(ctx, flowID)
	if err != nil {
		return nil, apperrors.FromStore(err, "list activities")
	}
	return acts, nil
}

// NextActivity returns the activity that follows activityID in its flow,
// or nil when activityID is the tail.
func (g *Graph) NextActivity(ctx context.Context, activityID string) (*models.Activity, error) {
	current, err := g.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, apperrors.FromStore(err, "next activity")
	}
	acts, err := g.store.ListActivities(ctx, current.FlowID)
	if err != nil {
		return nil, apperrors.FromStore(err, "next activity")
	}
	for _, a := range acts {
		if a.Position > current.Position {
			return a, nil
		}
	}
	return nil, nil
}

// FirstActivity returns the head of the flow. An empty flow is a validation error.
func (g *Graph) FirstActivity(ctx context.Context, flowID string) (*models.Activity, error) {
	acts, err := g.ActivitiesOf(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "flow %s has no activities", flowID)
	}
	return acts[0], nil
}

// Instantiate copies a template flow and its activities into a project.
// It needs create_flujo on the target project.
func (g *Graph) Instantiate(ctx context.Context, actorID, templateID, projectID, name string) (*models.Flow, error) {
	var flow *models.Flow
	err := g.store.WithTx(ctx, func(tx store.Store) error {
		tmpl, err := tx.GetFlow(ctx, templateID)
		if err != nil {
			return apperrors.FromStore(err, "instantiate flow")
		}
		if !tmpl.IsTemplate() {
			return apperrors.New(apperrors.CodeValidation, "flow %s is bound to a project and is not a template", templateID)
		}
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return apperrors.FromStore(err, "instantiate flow")
		}
		if err := ledger.New(tx).Require(ctx, actorID, ledger.OnProject(projectID, models.PermCreateFlow)); err != nil {
			return err
		}
		if strings.TrimSpace(name) == "" {
			name = tmpl.Name
		}
		flow = &models.Flow{Name: name, ProjectID: projectID}
		if err := tx.CreateFlow(ctx, flow); err != nil {
			return apperrors.FromStore(err, "instantiate flow")
		}
		acts, err := tx.ListActivities(ctx, tmpl.ID)
		if err != nil {
			return apperrors.FromStore(err, "instantiate flow")
		}
		for _, a := range acts {
			cp := &models.Activity{FlowID: flow.ID, Name: a.Name, Position: a.Position}
			if err := tx.CreateActivity(ctx, cp); err != nil {
				return apperrors.FromStore(err, "instantiate flow")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("flow instantiated", "template", templateID, "flow", flow.ID, "project", projectID)
	return flow, nil
}

// ListFlows returns the flows bound to a project.
func (g *Graph) ListFlows(ctx context.Context, projectID string) ([]*models.Flow, error) {
	flows, err := g.store.ListFlows(ctx, projectID)
	return flows, apperrors.FromStore(err, "list flows")
}

// ListTemplates returns the reusable template flows.
func (g *Graph) ListTemplates(ctx context.Context) ([]*models.Flow, error) {
	flows, err := g.store.ListTemplates(ctx)
	return flows, apperrors.FromStore(err, "list templates")
}
