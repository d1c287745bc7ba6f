package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
)

// Server exposes the story workflow as MCP tools. Every mutating tool acts
// as the configured actor.
type Server struct {
	store   store.Store
	stories *story.Service
	metrics *metrics.Calculator
	actorID string
}

// NewServer creates the MCP server wrapper. actorID is the user the tools act as.
func NewServer(s store.Store, stories *story.Service, calc *metrics.Calculator, actorID string) *Server {
	return &Server{store: s, stories: stories, metrics: calc, actorID: actorID}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("scrum", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listStoriesTool())
	srv.AddTool(s.recordProgressTool())
	srv.AddTool(s.approveStoryTool())
	srv.AddTool(s.rejectStoryTool())
	srv.AddTool(s.projectMetricsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

type storyOut struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Priority       string `json:"priority"`
	State          string `json:"state"`
	ActivityState  string `json:"activity_state"`
	EstimatedHours int    `json:"estimated_hours"`
	RecordedHours  int    `json:"recorded_hours"`
	Progress       int    `json:"progress"`
	SprintID       string `json:"sprint_id,omitempty"`
	DeveloperID    string `json:"developer_id,omitempty"`
	ActivityID     string `json:"activity_id,omitempty"`
}

func toStoryOut(us *models.UserStory) storyOut {
	return storyOut{
		ID:             us.ID,
		Name:           us.Name,
		Priority:       us.Priority.String(),
		State:          us.State.String(),
		ActivityState:  us.ActivityState.String(),
		EstimatedHours: us.EstimatedHours,
		RecordedHours:  us.RecordedHours,
		Progress:       us.Progress(),
		SprintID:       us.SprintID,
		DeveloperID:    us.DeveloperID,
		ActivityID:     us.ActivityID,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports a workflow error to the model with its code.
func errorResult(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed [%s]: %s", action, apperrors.CodeOf(err), apperrors.MessageOf(err)))
}

// scrum_list_stories
func (s *Server) listStoriesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scrum_list_stories",
		mcp.WithDescription("List the user stories of a project. Returns a JSON array with id, name, priority, state, activity_state, hours and progress."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project short name or ID")),
		mcp.WithString("sprint", mcp.Description("Filter by sprint ID")),
		mcp.WithString("developer", mcp.Description("Filter by developer username or ID")),
		mcp.WithString("state", mcp.Description("Filter by state: inactive, in_progress, pending_approval, approved, cancelled")),
	)
	return tool, s.handleListStories
}

func (s *Server) handleListStories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	p, err := s.resolveProject(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filter := store.StoryFilter{ProjectID: p.ID, SprintID: request.GetString("sprint", "")}
	if dev := request.GetString("developer", ""); dev != "" {
		u, err := s.resolveUser(ctx, dev)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.DeveloperID = u.ID
	}
	if st := request.GetString("state", ""); st != "" {
		state, err := models.ParseStoryState(st)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.State = &state
	}

	list, err := s.stories.List(ctx, s.actorID, filter)
	if err != nil {
		return errorResult("list stories", err), nil
	}
	out := make([]storyOut, len(list))
	for i, us := range list {
		out[i] = toStoryOut(us)
	}
	return jsonResult(out)
}

// scrum_record_progress
func (s *Server) recordProgressTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scrum_record_progress",
		mcp.WithDescription("Record worked hours on a user story and set its activity state. Marking the activity done moves the story to the next activity or, at the last one, to pending approval."),
		mcp.WithString("story", mcp.Required(), mcp.Description("User story ID")),
		mcp.WithNumber("hours", mcp.Description("Hours worked since the last report")),
		mcp.WithString("activity_state", mcp.Required(), mcp.Description("todo, doing or done")),
		mcp.WithString("message", mcp.Description("Progress note")),
	)
	return tool, s.handleRecordProgress
}

func (s *Server) handleRecordProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storyID, err := request.RequireString("story")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: story"), nil
	}
	stateName, err := request.RequireString("activity_state")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: activity_state"), nil
	}
	as, err := models.ParseActivityState(stateName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	us, err := s.stories.RecordProgress(ctx, s.actorID, storyID, story.Progress{
		Hours:         request.GetInt("hours", 0),
		ActivityState: as,
		Message:       request.GetString("message", ""),
	})
	if err != nil {
		return errorResult("record progress", err), nil
	}
	return jsonResult(toStoryOut(us))
}

// scrum_approve_story
func (s *Server) approveStoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scrum_approve_story",
		mcp.WithDescription("Approve a user story that is pending approval."),
		mcp.WithString("story", mcp.Required(), mcp.Description("User story ID")),
	)
	return tool, s.handleApproveStory
}

func (s *Server) handleApproveStory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storyID, err := request.RequireString("story")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: story"), nil
	}
	us, err := s.stories.Approve(ctx, s.actorID, storyID)
	if err != nil {
		return errorResult("approve story", err), nil
	}
	return jsonResult(toStoryOut(us))
}

// scrum_reject_story
func (s *Server) rejectStoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scrum_reject_story",
		mcp.WithDescription("Reject a user story that is pending approval. The story returns to in progress and its current activity restarts."),
		mcp.WithString("story", mcp.Required(), mcp.Description("User story ID")),
		mcp.WithString("reason", mcp.Description("Why the story was rejected")),
	)
	return tool, s.handleRejectStory
}

func (s *Server) handleRejectStory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storyID, err := request.RequireString("story")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: story"), nil
	}
	us, err := s.stories.Reject(ctx, s.actorID, storyID, request.GetString("reason", ""))
	if err != nil {
		return errorResult("reject story", err), nil
	}
	return jsonResult(toStoryOut(us))
}

// scrum_project_metrics
func (s *Server) projectMetricsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("scrum_project_metrics",
		mcp.WithDescription("Get estimated and recorded hours, progress, story counts per state and a health score for a project."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project short name or ID")),
	)
	return tool, s.handleProjectMetrics
}

func (s *Server) handleProjectMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	p, err := s.resolveProject(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := ledger.New(s.store).Require(ctx, s.actorID, ledger.OnProject(p.ID, models.PermViewProject)); err != nil {
		return errorResult("project metrics", err), nil
	}
	sum, err := s.metrics.Project(ctx, p.ID)
	if err != nil {
		return errorResult("project metrics", err), nil
	}

	byState := make(map[string]int, len(sum.ByState))
	for st, n := range sum.ByState {
		byState[st.String()] = n
	}
	return jsonResult(map[string]any{
		"project":         p.ShortName,
		"stories":         sum.Stories,
		"estimated_hours": sum.EstimatedHours,
		"recorded_hours":  sum.RecordedHours,
		"progress":        sum.Progress,
		"by_state":        byState,
		"health":          sum.Health,
	})
}

// resolveProject tries to find a project by short name first, then by ID.
func (s *Server) resolveProject(ctx context.Context, name string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, name); err == nil {
		return p, nil
	}
	if p, err := s.store.GetProject(ctx, name); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", name)
}

// resolveUser tries to find a user by username first, then by ID.
func (s *Server) resolveUser(ctx context.Context, name string) (*models.User, error) {
	if u, err := s.store.GetUserByUsername(ctx, name); err == nil {
		return u, nil
	}
	if u, err := s.store.GetUser(ctx, name); err == nil {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", name)
}
