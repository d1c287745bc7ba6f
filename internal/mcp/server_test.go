package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/sprint"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

type testEnv struct {
	store   *store.SQLiteStore
	stories *story.Service
	calc    *metrics.Calculator
	project *models.Project
	lead    *models.User
	dev     *models.User
	story   *models.UserStory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	now := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	env := &testEnv{
		store:   s,
		stories: story.NewService(s, nil, story.WithClock(func() time.Time { return now })),
		calc:    metrics.NewCalculator(s),
	}

	env.project = &models.Project{ShortName: "alpha", SprintDays: 10}
	require.NoError(t, s.CreateProject(ctx, env.project))

	mgr := team.NewManager(s, nil)
	leadRole, err := mgr.CreateRole(ctx, "lead", []models.PermissionKind{
		models.PermCreateUserStory, models.PermCreateSprint, models.PermApproveUserStory, models.PermCreateFlow,
	})
	require.NoError(t, err)
	devRole, err := mgr.CreateRole(ctx, "dev", []models.PermissionKind{models.PermRegisterMyActivity})
	require.NoError(t, err)

	env.lead = &models.User{Username: "lead", Email: "lead@example.com"}
	env.dev = &models.User{Username: "dev", Email: "dev@example.com"}
	require.NoError(t, s.CreateUser(ctx, env.lead))
	require.NoError(t, s.CreateUser(ctx, env.dev))
	_, err = mgr.AddMember(ctx, env.lead.ID, env.project.ID, []string{leadRole.ID})
	require.NoError(t, err)
	_, err = mgr.AddMember(ctx, env.dev.ID, env.project.ID, []string{devRole.ID})
	require.NoError(t, err)

	graph := workflow.New(s, nil)
	flow, err := graph.CreateFlow(ctx, env.lead.ID, "default", env.project.ID, "build")
	require.NoError(t, err)

	env.story, err = env.stories.Create(ctx, env.lead.ID, env.project.ID, models.StoryFields{Name: "login", EstimatedHours: 8})
	require.NoError(t, err)
	_, _, err = sprint.NewAllocator(s, nil, nil).Allocate(ctx, env.lead.ID, env.project.ID,
		sprint.Draft{Name: "S1", StartAt: now.AddDate(0, 0, -2)},
		[]sprint.Assignment{{StoryID: env.story.ID, DeveloperID: env.dev.ID, FlowID: flow.ID}})
	require.NoError(t, err)
	return env
}

func (e *testEnv) server(actor *models.User) *Server {
	return NewServer(e.store, e.stories, e.calc, actor.ID)
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func TestNewServer(t *testing.T) {
	env := newTestEnv(t)
	require.NotNil(t, env.server(env.lead).MCPServer())
}

func TestHandleListStories(t *testing.T) {
	env := newTestEnv(t)
	srv := env.server(env.lead)
	ctx := context.Background()

	result, err := srv.handleListStories(ctx, callToolReq("scrum_list_stories", map[string]any{"project": "alpha"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out []storyOut
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "login", out[0].Name)
	assert.Equal(t, "in_progress", out[0].State)

	result, err = srv.handleListStories(ctx, callToolReq("scrum_list_stories", map[string]any{
		"project": env.project.ID, "developer": "dev", "state": "approved",
	}))
	require.NoError(t, err)
	resultJSON(t, result, &out)
	assert.Empty(t, out)
}

func TestHandleListStories_Errors(t *testing.T) {
	env := newTestEnv(t)
	srv := env.server(env.lead)
	ctx := context.Background()

	result, err := srv.handleListStories(ctx, callToolReq("scrum_list_stories", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleListStories(ctx, callToolReq("scrum_list_stories", map[string]any{"project": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "project not found")

	result, err = srv.handleListStories(ctx, callToolReq("scrum_list_stories", map[string]any{"project": "alpha", "state": "lost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecordProgressThenApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server(env.dev).handleRecordProgress(ctx, callToolReq("scrum_record_progress", map[string]any{
		"story": env.story.ID, "hours": 8, "activity_state": "done", "message": "shipped",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out storyOut
	resultJSON(t, result, &out)
	assert.Equal(t, "pending_approval", out.State)
	assert.Equal(t, 100, out.Progress)

	result, err = env.server(env.lead).handleApproveStory(ctx, callToolReq("scrum_approve_story", map[string]any{"story": env.story.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	resultJSON(t, result, &out)
	assert.Equal(t, "approved", out.State)

	result, err = env.server(env.lead).handleProjectMetrics(ctx, callToolReq("scrum_project_metrics", map[string]any{"project": "alpha"}))
	require.NoError(t, err)
	var m map[string]any
	resultJSON(t, result, &m)
	assert.Equal(t, float64(100), m["progress"])
	assert.Equal(t, float64(8), m["recorded_hours"])
}

func TestHandleRecordProgress_PermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.server(env.lead).handleRecordProgress(context.Background(), callToolReq("scrum_record_progress", map[string]any{
		"story": env.story.ID, "hours": 1, "activity_state": "doing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "[permission_denied]")
}

func TestHandleRejectStory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server(env.dev).handleRecordProgress(ctx, callToolReq("scrum_record_progress", map[string]any{
		"story": env.story.ID, "hours": 2, "activity_state": "done",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = env.server(env.lead).handleRejectStory(ctx, callToolReq("scrum_reject_story", map[string]any{
		"story": env.story.ID, "reason": "needs tests",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out storyOut
	resultJSON(t, result, &out)
	assert.Equal(t, "in_progress", out.State)
	assert.Equal(t, "todo", out.ActivityState)
}

func TestHandleApproveStory_NotPending(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.server(env.lead).handleApproveStory(context.Background(), callToolReq("scrum_approve_story", map[string]any{"story": env.story.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "[not_found]")
}

func TestReadTools_NonMemberIsDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outsider := &models.User{Username: "outsider"}
	require.NoError(t, env.store.CreateUser(ctx, outsider))
	srv := env.server(outsider)

	result, err := srv.handleListStories(ctx, callToolReq("scrum_list_stories", map[string]any{"project": "alpha"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "[permission_denied]")

	result, err = srv.handleProjectMetrics(ctx, callToolReq("scrum_project_metrics", map[string]any{"project": "alpha"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "[permission_denied]")
}
