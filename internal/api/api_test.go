package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/attachment"
	"github.com/joescharf/scrum/internal/events"
	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/notify"
	"github.com/joescharf/scrum/internal/sprint"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
	"github.com/joescharf/scrum/internal/team"
	"github.com/joescharf/scrum/internal/workflow"
)

type testEnv struct {
	server  *httptest.Server
	store   *store.SQLiteStore
	hub     *events.Hub
	clock   *clock
	project *models.Project
	flow    *models.Flow
	lead    *models.User
	dev     *models.User
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	env := &testEnv{store: s, clock: &clock{now: time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)}}

	hub := events.NewHub()
	t.Cleanup(hub.Close)
	env.hub = hub
	coord := notify.NewCoordinator(s, nil, notify.WithPublisher(hub))
	files, err := attachment.NewFileStore(filepath.Join(dir, "attachments"))
	require.NoError(t, err)

	mgr := team.NewManager(s, nil)
	srv := NewServer(Options{
		Store:       s,
		Stories:     story.NewService(s, nil, story.WithNotifier(coord), story.WithClock(env.clock.Now)),
		Sprints:     sprint.NewAllocator(s, coord, nil),
		Team:        mgr,
		Metrics:     metrics.NewCalculator(s),
		Attachments: attachment.NewService(s, files, nil),
		Hub:         hub,
	})
	env.server = httptest.NewServer(srv.Router())
	t.Cleanup(env.server.Close)

	env.project = &models.Project{ShortName: "P", SprintDays: 10}
	require.NoError(t, s.CreateProject(ctx, env.project))

	leadRole, err := mgr.CreateRole(ctx, "lead", []models.PermissionKind{
		models.PermCreateUserStory, models.PermEditUserStory, models.PermPrioritizeUserStory,
		models.PermCreateSprint, models.PermApproveUserStory, models.PermCancelUserStory,
		models.PermCreateFlow,
	})
	require.NoError(t, err)
	devRole, err := mgr.CreateRole(ctx, "dev", []models.PermissionKind{
		models.PermRegisterMyActivity, models.PermEditMyUserStory,
	})
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
	env.flow, err = graph.CreateFlow(ctx, env.lead.ID, "default", env.project.ID, "A1", "A2")
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, actor string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) createStory(t *testing.T) storyView {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/stories", e.lead.ID, map[string]any{
		"name": "login", "priority": "high", "estimated_hours": 10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[storyView](t, resp)
}

func (e *testEnv) allocate(t *testing.T, storyID string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/projects/"+e.project.ID+"/sprints", e.lead.ID, map[string]any{
		"name":  "Sprint 1",
		"start": "2024-01-01",
		"assignments": []map[string]string{
			{"story_id": storyID, "developer_id": e.dev.ID, "flow_id": e.flow.ID},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)
	resp := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStoryLifecycle_API(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)
	assert.Equal(t, "high", us.Priority)
	assert.Equal(t, "inactive", us.State)

	env.allocate(t, us.ID)

	resp := env.do(t, http.MethodGet, "/api/v1/stories/"+us.ID, env.dev.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[storyView](t, resp)
	assert.Equal(t, "in_progress", got.State)
	assert.Equal(t, env.dev.ID, got.DeveloperID)

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/progress", env.dev.ID, map[string]any{
		"hours": 4, "activity_state": "done", "message": "analysis finished",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[storyView](t, resp)
	assert.Equal(t, "todo", got.ActivityState)
	assert.Equal(t, 40, got.Progress)

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/progress", env.dev.ID, map[string]any{
		"hours": 6, "activity_state": "done",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending_approval", decode[storyView](t, resp).State)

	resp = env.do(t, http.MethodGet, "/api/v1/projects/"+env.project.ID+"/pending", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[struct {
		Stories []storyView `json:"stories"`
	}](t, resp)
	require.Len(t, pending.Stories, 1)

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/approve", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", decode[storyView](t, resp).State)

	resp = env.do(t, http.MethodGet, "/api/v1/projects/"+env.project.ID+"/metrics", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[metricsView](t, resp)
	assert.Equal(t, 100, m.Progress)
	assert.Equal(t, 10, m.RecordedHours)
	assert.Equal(t, 1, m.ByState["approved"])

	resp = env.do(t, http.MethodGet, "/api/v1/stories/"+us.ID+"/notes", env.dev.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	notes := decode[struct {
		Notes []noteView `json:"notes"`
	}](t, resp)
	assert.Len(t, notes.Notes, 2)
}

func TestErrorStatuses(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	resp := env.do(t, http.MethodPost, "/api/v1/projects/"+env.project.ID+"/stories", "", map[string]any{"name": "anon"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing actor")

	resp = env.do(t, http.MethodGet, "/api/v1/stories/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/approve", env.lead.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not pending approval")

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/progress", env.dev.ID, map[string]any{
		"hours": 1, "activity_state": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/projects/"+env.project.ID+"/stories?state=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordProgress_SprintExpired(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)
	env.allocate(t, us.ID)

	env.clock.Set(time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC))
	resp := env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/progress", env.dev.ID, map[string]any{
		"hours": 1, "activity_state": "doing",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "sprint")
}

func TestAllocate_NonMemberIsUnprocessable(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	outsider := &models.User{Username: "outsider"}
	require.NoError(t, env.store.CreateUser(context.Background(), outsider))

	resp := env.do(t, http.MethodPost, "/api/v1/projects/"+env.project.ID+"/sprints", env.lead.ID, map[string]any{
		"name": "S", "start": "2024-01-01",
		"assignments": []map[string]string{{"story_id": us.ID, "developer_id": outsider.ID, "flow_id": env.flow.ID}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/projects/"+env.project.ID+"/sprints", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Sprints []sprintView `json:"sprints"`
	}](t, resp)
	assert.Empty(t, list.Sprints)
}

func TestEditAndRestore_API(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	resp := env.do(t, http.MethodPatch, "/api/v1/stories/"+us.ID, env.lead.ID, map[string]any{"name": "sign in"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sign in", decode[storyView](t, resp).Name)

	resp = env.do(t, http.MethodGet, "/api/v1/stories/"+us.ID+"/revisions", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revs := decode[struct {
		Revisions []revisionView `json:"revisions"`
	}](t, resp)
	require.Len(t, revs.Revisions, 2)
	first := revs.Revisions[0]
	assert.Equal(t, "login", first.Fields.Name)

	resp = env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/revisions/"+first.ID+"/restore", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "login", decode[storyView](t, resp).Name)
}

func TestAttachments_API(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	resp := env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/attachments", env.lead.ID, map[string]any{
		"filename": "notes.txt", "kind": "text", "data": []byte("hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	a := decode[attachmentView](t, resp)
	assert.Equal(t, int64(5), a.Size)

	resp = env.do(t, http.MethodGet, "/api/v1/attachments/"+a.ID+"/content", env.dev.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename=notes.txt`, resp.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	resp = env.do(t, http.MethodGet, "/api/v1/attachments/"+a.ID+"/content", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/attachments/missing/content", env.dev.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttachmentDownload_QuotesFilename(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	resp := env.do(t, http.MethodPost, "/api/v1/stories/"+us.ID+"/attachments", env.lead.ID, map[string]any{
		"filename": `my "plan".txt`, "kind": "text", "data": []byte("x"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	a := decode[attachmentView](t, resp)

	resp = env.do(t, http.MethodGet, "/api/v1/attachments/"+a.ID+"/content", env.lead.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, `my "plan".txt`, params["filename"])
}

func TestReads_RequireViewProject(t *testing.T) {
	env := setupTestServer(t)
	us := env.createStory(t)

	outsider := &models.User{Username: "outsider"}
	require.NoError(t, env.store.CreateUser(context.Background(), outsider))

	paths := []string{
		"/api/v1/stories/" + us.ID,
		"/api/v1/stories/" + us.ID + "/notes",
		"/api/v1/stories/" + us.ID + "/attachments",
		"/api/v1/projects/" + env.project.ID + "/stories",
		"/api/v1/projects/" + env.project.ID + "/sprints",
		"/api/v1/projects/" + env.project.ID + "/members",
		"/api/v1/projects/" + env.project.ID + "/metrics",
	}
	for _, path := range paths {
		for _, actor := range []string{"", outsider.ID} {
			resp := env.do(t, http.MethodGet, path, actor, nil)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, "%s as %q", path, actor)
		}
		resp := env.do(t, http.MethodGet, path, env.dev.ID, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestWebsocketReceivesStoryEvents(t *testing.T) {
	env := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?project=" + env.project.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	us := env.createStory(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "story.created", ev["type"])
	assert.Equal(t, us.ID, ev["story_id"])
}
