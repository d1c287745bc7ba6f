package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/team"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakePublisher struct {
	events []models.Event
}

func (f *fakePublisher) Publish(ev models.Event) { f.events = append(f.events, ev) }

type fixture struct {
	store    *store.SQLiteStore
	project  *models.Project
	approver *models.User
	dev      *models.User
	stranger *models.User
	story    *models.UserStory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s}
	f.project = &models.Project{ShortName: "alpha"}
	require.NoError(t, s.CreateProject(ctx, f.project))

	mgr := team.NewManager(s, nil)
	lead, err := mgr.CreateRole(ctx, "lead", []models.PermissionKind{models.PermApproveUserStory})
	require.NoError(t, err)
	devRole, err := mgr.CreateRole(ctx, "dev", []models.PermissionKind{models.PermRegisterMyActivity})
	require.NoError(t, err)

	f.approver = f.user(t, "ana", "Ana", "Lopez")
	f.dev = f.user(t, "dev", "", "")
	f.stranger = f.user(t, "stranger", "", "")
	_, err = mgr.AddMember(ctx, f.approver.ID, f.project.ID, []string{lead.ID})
	require.NoError(t, err)
	_, err = mgr.AddMember(ctx, f.dev.ID, f.project.ID, []string{devRole.ID})
	require.NoError(t, err)

	// A grant without a membership must not make someone a recipient.
	require.NoError(t, ledger.New(s).Grant(ctx, f.stranger.ID, models.ProjectObject(f.project.ID), models.PermApproveUserStory))

	f.story = &models.UserStory{ProjectID: f.project.ID, Name: "login", DeveloperID: f.dev.ID, EstimatedHours: 10, RecordedHours: 4}
	require.NoError(t, s.CreateStory(ctx, f.story))
	return f
}

func (f *fixture) user(t *testing.T, name, first, last string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", FirstName: first, LastName: last}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func emails(users []*models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}

func TestRecipients(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.store, &fakeTransport{})

	got, err := c.Recipients(context.Background(), f.story)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com", "dev@example.com"}, emails(got))
}

func TestRecipients_DeduplicatesDeveloperWhoApproves(t *testing.T) {
	f := newFixture(t)
	us := *f.story
	us.DeveloperID = f.approver.ID

	got, err := NewCoordinator(f.store, &fakeTransport{}).Recipients(context.Background(), &us)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, emails(got))
}

func TestRecipients_Unassigned(t *testing.T) {
	f := newFixture(t)
	us := *f.story
	us.DeveloperID = ""

	got, err := NewCoordinator(f.store, &fakeTransport{}).Recipients(context.Background(), &us)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, emails(got))
}

func TestNotify_RendersPerEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		event   models.EventType
		extra   map[string]string
		subject string
		body    []string
	}{
		{models.EventStoryChanged, map[string]string{"changes": "name, priority"},
			"Changes to user story: login - alpha", []string{"Ana Lopez changed", "Changed: name, priority"}},
		{models.EventStoryProgress, map[string]string{"hours": "4", "message": "wired the form"},
			"Activity recorded: login - alpha", []string{"recorded 4 hours", "Progress: 40% (4 of 10 hours)", "wired the form"}},
		{models.EventStoryApproved, nil,
			"User story approved: login - alpha", []string{"approved the user story"}},
		{models.EventStoryRejected, map[string]string{"reason": "missing tests"},
			"User story rejected: login - alpha", []string{"Reason: missing tests"}},
		{models.EventStoryCancelled, map[string]string{"reason": "out of scope"},
			"User story cancelled: login - alpha", []string{"Reason: out of scope"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			tr := &fakeTransport{}
			c := NewCoordinator(f.store, tr, WithFrom("scrum@example.com"), WithDomain("scrum.example.com"))
			c.Notify(ctx, models.Event{Type: tt.event, ProjectID: f.project.ID, StoryID: f.story.ID, ActorID: f.approver.ID}, f.story, tt.extra)

			require.Len(t, tr.sent, 1)
			msg := tr.sent[0]
			assert.Equal(t, "scrum@example.com", msg.From)
			assert.Equal(t, []string{"ana@example.com", "dev@example.com"}, msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			for _, want := range tt.body {
				assert.Contains(t, msg.Body, want)
			}
			assert.Contains(t, msg.Body, "https://scrum.example.com/projects/"+f.project.ID+"/stories/"+f.story.ID)
		})
	}
}

func TestNotify_PublishesWithoutMailing(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{}
	pub := &fakePublisher{}
	c := NewCoordinator(f.store, tr, WithPublisher(pub))

	c.Notify(context.Background(), models.Event{Type: models.EventStoryCreated, StoryID: f.story.ID}, f.story, nil)
	c.Notify(context.Background(), models.Event{Type: models.EventSprintCreated, SprintID: "s1"}, nil, nil)

	assert.Empty(t, tr.sent)
	require.Len(t, pub.events, 2)
	assert.Equal(t, models.EventSprintCreated, pub.events[1].Type)
}

func TestNotify_DeliveryFailureIsLoggedNotRaised(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewCoordinator(f.store, &fakeTransport{err: errors.New("relay down")}, WithLogger(logger))

	c.Notify(context.Background(), models.Event{Type: models.EventStoryApproved, StoryID: f.story.ID}, f.story, nil)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "notification delivery failed")
	assert.Contains(t, out, "relay down")
	assert.Contains(t, out, f.story.ID)
}

func TestSMTPTransport_RetriesThenSends(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "mail.example.com", MaxAttempts: 3})
	tr.retryCfg.InitialDelay = 0

	var calls int
	var gotAddr string
	var gotMsg []byte
	tr.sendMail = func(addr string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		calls++
		if calls == 1 {
			return errors.New("temporary failure")
		}
		gotAddr, gotMsg = addr, msg
		return nil
	}

	err := tr.Send(context.Background(), Message{From: "a@example.com", To: []string{"b@example.com", "c@example.com"}, Subject: "hi", Body: "line1\nline2"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	raw := string(gotMsg)
	assert.Contains(t, raw, "To: b@example.com, c@example.com\r\n")
	assert.Contains(t, raw, "Subject: hi\r\n")
	assert.True(t, strings.HasSuffix(raw, "line1\r\nline2"))
}

func TestEncode_HeadersCannotBeInjected(t *testing.T) {
	raw := string(encode(Message{
		From:    "scrum@example.com\r\nX-Evil: 1",
		To:      []string{"dev@example.com"},
		Subject: "login\r\nBcc: attacker@example.com - alpha",
		Body:    "body",
	}))

	header, _, found := strings.Cut(raw, "\r\n\r\n")
	require.True(t, found)
	for _, line := range strings.Split(header, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "forged header line %q", line)
		assert.False(t, strings.HasPrefix(line, "X-Evil:"), "forged header line %q", line)
	}
	assert.Contains(t, header, "Subject: =?utf-8?q?")
	assert.Contains(t, header, "From: scrum@example.comX-Evil: 1\r\n")
}

func TestEncode_PlainSubjectUnchanged(t *testing.T) {
	raw := string(encode(Message{From: "a@example.com", To: []string{"b@example.com"}, Subject: "Story login approved"}))
	assert.Contains(t, raw, "Subject: Story login approved\r\n")
}

func TestSMTPTransport_NoRecipients(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "mail.example.com"})
	tr.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("must not send")
		return nil
	}
	assert.NoError(t, tr.Send(context.Background(), Message{Subject: "nobody"}))
}

func TestLogTransport(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTransport(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, tr.Send(context.Background(), Message{To: []string{"x@example.com"}, Subject: "hello"}))
	assert.Contains(t, buf.String(), "subject=hello")
}
