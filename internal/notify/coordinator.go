// Package notify mails the people involved in a user story when the
// workflow changes it, and publishes every committed event to subscribers.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/store"
)

// Publisher receives every event passed to the coordinator.
type Publisher interface {
	Publish(ev models.Event)
}

// Coordinator renders and delivers story notifications. Delivery failures
// are logged and never surface to the caller.
type Coordinator struct {
	store     store.Store
	transport Transport
	publisher Publisher
	from      string
	domain    string
	logger    *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher forwards every event to p.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithFrom sets the sender address.
func WithFrom(from string) Option {
	return func(c *Coordinator) { c.from = from }
}

// WithDomain sets the site domain used to build story links.
func WithDomain(domain string) Option {
	return func(c *Coordinator) { c.domain = strings.TrimSuffix(domain, "/") }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator returns a Coordinator delivering through t.
func NewCoordinator(s store.Store, t Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     s,
		transport: t,
		from:      "noreply@localhost",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify publishes ev and, when the event has a mail template, mails the
// story's recipients.
func (c *Coordinator) Notify(ctx context.Context, ev models.Event, us *models.UserStory, extra map[string]string) {
	if c.publisher != nil {
		c.publisher.Publish(ev)
	}
	if us == nil || c.transport == nil {
		return
	}
	tmpl, ok := templates[ev.Type]
	if !ok {
		return
	}
	if err := c.deliver(ctx, tmpl, ev, us, extra); err != nil {
		err = apperrors.Wrap(apperrors.CodeNotificationDelivery, err, "deliver "+string(ev.Type)+": "+err.Error())
		c.logger.Warn("notification delivery failed", "event", ev.Type, "story", us.ID, "error", err)
	}
}

func (c *Coordinator) deliver(ctx context.Context, tmpl mailTemplate, ev models.Event, us *models.UserStory, extra map[string]string) error {
	recipients, err := c.Recipients(ctx, us)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	msg, err := c.render(ctx, tmpl, ev, us, extra)
	if err != nil {
		return err
	}
	for _, u := range recipients {
		msg.To = append(msg.To, u.Email)
	}
	return c.transport.Send(ctx, msg)
}

func (c *Coordinator) render(ctx context.Context, tmpl mailTemplate, ev models.Event, us *models.UserStory, extra map[string]string) (Message, error) {
	project, err := c.store.GetProject(ctx, us.ProjectID)
	if err != nil {
		return Message{}, fmt.Errorf("load project: %w", err)
	}
	if extra == nil {
		extra = map[string]string{}
	}
	data := mailData{Project: project, Story: us, Actor: c.actorName(ctx, ev.ActorID), Extra: extra}
	if c.domain != "" {
		data.Link = fmt.Sprintf("https://%s/projects/%s/stories/%s", c.domain, us.ProjectID, us.ID)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{From: c.from, Subject: subject.String(), Body: body.String()}, nil
}

func (c *Coordinator) actorName(ctx context.Context, id string) string {
	if id == "" {
		return "someone"
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return id
	}
	return u.DisplayName()
}

// Recipients returns the team members holding aprobar_userstory on the
// story's project followed by the story's developer. Users are
// de-duplicated by email and users without an email are skipped.
func (c *Coordinator) Recipients(ctx context.Context, us *models.UserStory) ([]*models.User, error) {
	holders, err := ledger.New(c.store).SubjectsWith(ctx, models.ProjectObject(us.ProjectID), models.PermApproveUserStory)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(holders)+1)
	for _, id := range holders {
		if _, err := c.store.GetMembershipFor(ctx, id, us.ProjectID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("check membership of %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	if us.DeveloperID != "" {
		ids = append(ids, us.DeveloperID)
	}

	seen := make(map[string]bool, len(ids))
	var users []*models.User
	for _, id := range ids {
		u, err := c.store.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load recipient %s: %w", id, err)
		}
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		users = append(users, u)
	}
	return users, nil
}
