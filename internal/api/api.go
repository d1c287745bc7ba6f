// Package api serves the workflow services over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/attachment"
	"github.com/joescharf/scrum/internal/events"
	"github.com/joescharf/scrum/internal/ledger"
	"github.com/joescharf/scrum/internal/metrics"
	"github.com/joescharf/scrum/internal/models"
	"github.com/joescharf/scrum/internal/sprint"
	"github.com/joescharf/scrum/internal/store"
	"github.com/joescharf/scrum/internal/story"
	"github.com/joescharf/scrum/internal/team"
)

// ActorHeader carries the id of the authenticated user. Authentication
// itself happens upstream.
const ActorHeader = "X-Scrum-User"

const prefix = "/api/v1"

// Options wires the services the API exposes. Attachments and Hub are optional.
type Options struct {
	Store       store.Store
	Stories     *story.Service
	Sprints     *sprint.Allocator
	Team        *team.Manager
	Metrics     *metrics.Calculator
	Attachments *attachment.Service
	Hub         *events.Hub
	Logger      *slog.Logger
}

// Server provides the REST API handlers.
type Server struct {
	store       store.Store
	stories     *story.Service
	sprints     *sprint.Allocator
	team        *team.Manager
	metrics     *metrics.Calculator
	attachments *attachment.Service
	hub         *events.Hub
	logger      *slog.Logger
	router      *chi.Mux
	api         huma.API
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:       opts.Store,
		stories:     opts.Stories,
		sprints:     opts.Sprints,
		team:        opts.Team,
		metrics:     opts.Metrics,
		attachments: opts.Attachments,
		hub:         opts.Hub,
		logger:      logger,
		router:      chi.NewRouter(),
	}
	s.routes()
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	return s.router
}

// OpenAPI returns the generated API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.api.OpenAPI()
}

func (s *Server) routes() {
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(corsMiddleware)

	config := huma.DefaultConfig("Scrum API", "1.0.0")
	config.OpenAPIPath = prefix + "/openapi"
	config.DocsPath = ""

	s.api = humachi.New(s.router, config)
	huma.Get(s.api, prefix+"/health", s.health)
	s.registerStoryOperations()
	s.registerSprintOperations()
	s.registerProjectOperations()
	if s.attachments != nil {
		s.registerAttachmentOperations()
		s.router.Get(prefix+"/attachments/{id}/content", s.downloadAttachment)
	}

	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ActorHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := newLoggingResponseWriter(w)
		next.ServeHTTP(lw, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", lw.bytes,
		}
		if actor := r.Header.Get(ActorHeader); actor != "" {
			fields = append(fields, "actor", actor)
		}
		s.logger.Info("http request", fields...)
	})
}

// requireView checks that actor may see projectID.
func (s *Server) requireView(ctx context.Context, actor, projectID string) error {
	if err := ledger.New(s.store).Require(ctx, actor, ledger.OnProject(projectID, models.PermViewProject)); err != nil {
		return toHumaError(err)
	}
	return nil
}

// toHumaError maps coded service errors onto HTTP problem responses.
func toHumaError(err error) error {
	status := apperrors.StatusOf(err)
	if status == http.StatusInternalServerError {
		return huma.Error500InternalServerError(apperrors.MessageOf(err))
	}
	return huma.NewError(status, apperrors.MessageOf(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.StatusOf(err), map[string]string{
		"code":  string(apperrors.CodeOf(err)),
		"error": apperrors.MessageOf(err),
	})
}

type healthOutput struct {
	Body struct {
		Ok bool `json:"ok"`
	}
}

func (s *Server) health(_ context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Ok = true
	return out, nil
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	a, rc, err := s.attachments.Open(r.Context(), r.Header.Get(ActorHeader), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", a.ContentType)
	if cd := mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}); a.Filename != "" && cd != "" {
		w.Header().Set("Content-Disposition", cd)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("attachment download interrupted", "attachment", a.ID, "error", err)
	}
}
