package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rssreader/internal/domain"
	"rssreader/internal/ingest"
)

const maxRequestBodyBytes = 64 << 10

type Ingestion interface {
	Status() ingest.Status
	MemoryStatus() ingest.MemoryStatus
	EnqueueStaleFeedsFor(ctx context.Context, sessionID string) (int, error)
	AddFeedByURL(ctx context.Context, input string) ingest.AddFeedResult
}

type Store interface {
	EnsureSession(ctx context.Context, sessionID string) (bool, error)
	SubscribeToAllFeeds(ctx context.Context, sessionID string) (int, error)
	Subscribe(ctx context.Context, sessionID string, feedID int64) error
	Unsubscribe(ctx context.Context, sessionID string, feedID int64) error
	ListSessionFeeds(ctx context.Context, sessionID string) ([]domain.Feed, error)
	ListSessionItems(ctx context.Context, sessionID string, filter domain.ItemFilter) ([]domain.SessionItem, error)
	GetSessionItem(ctx context.Context, sessionID string, itemID int64) (domain.SessionItem, error)
	ToggleRead(ctx context.Context, sessionID string, itemID int64) (bool, error)
	SetRead(ctx context.Context, sessionID string, itemID int64, read bool) error
	ToggleStar(ctx context.Context, sessionID string, itemID int64) (bool, error)
	MoveToFolder(ctx context.Context, sessionID string, itemID int64, folderID *int64) error
	CreateFolder(ctx context.Context, sessionID, name string) (domain.Folder, error)
	ListFolders(ctx context.Context, sessionID string) ([]domain.Folder, error)
	DeleteFolder(ctx context.Context, sessionID string, folderID int64) error
}

// Server exposes the ingestion core and per-session reader state as JSON.
type Server struct {
	store     Store
	ingestion Ingestion
	router    chi.Router
	log       *slog.Logger
}

func New(store Store, ingestion Ingestion, log *slog.Logger) *Server {
	s := &Server{
		store:     store,
		ingestion: ingestion,
		log:       log,
	}
	s.setupRoutes()

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.RequestSize(maxRequestBodyBytes))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/memory-status", s.handleMemoryStatus)
		r.Post("/sessions", s.handleCreateSession)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Use(s.sessionCtx)

			r.Post("/refresh", s.handleRefresh)

			r.Get("/feeds", s.handleListFeeds)
			r.Post("/feeds", s.handleAddFeed)
			r.Delete("/feeds/{feedID}", s.handleUnsubscribe)

			r.Get("/items", s.handleListItems)
			r.Get("/items/{itemID}", s.handleGetItem)
			r.Post("/items/{itemID}/read", s.handleRead)
			r.Post("/items/{itemID}/star", s.handleStar)
			r.Post("/items/{itemID}/folder", s.handleMoveToFolder)

			r.Get("/folders", s.handleListFolders)
			r.Post("/folders", s.handleCreateFolder)
			r.Delete("/folders/{folderID}", s.handleDeleteFolder)
		})
	})

	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.InfoContext(r.Context(), "Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to encode response",
			"error", err,
			"path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, map[string]string{"error": message})
}
