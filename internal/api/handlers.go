package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"rssreader/internal/database"
	"rssreader/internal/domain"
)

type ctxKey struct{}

type feedResponse struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

type itemResponse struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feedID"`
	FeedTitle   string     `json:"feedTitle"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Published   *time.Time `json:"published"`
	IsRead      bool       `json:"isRead"`
	Starred     bool       `json:"starred"`
	FolderID    *int64     `json:"folderID"`
	FolderName  string     `json:"folderName,omitempty"`
}

type folderResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func toFeedResponse(f domain.Feed, _ int) feedResponse {
	return feedResponse{
		ID:          f.ID,
		URL:         f.URL,
		Title:       f.Title,
		Description: f.Description,
		LastUpdated: f.LastUpdated,
	}
}

func toItemResponse(it domain.SessionItem, _ int) itemResponse {
	return itemResponse{
		ID:          it.ID,
		FeedID:      it.FeedID,
		FeedTitle:   it.FeedTitle,
		Title:       it.Title,
		Link:        it.Link,
		Description: it.Description,
		Content:     it.Content,
		Published:   it.Published,
		IsRead:      it.IsRead,
		Starred:     it.Starred,
		FolderID:    it.FolderID,
		FolderName:  it.FolderName,
	}
}

func toFolderResponse(f domain.Folder, _ int) folderResponse {
	return folderResponse{ID: f.ID, Name: f.Name}
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// sessionCtx resolves the session from the path. Unknown ids get a fresh session subscribed
// to every known feed.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "invalid session ID")
			return
		}

		ctx := r.Context()
		if err = s.ensureSession(ctx, id.String()); err != nil {
			s.log.ErrorContext(ctx, "Failed to ensure session",
				"error", err,
				"sessionID", id.String())
			s.writeError(w, r, http.StatusInternalServerError, "failed to load session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, id.String())))
	})
}

func (s *Server) ensureSession(ctx context.Context, id string) error {
	created, err := s.store.EnsureSession(ctx, id)
	if err != nil || !created {
		return err
	}

	subscribed, err := s.store.SubscribeToAllFeeds(ctx, id)
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Created session",
		"sessionID", id,
		"subscribed", subscribed)

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.ingestion.Status())
}

func (s *Server) handleMemoryStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.ingestion.MemoryStatus())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	if err := s.ensureSession(r.Context(), id); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to create session", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.refresh(r.Context(), id)

	s.writeJSON(w, r, http.StatusCreated, map[string]string{"sessionID": id})
}

func (s *Server) refresh(ctx context.Context, id string) int {
	queued, err := s.ingestion.EnqueueStaleFeedsFor(ctx, id)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to queue session feeds",
			"error", err,
			"sessionID", id,
			"queued", queued)
	}

	return queued
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	queued := s.refresh(r.Context(), sessionID(r))

	s.writeJSON(w, r, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListSessionFeeds(r.Context(), sessionID(r))
	if err != nil {
		s.storeError(w, r, err, "failed to list feeds")
		return
	}

	s.writeJSON(w, r, http.StatusOK, lo.Map(feeds, toFeedResponse))
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	res := s.ingestion.AddFeedByURL(r.Context(), req.URL)
	if !res.Success {
		s.writeJSON(w, r, http.StatusUnprocessableEntity, res)
		return
	}

	if err := s.store.Subscribe(r.Context(), sessionID(r), res.FeedID); err != nil {
		s.storeError(w, r, err, "failed to subscribe")
		return
	}

	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	feedID, ok := s.pathID(w, r, "feedID")
	if !ok {
		return
	}

	if err := s.store.Unsubscribe(r.Context(), sessionID(r), feedID); err != nil {
		s.storeError(w, r, err, "failed to unsubscribe")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.ItemFilter{
		UnreadOnly: q.Get("unread") == "true" || q.Get("unread") == "1",
	}

	for name, dst := range map[string]*int64{"feed": &filter.FeedID, "folder": &filter.FolderID} {
		if v := q.Get(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				s.writeError(w, r, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}

	for name, dst := range map[string]*int{"page": &filter.Page, "pageSize": &filter.PageSize} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				s.writeError(w, r, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}

	s.refresh(r.Context(), sessionID(r))

	items, err := s.store.ListSessionItems(r.Context(), sessionID(r), filter)
	if err != nil {
		s.storeError(w, r, err, "failed to list items")
		return
	}

	s.writeJSON(w, r, http.StatusOK, lo.Map(items, toItemResponse))
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.pathID(w, r, "itemID")
	if !ok {
		return
	}

	it, err := s.store.GetSessionItem(r.Context(), sessionID(r), itemID)
	if err != nil {
		s.storeError(w, r, err, "failed to load item")
		return
	}

	s.writeJSON(w, r, http.StatusOK, toItemResponse(it, 0))
}

// handleRead toggles the read flag, or sets it when the body carries {"read": bool}.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemInSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Read *bool `json:"read"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	if req.Read != nil {
		if err := s.store.SetRead(r.Context(), sessionID(r), itemID, *req.Read); err != nil {
			s.storeError(w, r, err, "failed to update item")
			return
		}

		s.writeJSON(w, r, http.StatusOK, map[string]bool{"isRead": *req.Read})
		return
	}

	read, err := s.store.ToggleRead(r.Context(), sessionID(r), itemID)
	if err != nil {
		s.storeError(w, r, err, "failed to update item")
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]bool{"isRead": read})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemInSession(w, r)
	if !ok {
		return
	}

	starred, err := s.store.ToggleStar(r.Context(), sessionID(r), itemID)
	if err != nil {
		s.storeError(w, r, err, "failed to update item")
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]bool{"starred": starred})
}

func (s *Server) handleMoveToFolder(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.itemInSession(w, r)
	if !ok {
		return
	}

	var req struct {
		FolderID *int64 `json:"folderID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	if err := s.store.MoveToFolder(r.Context(), sessionID(r), itemID, req.FolderID); err != nil {
		s.storeError(w, r, err, "failed to move item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context(), sessionID(r))
	if err != nil {
		s.storeError(w, r, err, "failed to list folders")
		return
	}

	s.writeJSON(w, r, http.StatusOK, lo.Map(folders, toFolderResponse))
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	folder, err := s.store.CreateFolder(r.Context(), sessionID(r), req.Name)
	if err != nil {
		s.storeError(w, r, err, "failed to create folder")
		return
	}

	s.writeJSON(w, r, http.StatusCreated, toFolderResponse(folder, 0))
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folderID, ok := s.pathID(w, r, "folderID")
	if !ok {
		return
	}

	if err := s.store.DeleteFolder(r.Context(), sessionID(r), folderID); err != nil {
		s.storeError(w, r, err, "failed to delete folder")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// itemInSession parses the item id and checks the session can see the item.
func (s *Server) itemInSession(w http.ResponseWriter, r *http.Request) (int64, bool) {
	itemID, ok := s.pathID(w, r, "itemID")
	if !ok {
		return 0, false
	}

	if _, err := s.store.GetSessionItem(r.Context(), sessionID(r), itemID); err != nil {
		s.storeError(w, r, err, "failed to load item")
		return 0, false
	}

	return itemID, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}

	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	s.log.ErrorContext(r.Context(), "Store operation failed",
		"error", err,
		"path", r.URL.Path,
		"sessionID", sessionID(r))
	s.writeError(w, r, http.StatusInternalServerError, message)
}
