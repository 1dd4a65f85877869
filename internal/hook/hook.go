// Package hook exposes the editor-facing HTTP surface: save hooks that
// run the transform/normalize/propagate pipeline, a tree-merge endpoint,
// and entity search.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flashnotes/engine/internal/block"
	"flashnotes/engine/internal/engine"
	"flashnotes/engine/internal/merge"
	"flashnotes/engine/internal/search"
	"flashnotes/engine/internal/transform"
)

// Propagator applies a document's normalized references to the store.
type Propagator interface {
	Propagate(ctx context.Context, doc engine.Document, refs []block.NormalizedReference) error
}

// DocumentLocker serializes save hooks per document. A nil locker
// disables locking.
type DocumentLocker interface {
	Acquire(ctx context.Context, documentID string) (string, bool, error)
	Release(ctx context.Context, documentID, token string) error
}

// EntitySearcher answers full-text queries over propagated entities.
type EntitySearcher interface {
	Search(q search.Query) search.Response
}

type HTTPServer struct {
	propagator Propagator
	pipeline   *transform.Pipeline
	locker     DocumentLocker
	searcher   EntitySearcher
	hookToken  string
	ping       func(ctx context.Context) error
}

// NewHTTPServer wires the hook surface. locker, searcher, and ping may
// be nil; the matching endpoints degrade instead of failing.
func NewHTTPServer(propagator Propagator, pipeline *transform.Pipeline, locker DocumentLocker, searcher EntitySearcher, hookToken string, ping func(ctx context.Context) error) *HTTPServer {
	return &HTTPServer{
		propagator: propagator,
		pipeline:   pipeline,
		locker:     locker,
		searcher:   searcher,
		hookToken:  hookToken,
		ping:       ping,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if s.ping != nil {
			if err := s.ping(ctx); err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks["database"] = map[string]any{
					"status": "error",
					"error":  err.Error(),
				}
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/internal/hooks/document-saved" {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		s.handleDocumentSaved(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/internal/hooks/merge" {
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		s.handleMerge(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) authorized(r *http.Request) bool {
	token := bearerToken(r)
	return token != "" && token == s.hookToken
}

func (s *HTTPServer) handleDocumentSaved(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID       string          `json:"documentId"`
		DocumentType     string          `json:"documentType"`
		Title            string          `json:"title"`
		OwnerID          int64           `json:"ownerId"`
		OriginDocumentID string          `json:"originDocumentId"`
		Blocks           json.RawMessage `json:"blocks"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.DocumentID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId is required", nil)
		return
	}
	docType := engine.DocumentType(body.DocumentType)
	if docType == "" {
		docType = engine.DocumentOrigin
	}
	if docType != engine.DocumentOrigin && docType != engine.DocumentCollection {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentType must be origin or collection", nil)
		return
	}

	tree, err := block.DecodeTree(body.Blocks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "blocks is not a valid block tree", nil)
		return
	}

	if s.locker != nil {
		token, ok, err := s.locker.Acquire(r.Context(), body.DocumentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Lock acquisition failed", nil)
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "DOCUMENT_LOCKED", "Another save for this document is in progress", nil)
			return
		}
		// The request context dies with the client connection; releasing
		// must still go through or the lock stays held until TTL.
		releaseCtx := context.WithoutCancel(r.Context())
		defer func() {
			if err := s.locker.Release(releaseCtx, body.DocumentID, token); err != nil {
				log.Printf("hook: release lock for %s: %v", body.DocumentID, err)
			}
		}()
	}

	transformed := s.pipeline.Apply(tree)
	refs := block.Normalize(transformed, true)

	doc := engine.Document{
		ID:               body.DocumentID,
		Type:             docType,
		Title:            body.Title,
		OwnerID:          body.OwnerID,
		OriginDocumentID: body.OriginDocumentID,
	}
	if err := s.propagator.Propagate(r.Context(), doc, refs); err != nil {
		status, code, message := mapEngineError(err)
		writeError(w, status, code, message, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"documentId": body.DocumentID,
		"references": len(refs),
		"blocks":     transformed,
	})
}

func (s *HTTPServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Origin     json.RawMessage `json:"origin"`
		Collection json.RawMessage `json:"collection"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	origin, err := block.DecodeTree(body.Origin)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "origin is not a valid block tree", nil)
		return
	}
	collection, err := block.DecodeTree(body.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "collection is not a valid block tree", nil)
		return
	}

	merged := merge.Merge(origin, collection)
	if merged == nil {
		merged = []block.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": merged})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	if filterType != "" && filterType != string(engine.ObjectCard) && filterType != string(engine.ObjectNote) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be card or note", nil)
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	resp := s.searcher.Search(search.Query{
		Text:       q,
		FilterType: engine.ObjectType(filterType),
		Limit:      limit,
		Offset:     offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		log.Printf(`{"method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapEngineError(err error) (status int, code, message string) {
	if engine.IsValidation(err) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error()
	}
	if engine.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	}
	if engine.IsConflict(err) {
		return http.StatusConflict, "CONFLICT", err.Error()
	}
	var storeErr *engine.StoreError
	if errors.As(err, &storeErr) {
		return http.StatusInternalServerError, "STORE_ERROR", "Store operation failed"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
