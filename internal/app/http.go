package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/export"
	"taskboard/api/internal/gitrepo"
	"taskboard/api/internal/identity"
	"taskboard/api/internal/reconcile"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/tasks"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	// heartbeat is the idle interval between stream keep-alive comments.
	heartbeat time.Duration
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, heartbeat: 25 * time.Second}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

type registerBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=professor student"`
}

type loginBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type themeBody struct {
	Title       string `json:"title" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type taskBody struct {
	Title        string      `json:"title" validate:"notblank,max=200"`
	Description  string      `json:"description" validate:"max=5000"`
	DueDate      string      `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Instructions string      `json:"instructions" validate:"max=20000"`
	Criteria     string      `json:"criteria" validate:"max=20000"`
	Todolist     []string    `json:"todolist" validate:"max=100,dive,max=500"`
	Themes       []themeBody `json:"themes" validate:"max=200,dive"`
}

type taskUpdateBody struct {
	Title        *string   `json:"title" validate:"omitempty,notblank,max=200"`
	Description  *string   `json:"description" validate:"omitempty,max=5000"`
	DueDate      *string   `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Instructions *string   `json:"instructions" validate:"omitempty,max=20000"`
	Criteria     *string   `json:"criteria" validate:"omitempty,max=20000"`
	Todolist     *[]string `json:"todolist" validate:"omitempty,max=100,dive,max=500"`
}

type themesBody struct {
	Themes []themeBody `json:"themes" validate:"required,max=200,dive"`
}

// groupBody is checked by the registrar, which reports the form messages.
type groupBody struct {
	ThemeIndex *int     `json:"themeIndex"`
	Name       string   `json:"name"`
	Members    []string `json:"members"`
}

type exportBody struct {
	Format string `json:"format" validate:"required"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		var body registerBody
		if !decodeAndValidate(w, r, &body) {
			return
		}
		sess, err := s.service.Register(r.Context(), body.Email, body.Password, body.Type)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body loginBody
		if !decodeAndValidate(w, r, &body) {
			return
		}
		sess, err := s.service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"email":         sess.Email,
			"role":          sess.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		sess := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				sess = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), sess, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		payload, err := s.service.Dashboard(r.Context(), sess)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		mine := query.Get("mine") == "true"
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), sess, query.Get("q"), mine, limit, offset))
		return
	}

	if r.URL.Path == "/api/tasks" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListTasks(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		case http.MethodPost:
			var body taskBody
			if !decodeAndValidate(w, r, &body) {
				return
			}
			task, err := s.service.CreateTask(r.Context(), sess, body.input())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"task": task})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTask(w, r, sess, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, sess Session, taskID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetTask(r.Context(), taskID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodPut:
			var body taskUpdateBody
			if !decodeAndValidate(w, r, &body) {
				return
			}
			task, err := s.service.UpdateTask(r.Context(), sess, taskID, body.update())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"task": task})
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), sess, taskID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "themes" && r.Method == http.MethodPut {
		var body themesBody
		if !decodeAndValidate(w, r, &body) {
			return
		}
		detail, err := s.service.ReplaceThemes(r.Context(), sess, taskID, toThemes(body.Themes))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	if len(parts) == 4 && parts[3] == "groups" && r.Method == http.MethodPost {
		var body groupBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		themeIndex := -1
		if body.ThemeIndex != nil {
			themeIndex = *body.ThemeIndex
		}
		group, detail, err := s.service.RegisterGroup(r.Context(), sess, taskID, reconcile.Request{
			ThemeIndex: themeIndex,
			Name:       body.Name,
			Members:    body.Members,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"group": group, "task": detail.Task, "themes": detail.Themes})
		return
	}

	if len(parts) == 4 && parts[3] == "stream" && r.Method == http.MethodGet {
		s.handleStream(w, r, sess, taskID)
		return
	}

	if len(parts) == 4 && parts[3] == "materials" && r.Method == http.MethodPost {
		s.handleUpload(w, r, sess, taskID)
		return
	}

	if len(parts) == 5 && parts[3] == "materials" && r.Method == http.MethodDelete {
		index, err := strconv.Atoi(parts[4])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "material index must be a number", nil)
			return
		}
		task, err := s.service.RemoveMaterial(r.Context(), sess, taskID, index)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		revisions, err := s.service.History(r.Context(), sess, taskID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		var body exportBody
		if !decodeAndValidate(w, r, &body) {
			return
		}
		result, err := s.service.Export(r.Context(), taskID, body.Format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleStream sends the live detail view of a task as server-sent events.
// Every change to the task or its groups produces a "view" event; deletion
// ends the stream with a "deleted" event.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, sess Session, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}
	watcher, err := s.service.WatchTask(r.Context(), sess, taskID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer watcher.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case view, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if view.Phase == reconcile.PhaseLoading {
				continue
			}
			if view.Missing {
				writeEvent(w, "deleted", map[string]any{"taskId": taskID})
				flusher.Flush()
				return
			}
			writeEvent(w, "view", view)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, sess Session, taskID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	task, err := s.service.AddMaterial(r.Context(), sess, taskID, MaterialUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		log.Printf("app: session lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("app: encode %s event: %v", event, err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := validateBody(target); err != nil {
		writeMappedError(w, err)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	// EventSource cannot set headers, so streams pass the token as a query parameter.
	if strings.HasSuffix(r.URL.Path, "/stream") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *reconcile.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, nil
	}
	var conflictErr *reconcile.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, "CONFLICT", conflictErr.Message, nil
	}
	if errors.Is(err, reconcile.ErrBusy) {
		return http.StatusConflict, "REGISTRATION_IN_PROGRESS", "A registration is already in progress", nil
	}
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, "AUTH_FAILED", "Authentication failed", map[string]any{"reason": authErr.Code}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not available on this server", nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, gitrepo.ErrNoHistory) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	log.Printf("app: unhandled error: %v", err)
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"email":        sess.Email,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.UTC(),
	}
}

func toThemes(bodies []themeBody) []tasks.Theme {
	themes := make([]tasks.Theme, 0, len(bodies))
	for _, body := range bodies {
		themes = append(themes, tasks.Theme{Title: body.Title, Description: body.Description})
	}
	return themes
}

func (b taskBody) input() tasks.TaskInput {
	return tasks.TaskInput{
		Title:        b.Title,
		Description:  b.Description,
		DueDate:      b.DueDate,
		Instructions: b.Instructions,
		Criteria:     b.Criteria,
		Todolist:     b.Todolist,
		Themes:       toThemes(b.Themes),
	}
}

func (b taskUpdateBody) update() tasks.TaskUpdate {
	return tasks.TaskUpdate{
		Title:        b.Title,
		Description:  b.Description,
		DueDate:      b.DueDate,
		Instructions: b.Instructions,
		Criteria:     b.Criteria,
		Todolist:     b.Todolist,
	}
}
