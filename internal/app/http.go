package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gridsync/api/internal/auth"
	"gridsync/api/internal/delta"
	"gridsync/api/internal/export"
	"gridsync/api/internal/pad"
	"gridsync/api/internal/rbac"
	"gridsync/api/internal/search"
	"gridsync/api/internal/session"
	"gridsync/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": sess.UserName, "userId": sess.UserID, "role": sess.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Login(r.Context(), body.Name, body.Role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
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

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		query := r.URL.Query()
		limit, ok := queryInt(w, query.Get("limit"), "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, query.Get("offset"), "offset", 0)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(search.Query{
			Text:   strings.TrimSpace(query.Get("q")),
			GridID: strings.TrimSpace(query.Get("gridId")),
			Limit:  limit,
			Offset: offset,
		}))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "grids" {
		s.handleGrids(w, r, sess, parts[2:])
		return
	}
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "objects" {
		s.handleObjects(w, r, sess, parts[2], parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"relay":    map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingRelay(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["relay"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userName":     sess.UserName,
		"userId":       sess.UserID,
		"role":         sess.Role,
	}
}

// handleGrids serves /api/grids and everything below it; parts excludes the
// "api/grids" prefix.
func (s *HTTPServer) handleGrids(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(sess.Role, rbac.ActionRead) {
				s.forbid(w)
				return
			}
			grids, err := s.service.ListGrids(ctx)
			respond(w, http.StatusOK, map[string]any{"grids": grids}, err)
		case http.MethodPost:
			if !s.service.Can(sess.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			grid, err := s.service.CreateGrid(ctx, body.Name, sess.UserName)
			respond(w, http.StatusCreated, grid, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	gridID := parts[0]
	rest := parts[1:]
	action := rbac.ActionRead
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		action = rbac.ActionWrite
	}
	if len(rest) > 0 && rest[0] == "snapshots" && r.Method == http.MethodPost {
		action = rbac.ActionArchive
	}
	if len(rest) > 0 && rest[0] == "export" {
		action = rbac.ActionExport
	}
	if !s.service.Can(sess.Role, action) {
		s.forbid(w)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		grid, err := s.service.GetGrid(ctx, gridID)
		respond(w, http.StatusOK, grid, err)

	case len(rest) == 1 && rest[0] == "fields" && r.Method == http.MethodPost:
		var body FieldInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		field, m, err := s.service.CreateField(ctx, gridID, sess.UserName, body)
		respond(w, http.StatusCreated, map[string]any{"field": field, "mutation": m}, err)

	case len(rest) == 2 && rest[0] == "fields" && r.Method == http.MethodDelete:
		m, err := s.service.DeleteField(ctx, gridID, rest[1], sess.UserName)
		respond(w, http.StatusOK, map[string]any{"mutation": m}, err)

	case len(rest) == 3 && rest[0] == "fields" && rest[2] == "visibility" && r.Method == http.MethodPut:
		var body struct {
			Visible bool `json:"visible"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		m, err := s.service.SetFieldVisibility(ctx, gridID, rest[1], body.Visible, sess.UserName)
		respond(w, http.StatusOK, map[string]any{"mutation": m}, err)

	case len(rest) == 3 && rest[0] == "fields" && rest[2] == "position" && r.Method == http.MethodPut:
		var body struct {
			Index int `json:"index"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		m, err := s.service.MoveField(ctx, gridID, rest[1], body.Index, sess.UserName)
		respond(w, http.StatusOK, map[string]any{"mutation": m}, err)

	case len(rest) == 1 && rest[0] == "blocks" && r.Method == http.MethodPost:
		blockID, err := s.service.AddBlock(ctx, gridID, sess.UserName)
		respond(w, http.StatusCreated, map[string]any{"blockId": blockID}, err)

	case len(rest) == 1 && rest[0] == "rows" && r.Method == http.MethodGet:
		var (
			rows RowsView
			err  error
		)
		if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
			rows, err = s.service.GetRows(ctx, gridID, splitList(raw))
		} else {
			rows, err = s.service.ListRows(ctx, gridID)
		}
		respond(w, http.StatusOK, rows, err)

	case len(rest) == 1 && rest[0] == "rows" && r.Method == http.MethodPost:
		var body RowInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		row, err := s.service.CreateRow(ctx, gridID, sess.UserName, body)
		respond(w, http.StatusCreated, row, err)

	case len(rest) == 2 && rest[0] == "rows" && rest[1] == "delete" && r.Method == http.MethodPost:
		var body struct {
			RowIDs []string `json:"rowIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if len(body.RowIDs) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rowIds is required", nil)
			return
		}
		result, err := s.service.DeleteRows(ctx, gridID, sess.UserName, body.RowIDs)
		respond(w, http.StatusOK, result, err)

	case len(rest) == 2 && rest[0] == "rows" && r.Method == http.MethodDelete:
		result, err := s.service.DeleteRows(ctx, gridID, sess.UserName, []string{rest[1]})
		if err == nil && len(result.Missing) > 0 {
			err = notFound("row", rest[1])
		}
		respond(w, http.StatusOK, result, err)

	case len(rest) == 2 && rest[0] == "rows" && r.Method == http.MethodPatch:
		var body RowUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.RowID = rest[1]
		row, err := s.service.UpdateRow(ctx, gridID, sess.UserName, body)
		respond(w, http.StatusOK, row, err)

	case len(rest) == 3 && rest[0] == "rows" && rest[2] == "position" && r.Method == http.MethodPut:
		var body struct {
			Index int `json:"index"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		m, err := s.service.MoveRow(ctx, gridID, rest[1], body.Index, sess.UserName)
		respond(w, http.StatusOK, map[string]any{"mutation": m}, err)

	case len(rest) == 3 && rest[0] == "rows" && rest[2] == "block" && r.Method == http.MethodPut:
		var body struct {
			BlockID string `json:"blockId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.BlockID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "blockId is required", nil)
			return
		}
		row, err := s.service.MoveRowToBlock(ctx, gridID, rest[1], body.BlockID, sess.UserName)
		respond(w, http.StatusOK, row, err)

	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, sess, gridID)

	case len(rest) == 1 && rest[0] == "snapshots" && r.Method == http.MethodGet:
		limit, ok := queryInt(w, r.URL.Query().Get("limit"), "limit", 50)
		if !ok {
			return
		}
		history, err := s.service.History(ctx, gridID, limit)
		respond(w, http.StatusOK, map[string]any{"snapshots": history}, err)

	case len(rest) == 1 && rest[0] == "snapshots" && r.Method == http.MethodPost:
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		info, changed, err := s.service.Snapshot(ctx, gridID, sess.UserName, body.Message)
		status := http.StatusCreated
		if !changed {
			status = http.StatusOK
		}
		respond(w, status, map[string]any{"snapshot": info, "changed": changed}, err)

	case len(rest) == 2 && rest[0] == "snapshots" && r.Method == http.MethodGet:
		snap, info, err := s.service.GetSnapshot(ctx, gridID, rest[1])
		respond(w, http.StatusOK, map[string]any{"snapshot": info, "content": snap}, err)

	case len(rest) == 3 && rest[0] == "snapshots" && rest[2] == "tags" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		err := s.service.TagSnapshot(ctx, gridID, rest[1], body.Name, sess.UserName)
		respond(w, http.StatusCreated, map[string]any{"ok": true, "name": strings.TrimSpace(body.Name)}, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess Session, gridID string) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be csv, html or pdf", nil)
		return
	}
	res, err := s.service.Export(r.Context(), gridID, format, sess.UserName)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if res.URL != "" {
		writeJSON(w, http.StatusOK, map[string]any{"url": res.URL, "filename": res.Filename})
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// handleObjects serves the revision log endpoints of grids and blocks.
func (s *HTTPServer) handleObjects(w http.ResponseWriter, r *http.Request, sess Session, objectID, endpoint string) {
	ctx := r.Context()
	switch {
	case endpoint == "revisions" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		from, ok := queryInt(w, r.URL.Query().Get("from"), "from", 1)
		if !ok {
			return
		}
		revs, err := s.service.Revisions(ctx, objectID, int64(from))
		respond(w, http.StatusOK, map[string]any{"revisions": revs}, err)

	case endpoint == "revisions" && r.Method == http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionIngest) {
			s.forbid(w)
			return
		}
		var body IngestInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		m, err := s.service.ApplyRevision(ctx, objectID, sess.UserName, body)
		respond(w, http.StatusCreated, map[string]any{"mutation": m}, err)

	case endpoint == "verify" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		report, err := s.service.Verify(ctx, objectID)
		respond(w, http.StatusOK, report, err)

	case endpoint == "stream" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			s.forbid(w)
			return
		}
		s.handleStream(w, r, sess, objectID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" && strings.HasSuffix(r.URL.Path, "/stream") {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
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

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func queryInt(w http.ResponseWriter, raw, name string, fallback int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrSequenceConflict):
		return http.StatusConflict, "SEQUENCE_CONFLICT", "Revision sequence conflict", nil
	case errors.Is(err, pad.ErrDuplicateID), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, delta.ErrDecode), errors.Is(err, delta.ErrCompose):
		return http.StatusUnprocessableEntity, "INVALID_DELTA", "Invalid delta", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	log.Printf("app: unmapped error: %v", err)
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
