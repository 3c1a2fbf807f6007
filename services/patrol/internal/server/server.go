package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"loreanchor/internal/sessiontoken"
	"loreanchor/internal/util"
	"loreanchor/pkg/domain"
	"loreanchor/pkg/scan"
	"loreanchor/pkg/store"
	"loreanchor/services/patrol/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Tokens         *sessiontoken.Manager
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the patrol service.
type Server struct {
	app            *app.App
	tokens         *sessiontoken.Manager
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("server: token manager required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = app.MaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/me", s.withUser(s.handleMe))

	// works
	s.mux.Handle("/works", s.withUser(s.handleWorks))
	s.mux.Handle("/works/", s.withUser(s.handleWorkByID))

	// infringements
	s.mux.Handle("/infringements", s.withUser(s.handleInfringements))
	s.mux.Handle("/infringements/", s.withUser(s.handleInfringementByID))

	s.mux.Handle("/stats", s.withUser(s.handleStats))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Login(req.Email, req.Name, domain.Plan(strings.ToLower(req.Plan)))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessiontoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.GetUser(userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleWorks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterWork(w, r, user)
	case http.MethodGet:
		s.handleListWorks(w)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRegisterWork(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	autoMonitor := r.FormValue("autoMonitor") == "true"
	whitelist := scan.SplitDomains(r.FormValue("whitelist"))
	work, err := s.app.RegisterWork(user, header.Filename, r.FormValue("title"), file, header.Size, autoMonitor, whitelist)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, work)
}

func (s *Server) handleListWorks(w http.ResponseWriter) {
	works, err := s.app.ListWorks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": works,
		"count": len(works),
	})
}

// /works/{id}, /works/{id}/scan, /works/{id}/media, /works/{id}/infringements
func (s *Server) handleWorkByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/works/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "scan":
			s.handleScanWork(w, r, id)
		case "media":
			s.handleWorkMedia(w, r, id)
		case "infringements":
			s.handleWorkInfringements(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		work, err := s.app.GetWork(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, work)
	case http.MethodDelete:
		if err := s.app.DeleteWork(id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleScanWork(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.StartScan(id); err != nil {
		s.writeAppError(w, err)
		return
	}
	work, err := s.app.GetWork(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, work)
}

func (s *Server) handleWorkMedia(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	links, err := s.app.GetMediaURLs(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleWorkInfringements(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	infringements, err := s.app.GetWorkInfringements(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": infringements,
		"count": len(infringements),
	})
}

func (s *Server) handleInfringements(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter := store.InfringementFilter{WorkID: r.URL.Query().Get("workId")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseInfringementStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	infringements, err := s.app.ListInfringements(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	stats, err := s.app.Statistics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": infringements,
		"count": len(infringements),
		"stats": stats.Infringements,
	})
}

// /infringements/{id} or /infringements/{id}/template
func (s *Server) handleInfringementByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/infringements/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "template" {
			notFound(w, "not found")
			return
		}
		s.handleTakedownTemplate(w, r, id)
		return
	}

	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, ok := domain.ParseInfringementStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	updated, err := s.app.UpdateInfringementStatus(id, status)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTakedownTemplate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	notice, err := s.app.TakedownNotice(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notice)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Statistics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeAppError maps orchestrator errors onto HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrMissingData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForPatrol(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForPatrol(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case strings.Contains(message, "invalid transition"):
		return "INFRINGEMENT_INVALID_TRANSITION"
	case strings.Contains(message, "infringement"):
		return "INFRINGEMENT_NOT_FOUND"
	case strings.Contains(message, "exceeds"):
		return "WORK_FILE_TOO_LARGE"
	case strings.Contains(message, "unsupported file type"):
		return "WORK_UNSUPPORTED_FILE_TYPE"
	case strings.Contains(message, "file is required"), strings.Contains(message, "filename required"), strings.Contains(message, "empty file"):
		return "WORK_FILE_REQUIRED"
	case message == "invalid form data":
		return "WORK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "invalid status":
		return "REQUEST_INVALID_STATUS"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "RESOURCE_NOT_FOUND"
	case http.StatusConflict:
		return "INFRINGEMENT_INVALID_TRANSITION"
	case http.StatusUnprocessableEntity:
		return "RESOURCE_MISSING_DATA"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

type statusRequest struct {
	Status string `json:"status"`
}
