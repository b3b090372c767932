// Package api provides the HTTP server and handlers for the remote
// filesystem gateway and the collaboration endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcode/cloudcode/internal/auth"
	"github.com/cloudcode/cloudcode/internal/config"
	"github.com/cloudcode/cloudcode/internal/logging"
	"github.com/cloudcode/cloudcode/internal/relay"
	"github.com/cloudcode/cloudcode/internal/remote"
)

// Save bodies are raw file text, capped to keep one request from
// buffering arbitrary amounts of memory.
const maxSaveBytes = 10 << 20

// RemoteService is the filesystem surface the handlers need. The SSH
// client implements it; tests substitute a fake.
type RemoteService interface {
	List(ctx context.Context, dir string) ([]remote.FileNode, error)
	Tree(ctx context.Context, dir string, maxDepth int) ([]remote.FileNode, error)
	Read(ctx context.Context, filePath string) (string, error)
	Write(ctx context.Context, filePath, content string) error
	Mkdir(ctx context.Context, dir string) error
	Exec(ctx context.Context, command string) (remote.ExecResult, error)
}

// Server is the HTTP server.
type Server struct {
	remote  RemoteService
	relay   *relay.Relay
	inviter *auth.Inviter
	config  *config.Config
	ws      http.Handler
}

// NewServer creates a new server.
func NewServer(svc RemoteService, r *relay.Relay, inviter *auth.Inviter, cfg *config.Config) *Server {
	return &Server{
		remote:  svc,
		relay:   r,
		inviter: inviter,
		config:  cfg,
		ws:      relay.NewHandler(r, cfg.CORSOrigin),
	}
}

// Handler returns the HTTP handler with CORS, logging, and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/files/list", s.handleList)
	mux.HandleFunc("GET /api/files/tree", s.handleTree)
	mux.HandleFunc("GET /api/files/content", s.handleContent)
	mux.HandleFunc("POST /api/files/save", s.handleSave)
	mux.HandleFunc("POST /api/files/execute", s.handleExecute)
	mux.HandleFunc("POST /api/files/create", s.handleCreate)
	mux.HandleFunc("GET /api/files/collaborators", s.handleCollaborators)

	mux.HandleFunc("POST /api/invite", s.handleCreateInvite)
	mux.HandleFunc("GET /api/invite/{token}", s.handleResolveInvite)

	mux.Handle("GET /ws", s.ws)

	return corsMiddleware(s.config.CORSOrigin, metricsMiddleware(loggingMiddleware(mux)))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Filesystem ─────────────────────────────────────────────────────────────

// resolvePath validates a client-supplied path against the base
// directory. An empty path means the base directory itself when
// allowEmpty is set.
func (s *Server) resolvePath(p string, allowEmpty bool) (string, error) {
	if p == "" {
		if allowEmpty {
			return s.config.BaseDir, nil
		}
		return "", fmt.Errorf("%w: empty path", remote.ErrPathRejected)
	}
	if !remote.IsPathSafe(s.config.BaseDir, p) {
		return "", fmt.Errorf("%w: %s", remote.ErrPathRejected, p)
	}
	return p, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	dir, err := s.resolvePath(r.URL.Query().Get("path"), true)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	nodes, err := s.remote.List(r.Context(), dir)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	dir, err := s.resolvePath(r.URL.Query().Get("path"), true)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	depth := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		depth, _ = strconv.Atoi(d)
	}
	nodes, err := s.remote.Tree(r.Context(), dir, depth)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	p, err := s.resolvePath(raw, false)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	content, err := s.remote.Read(r.Context(), p)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"path": p, "content": content})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	p, err := s.resolvePath(raw, false)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSaveBytes))
	if err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := s.remote.Write(r.Context(), p, string(body)); err != nil {
		s.sendRemoteError(w, err)
		return
	}

	logging.Info("file saved", zap.String("path", p), zap.Int("bytes", len(body)))
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "file saved"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.resolvePath(req.Path, false)
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}

	switch req.Type {
	case "directory":
		err = s.remote.Mkdir(r.Context(), p)
	case "file", "":
		err = s.remote.Write(r.Context(), p, req.Content)
	default:
		s.sendError(w, http.StatusBadRequest, "type must be \"file\" or \"directory\"")
		return
	}
	if err != nil {
		s.sendRemoteError(w, err)
		return
	}

	logging.Info("path created", zap.String("path", p), zap.String("type", req.Type))
	sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "created " + p})
}

// ─── Execution ──────────────────────────────────────────────────────────────

type executeRequest struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
}

type executeResponse struct {
	Success        bool   `json:"success"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	Code           int    `json:"code"`
	CompilationKey string `json:"compilationKey"`
}

// handleExecute runs a command on the remote host inside the base
// directory and fans progress out to the file's compilation room. The
// HTTP caller gets the final result; the room gets started, completed,
// or failed events along the way.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		s.sendError(w, http.StatusBadRequest, "command required")
		return
	}

	cwd := req.Cwd
	if cwd == "" {
		cwd = s.config.BaseDir
	}
	if !remote.IsPathSafe(s.config.BaseDir, cwd) {
		s.sendRemoteError(w, fmt.Errorf("%w: %s", remote.ErrPathRejected, cwd))
		return
	}

	key := compilationKey(req.FilePath, req.UserID, time.Now())
	command := fmt.Sprintf("cd %s && %s", cwd, req.Command)

	// Relay fan-out only applies when the command is tied to a file.
	if req.FilePath != "" {
		s.relay.BroadcastCompilationStarted(key, req.FilePath, req.Command, req.UserID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ExecTimeout)
	defer cancel()

	res, err := s.remote.Exec(ctx, command)
	if err != nil {
		if req.FilePath != "" {
			s.relay.BroadcastCompilationFailed(req.FilePath, req.UserID, err.Error())
		}
		s.sendRemoteError(w, err)
		return
	}

	resp := executeResponse{
		Success:        res.Code == 0,
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		Code:           res.Code,
		CompilationKey: key,
	}
	if req.FilePath != "" {
		s.relay.BroadcastCompilationCompleted(key, req.FilePath, req.Command, req.UserID, resp)
	}

	logging.Info("command executed",
		zap.String("file", req.FilePath),
		zap.Int("code", res.Code))
	sendJSON(w, http.StatusOK, resp)
}

func compilationKey(filePath, userID string, t time.Time) string {
	if filePath == "" {
		filePath = "unknown"
	}
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s-%d-%s", filePath, t.UnixMilli(), userID)
}

// ─── Collaboration ──────────────────────────────────────────────────────────

func (s *Server) handleCollaborators(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"filePath":      p,
		"collaborators": s.relay.Collaborators(p),
	})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath string `json:"filePath"`
		UserName string `json:"userName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		s.sendError(w, http.StatusBadRequest, "filePath required")
		return
	}

	token, expires, err := s.inviter.Issue(req.FilePath, req.UserName)
	if err != nil {
		logging.Error("invite signing failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"url":       fmt.Sprintf("%s://%s/api/invite/%s", scheme, r.Host, token),
		"expiresAt": expires,
	})
}

func (s *Server) handleResolveInvite(w http.ResponseWriter, r *http.Request) {
	claims, err := s.inviter.Validate(r.PathValue("token"))
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid or expired invite")
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{
		"filePath": claims.FilePath,
		"userName": claims.UserName,
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, errorResponse{Error: message, Code: code})
}

// sendRemoteError maps remote layer errors onto HTTP statuses.
func (s *Server) sendRemoteError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, remote.ErrPathRejected):
		code = http.StatusForbidden
	case errors.Is(err, remote.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, remote.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, remote.ErrConnect), errors.Is(err, remote.ErrRemoteIO):
		code = http.StatusInternalServerError
	default:
		code = http.StatusInternalServerError
	}
	if code >= 500 {
		logging.Error("remote operation failed", zap.Error(err))
	}
	s.sendError(w, code, err.Error())
}
