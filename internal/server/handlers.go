package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/Tyrowin/messenger/internal/auth"
	"github.com/Tyrowin/messenger/internal/domain"
)

const maxBodySize = 1 << 20

// statusByError maps the error taxonomy to HTTP status codes. The first
// match wins; anything unmatched is a 500.
var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidCredentials, http.StatusUnauthorized},
	{domain.ErrPermissionDenied, http.StatusForbidden},
	{domain.ErrChatNotFound, http.StatusNotFound},
	{domain.ErrUserNotFound, http.StatusNotFound},
	{domain.ErrMemberNotFound, http.StatusNotFound},
	{domain.ErrUserExists, http.StatusConflict},
	{domain.ErrGroupChatExists, http.StatusConflict},
	{domain.ErrNameTaken, http.StatusConflict},
	{domain.ErrInvalidOperation, http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, e := range statusByError {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, errorResponse{Error: msg, Code: domain.Code(err)})
}

// decodeBody reads a JSON body into v. Malformed bodies are InvalidOperation.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalidOperation)
		}
		return fmt.Errorf("%w: %w", domain.ErrInvalidOperation, err)
	}
	return nil
}

// handleWebSocket upgrades the request and runs a session on it until the
// client goes away or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.trackSession() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server shutting down", Code: "Unavailable"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sessionsWG.Done()
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	log := s.log.With("remote", r.RemoteAddr)
	wc := newWSConn(conn, s.cfg, s.metrics, log)

	go func() {
		defer s.sessionsWG.Done()
		if err := s.sessions.Serve(s.ctx, wc, r.RemoteAddr); err != nil {
			log.Info("session ended with error", "error", err)
		}
	}()
}

type healthResponse struct {
	Status     string `json:"status"`
	Sessions   int    `json:"sessions"`
	Joined     int    `json:"joined"`
	Goroutines int    `json:"goroutines"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Sessions:   s.sessions.Active(),
		Joined:     s.registry.Len(),
		Goroutines: runtime.NumGoroutine(),
	})
}

type userResponse struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeBody(w, r, &creds); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := creds.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), creds.Username, hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.Info("user registered", "username", user.Username)
	s.writeJSON(w, http.StatusCreated, userResponse{Username: user.Username, CreatedAt: user.CreatedAt})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeBody(w, r, &creds); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.store.FindUser(r.Context(), creds.Username)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.writeError(w, r, domain.ErrInvalidCredentials)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, creds.Password); err != nil {
		s.log.Info("login failed", "username", creds.Username)
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, userResponse{Username: user.Username, CreatedAt: user.CreatedAt})
}

type createChatRequest struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

type deleteChatRequest struct {
	ChatID    int64  `json:"chat_id"`
	Requester string `json:"requester"`
}

type chatSummary struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	chat, err := s.directory.Create(r.Context(), req.Name, req.Creator)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	var req deleteChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.directory.Delete(r.Context(), req.ChatID, req.Requester); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.directory.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, lo.Map(chats, func(c domain.GroupChat, _ int) chatSummary {
		return chatSummary{ID: c.ID, Name: c.Name, Creator: c.Creator}
	}))
}

// chatID parses the {id} path parameter.
func chatID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: chat id must be an integer", domain.ErrInvalidOperation)
	}
	return id, nil
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, err := chatID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	chat, err := s.directory.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chat)
}

type creatorResponse struct {
	Creator string `json:"creator"`
}

func (s *Server) handleChatCreator(w http.ResponseWriter, r *http.Request) {
	id, err := chatID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	creator, err := s.directory.Creator(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, creatorResponse{Creator: creator})
}

func (s *Server) handleChatMembers(w http.ResponseWriter, r *http.Request) {
	id, err := chatID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	members, err := s.directory.Members(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lo.Ternary(members == nil, []string{}, members))
}
