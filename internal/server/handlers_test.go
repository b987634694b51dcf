package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/messenger/internal/domain"
)

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	health := decodeResponse[healthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Joined)
	assert.Positive(t, health.Goroutines)
}

func TestHTTPMethods(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/register", http.StatusMethodNotAllowed},
		{http.MethodPut, "/chats", http.StatusMethodNotAllowed},
		{http.MethodGet, "/missing", http.StatusNotFound},
		// A plain GET without upgrade headers is refused by the upgrader.
		{http.MethodGet, "/ws", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, nil)
	creds := map[string]string{"username": "alice", "password": "secret-pw"}

	resp := ts.do(t, http.MethodPost, "/register", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := decodeResponse[userResponse](t, resp)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.CreatedAt.IsZero())

	resp = ts.do(t, http.MethodPost, "/register", creds)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "UserExists", decodeResponse[errorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodPost, "/login", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", decodeResponse[userResponse](t, resp).Username)

	resp = ts.do(t, http.MethodPost, "/login", map[string]string{"username": "alice", "password": "wrong-pw"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidCredentials", decodeResponse[errorResponse](t, resp).Code)

	// Unknown users get the same answer as a wrong password.
	resp = ts.do(t, http.MethodPost, "/login", map[string]string{"username": "nobody", "password": "secret-pw"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidCredentials", decodeResponse[errorResponse](t, resp).Code)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"empty body", nil, http.StatusBadRequest, "InvalidOperation"},
		{"unknown field", map[string]string{"username": "a", "password": "secret-pw", "admin": "yes"}, http.StatusBadRequest, "InvalidOperation"},
		{"short password", map[string]string{"username": "a", "password": "123"}, http.StatusBadRequest, "InvalidOperation"},
		{"missing username", map[string]string{"password": "secret-pw"}, http.StatusBadRequest, "InvalidOperation"},
		{"reserved name", map[string]string{"username": domain.ServerSender, "password": "secret-pw"}, http.StatusConflict, "NameTaken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/register", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeResponse[errorResponse](t, resp).Code)
		})
	}
}

func TestChatEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/chats", createChatRequest{Name: "gophers", Creator: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decodeResponse[domain.GroupChat](t, resp)
	assert.Equal(t, "gophers", chat.Name)
	assert.Equal(t, "alice", chat.Creator)

	resp = ts.do(t, http.MethodPost, "/chats", createChatRequest{Name: "gophers", Creator: "bob"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "GroupChatExists", decodeResponse[errorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodPost, "/chats", createChatRequest{Name: "", Creator: "bob"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/chats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []chatSummary{{ID: chat.ID, Name: "gophers", Creator: "alice"}}, decodeResponse[[]chatSummary](t, resp))

	membersPath := fmt.Sprintf("/chats/%d/members", chat.ID)
	resp = ts.do(t, http.MethodGet, membersPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"alice"}, decodeResponse[[]string](t, resp))

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/chats/%d", chat.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeResponse[domain.GroupChat](t, resp)
	assert.Equal(t, chat.ID, got.ID)
	assert.Equal(t, "gophers", got.Name)
	assert.Equal(t, "alice", got.Creator)
	assert.Equal(t, []string{"alice"}, got.Members)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/chats/%d/creator", chat.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, creatorResponse{Creator: "alice"}, decodeResponse[creatorResponse](t, resp))

	resp = ts.do(t, http.MethodDelete, "/chats", deleteChatRequest{ChatID: chat.ID, Requester: "bob"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "PermissionDenied", decodeResponse[errorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodDelete, "/chats", deleteChatRequest{ChatID: chat.ID, Requester: "alice"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, membersPath, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ChatNotFound", decodeResponse[errorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodGet, "/chats", nil)
	assert.Equal(t, []chatSummary{}, decodeResponse[[]chatSummary](t, resp))

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/chats/%d", chat.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/chats/%d/creator", chat.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/chats/abc/members", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/chats/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gochat_sessions_active")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", domain.ErrPermissionDenied), http.StatusForbidden},
		{domain.ErrChatNotFound, http.StatusNotFound},
		{domain.ErrMemberNotFound, http.StatusNotFound},
		{domain.ErrGroupChatExists, http.StatusConflict},
		{domain.ErrInvalidOperation, http.StatusBadRequest},
		{domain.ErrPersistenceFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
