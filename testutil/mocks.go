// Package testutil provides in-process fakes for the external APIs: an
// httptest-backed Twitch server (Helix + id.twitch.tv) and a scriptable IRC
// server for exercising the chat client against a real socket.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitchServer mocks Helix and id.twitch.tv responses keyed by URL path.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) mockJSON(path string, response any) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockValidateResponse adds a handler for /oauth2/validate.
func (m *MockTwitchServer) MockValidateResponse(login, userID string, scopes []string) {
	m.mockJSON("/oauth2/validate", map[string]any{
		"client_id":  "mock-client",
		"login":      login,
		"user_id":    userID,
		"scopes":     scopes,
		"expires_in": 14000,
	})
}

// MockValidateRejection makes /oauth2/validate reject the token.
func (m *MockTwitchServer) MockValidateRejection() {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
}

// MockUsersResponse adds a handler for /users.
func (m *MockTwitchServer) MockUsersResponse(userID, login string) {
	m.mockJSON("/users", map[string]any{
		"data": []map[string]string{
			{"id": userID, "login": login, "display_name": login},
		},
	})
}

// MockChattersResponse adds a handler for /chat/chatters.
func (m *MockTwitchServer) MockChattersResponse(chatters []map[string]string) {
	m.mockJSON("/chat/chatters", map[string]any{"data": chatters})
}

// MockStreamsResponse adds a handler for /streams.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.mockJSON("/streams", map[string]any{"data": streams})
}

// MockFollowersResponse adds a handler for /channels/followers.
func (m *MockTwitchServer) MockFollowersResponse(total int) {
	m.mockJSON("/channels/followers", map[string]any{"total": total, "data": []any{}})
}

// MockSubscriptionsResponse adds a handler for /subscriptions.
func (m *MockTwitchServer) MockSubscriptionsResponse(total int) {
	m.mockJSON("/subscriptions", map[string]any{"total": total, "data": []any{}})
}

// MockAppTokenResponse adds a handler for /oauth2/token.
func (m *MockTwitchServer) MockAppTokenResponse(token string, expiresIn int) {
	m.mockJSON("/oauth2/token", map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}
