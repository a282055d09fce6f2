// Package testutil holds test helpers shared across packages: a mock Twitch
// server and a Postgres setup that skips without TEST_PG_DSN.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer mocks the Helix and id.twitch.tv endpoints the bot uses.
// Point a client at it with Client, which rewrites every request host.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer starts a server that answers 404 for unmocked paths.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Client returns an http.Client that sends every request to the mock.
func (m *MockTwitchServer) Client() *http.Client {
	return &http.Client{Transport: &rewriteTransport{host: strings.TrimPrefix(m.URL, "http://")}}
}

type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func (m *MockTwitchServer) handle(path string, body func(r *http.Request) any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body(r)) //nolint:errcheck // test mock response
	}
}

// MockUsers answers /helix/users from a login to id map.
func (m *MockTwitchServer) MockUsers(ids map[string]string) {
	m.handle("/helix/users", func(r *http.Request) any {
		var data []map[string]string
		for _, login := range r.URL.Query()["login"] {
			if id, ok := ids[login]; ok {
				data = append(data, map[string]string{"id": id, "login": login})
			}
		}
		return map[string]any{"data": data}
	})
}

// MockStreams answers /helix/streams with one live stream or none.
func (m *MockTwitchServer) MockStreams(live bool) {
	m.handle("/helix/streams", func(r *http.Request) any {
		data := []map[string]any{}
		if live {
			data = append(data, map[string]any{"id": "1", "user_login": r.URL.Query().Get("user_login"), "type": "live"})
		}
		return map[string]any{"data": data}
	})
}

func loginList(logins []string) []map[string]string {
	out := make([]map[string]string, len(logins))
	for i, l := range logins {
		out[i] = map[string]string{"user_id": "id-" + l, "user_login": l, "user_name": l}
	}
	return out
}

// MockChatters answers /helix/chat/chatters with a single page.
func (m *MockTwitchServer) MockChatters(logins ...string) {
	m.handle("/helix/chat/chatters", func(*http.Request) any {
		return map[string]any{"data": loginList(logins), "pagination": map[string]string{}, "total": len(logins)}
	})
}

// MockModerators answers /helix/moderation/moderators with a single page.
func (m *MockTwitchServer) MockModerators(logins ...string) {
	m.handle("/helix/moderation/moderators", func(*http.Request) any {
		return map[string]any{"data": loginList(logins), "pagination": map[string]string{}}
	})
}

// MockValidate answers /oauth2/validate for any token.
func (m *MockTwitchServer) MockValidate(login, userID string, expiresIn int) {
	m.handle("/oauth2/validate", func(*http.Request) any {
		return map[string]any{"client_id": "test-client-id", "login": login, "user_id": userID, "scopes": []string{"chat:read", "chat:edit"}, "expires_in": expiresIn}
	})
}

// MockOAuthToken answers the refresh_token grant.
func (m *MockTwitchServer) MockOAuthToken(accessToken, refreshToken string, expiresIn int) {
	m.handle("/oauth2/token", func(*http.Request) any {
		return map[string]any{"access_token": accessToken, "refresh_token": refreshToken, "expires_in": expiresIn, "token_type": "bearer"}
	})
}
