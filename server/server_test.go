package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/oauth2"

	"github.com/onnwee/gamerdeathbot/chat"
	"github.com/onnwee/gamerdeathbot/config"
	"github.com/onnwee/gamerdeathbot/db"
)

type fakeConn struct {
	connected bool
}

func (f *fakeConn) Connected() bool { return f.connected }
func (f *fakeConn) Nick() string    { return "gamerdeathbot" }

type nopChat struct{}

func (nopChat) Chat(ctx context.Context, channel, msg string) error { return nil }
func (nopChat) Join(ctx context.Context, channel string) error      { return nil }
func (nopChat) Part(ctx context.Context, channel string) error      { return nil }

type fakeExchanger struct {
	tok *oauth2.Token
	err error
}

func (f *fakeExchanger) AuthorizeURL(state string) (string, error) {
	return "https://id.twitch.tv/oauth2/authorize?state=" + state, nil
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.tok, f.err
}

type memTokens struct {
	mu  sync.Mutex
	got []db.OAuthToken
	err error
}

func (m *memTokens) Upsert(ctx context.Context, t db.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.got = append(m.got, t)
	return nil
}

func newMux(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, deps)
}

func TestHealthz(t *testing.T) {
	database, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer database.Close()

	tests := []struct {
		name   string
		deps   Deps
		setup  func()
		status int
	}{
		{name: "no database", status: http.StatusOK},
		{
			name:   "database reachable",
			deps:   Deps{DB: database},
			setup:  func() { mock.ExpectPing() },
			status: http.StatusOK,
		},
		{
			name:   "database down",
			deps:   Deps{DB: database},
			setup:  func() { mock.ExpectPing().WillReturnError(errors.New("down")) },
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rr := httptest.NewRecorder()
			newMux(t, tt.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %q)", rr.Code, tt.status, rr.Body.String())
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		conn       ConnState
		status     int
		failedWant string
	}{
		{name: "connected", conn: &fakeConn{connected: true}, status: http.StatusOK},
		{name: "disconnected", conn: &fakeConn{}, status: http.StatusServiceUnavailable, failedWant: "irc"},
		{name: "no connection", status: http.StatusServiceUnavailable, failedWant: "irc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newMux(t, Deps{Conn: tt.conn}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["failed_check"] != tt.failedWant {
				t.Fatalf("failed_check = %q, want %q", body["failed_check"], tt.failedWant)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(t, Deps{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := chat.NewRegistry(ctx, nopChat{}, chat.RegistryConfig{
		Home:      "gamerdeathbot",
		Replies:   chat.NewReplies(config.DefaultPhrases(), nil, nil),
		Cooldowns: chat.Cooldowns{Greeting: time.Minute, Farewell: time.Minute, Gamerdeath: time.Minute, Register: time.Second},
	})
	defer reg.Close()
	s, err := reg.Register(ctx, "gamerdeathbot", "1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register(ctx, "evanito", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.OnGreeting(ctx, "alice")

	rr := httptest.NewRecorder()
	newMux(t, Deps{Conn: &fakeConn{connected: true}, Registry: reg}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Connected || got.Home != "gamerdeathbot" || got.Nick != "gamerdeathbot" {
		t.Fatalf("status = %+v", got)
	}
	if len(got.Channels) != 2 || got.Channels[0].Channel != "evanito" || got.Channels[1].Channel != "gamerdeathbot" {
		t.Fatalf("channels = %+v", got.Channels)
	}
	home := got.Channels[1]
	if home.ID != "1" {
		t.Errorf("id = %q", home.ID)
	}
	if home.Cooldowns[chat.GateGreeting] <= 0 || home.Cooldowns[chat.GateFarewell] != 0 {
		t.Errorf("cooldowns = %v", home.Cooldowns)
	}
	if home.ReminderCount != nil {
		t.Errorf("reminder state without an uptime source: %+v", home)
	}
}

func TestStatusRequiresAdmin(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := NewMux(ctx, Deps{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token = %d", rr.Code)
	}
}

func TestTwitchOAuthFlow(t *testing.T) {
	exp := time.Now().Add(4 * time.Hour).Truncate(time.Second)
	tok := (&oauth2.Token{AccessToken: "user-access", RefreshToken: "user-refresh", Expiry: exp}).
		WithExtra(map[string]any{"scope": []any{"chat:read", "chat:edit"}})
	store := &memTokens{}
	notified := make(chan struct{}, 1)
	mux := newMux(t, Deps{
		OAuth:   &fakeExchanger{tok: tok},
		Tokens:  store,
		OnToken: func(context.Context) { notified <- struct{}{} },
	})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("start status = %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")
	if len(state) != 32 {
		t.Fatalf("state = %q", state)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=abc&state="+state, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d body=%s", rr.Code, rr.Body.String())
	}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("OnToken not called")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.got) != 1 {
		t.Fatalf("stored %d tokens", len(store.got))
	}
	got := store.got[0]
	if got.Provider != db.ProviderTwitch || got.AccessToken != "user-access" || got.RefreshToken != "user-refresh" || got.Scope != "chat:read chat:edit" {
		t.Fatalf("stored = %+v", got)
	}

	// state is single use
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=abc&state="+state, nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("replayed state status = %d", rr.Code)
	}
}

func TestTwitchOAuthCallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		query  string
		status int
	}{
		{name: "not configured", query: "?code=a&state=b", status: http.StatusBadRequest},
		{name: "missing code", deps: Deps{OAuth: &fakeExchanger{}, Tokens: &memTokens{}}, query: "?state=b", status: http.StatusBadRequest},
		{name: "unknown state", deps: Deps{OAuth: &fakeExchanger{}, Tokens: &memTokens{}}, query: "?code=a&state=b", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newMux(t, tt.deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback"+tt.query, nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestTwitchOAuthCallbackExchangeAndStoreFailures(t *testing.T) {
	tests := []struct {
		name   string
		ex     *fakeExchanger
		store  *memTokens
		status int
	}{
		{"exchange fails", &fakeExchanger{err: errors.New("bad code")}, &memTokens{}, http.StatusBadGateway},
		{"store fails", &fakeExchanger{tok: &oauth2.Token{AccessToken: "a"}}, &memTokens{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(context.Background(), Deps{OAuth: tt.ex, Tokens: tt.store})
			h.addOAuthState("st", time.Now().Add(time.Minute))
			rr := httptest.NewRecorder()
			h.HandleTwitchOAuthCallback(rr, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=a&state=st", nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHandlers(context.Background(), Deps{})
	h.now = func() time.Time { return now }
	h.addOAuthState("old", now.Add(time.Minute))
	now = now.Add(2 * time.Minute)
	if h.consumeOAuthState("old") {
		t.Fatal("expired state accepted")
	}
	if h.consumeOAuthState("missing") {
		t.Fatal("unknown state accepted")
	}
}

func TestStartAndShutdown(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, Deps{}) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestStartBadAddr(t *testing.T) {
	err := Start(context.Background(), "not-an-addr", Deps{})
	if err == nil || !strings.Contains(err.Error(), "not-an-addr") {
		t.Fatalf("Start() error = %v", err)
	}
}
