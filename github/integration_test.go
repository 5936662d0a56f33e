package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	mu        sync.Mutex
	connected bool
	accounts  []map[string]any
	exchanged map[string]string
}

func newServer(backend *supabase.MemoryStore) *server {
	s := &server{}
	backend.HandleFunction(fnExchange, func(_ context.Context, body json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.exchanged = in
		s.connected = true
		s.accounts = []map[string]any{{
			"id":      "acct-1",
			"default": true,
			"status":  "active",
			"scopes":  []string{"repo", "read:user"},
			"profile": map[string]any{"login": "octocat", "avatar_url": "https://avatars.example/octocat.png", "id": 1},
		}}
		return map[string]any{"data": map[string]bool{"ok": true}}, nil
	})
	backend.HandleFunction(fnStatus, func(context.Context, json.RawMessage) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return map[string]any{"data": map[string]any{"connected": s.connected, "accounts": s.accounts}}, nil
	})
	backend.HandleFunction(fnDisconnect, func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"data": nil}, nil
	})
	return s
}

// browser simulates the user approving (or denying) in the browser by
// hitting the callback server with the state from the authorize URL.
func browser(t *testing.T, handler http.Handler, query func(state string) url.Values) Opener {
	return OpenerFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		state := u.Query().Get("state")
		go func() {
			req := httptest.NewRequest(http.MethodGet, CallbackPath+"?"+query(state).Encode(), nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
		}()
		return nil
	})
}

func newIntegration(backend *supabase.MemoryStore, opener Opener, opts ...Option) *Integration {
	return New(Config{
		ClientID:    "client-123",
		RedirectURL: "http://127.0.0.1:8976/github/callback",
		Scopes:      []string{"repo", "read:user"},
	}, backend, backend, auth.Static("u1"), opener, opts...)
}

func TestIntegration_ConnectFlow(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	srv := newServer(backend)

	var authorizeURL string
	var integ *Integration
	var callback *CallbackServer
	opener := OpenerFunc(func(ctx context.Context, raw string) error {
		authorizeURL = raw
		return browser(t, callback.Handler(), func(state string) url.Values {
			return url.Values{"state": {state}, "code": {"auth-code"}}
		}).Open(ctx, raw)
	})
	queue := notify.NewQueue(0)
	integ = newIntegration(backend, opener, WithNotifier(queue))
	callback = NewCallbackServer("127.0.0.1:0", integ, nil)

	assert.Equal(t, StatusUnknown, integ.Status())
	require.NoError(t, integ.Connect(ctx))

	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	srv.mu.Lock()
	assert.Equal(t, "auth-code", srv.exchanged["code"])
	assert.NotEmpty(t, srv.exchanged["code_verifier"])
	assert.Equal(t, q.Get("state"), srv.exchanged["state"])
	srv.mu.Unlock()

	assert.Equal(t, StatusConnected, integ.Status())
	accounts := integ.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, "octocat", accounts[0].Username)
	assert.Equal(t, "https://avatars.example/octocat.png", accounts[0].AvatarURL)
	def, ok := integ.DefaultAccount()
	require.True(t, ok)
	assert.Equal(t, "acct-1", def.ID)
	require.Len(t, queue.All(), 1)
	assert.Equal(t, notify.LevelSuccess, queue.All()[0].Level)
}

func TestIntegration_ConnectDenied(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	newServer(backend)

	var integ *Integration
	integ = newIntegration(backend, OpenerFunc(func(ctx context.Context, raw string) error {
		return browser(t, NewCallbackServer("", integ, nil).Handler(), func(state string) url.Values {
			return url.Values{"state": {state}, "error": {"access_denied"}, "error_description": {"user declined"}}
		}).Open(ctx, raw)
	}))

	err := integ.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, console.ErrHandshake)
	assert.Equal(t, StatusError, integ.Status())
	assert.Zero(t, backend.Calls(fnExchange))
}

func TestIntegration_ConnectContextEnds(t *testing.T) {
	backend := supabase.NewMemoryStore()
	integ := newIntegration(backend, OpenerFunc(func(context.Context, string) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := integ.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusError, integ.Status())
}

func TestIntegration_ConnectOpenerFails(t *testing.T) {
	backend := supabase.NewMemoryStore()
	integ := newIntegration(backend, OpenerFunc(func(context.Context, string) error {
		return errors.New("no browser")
	}))

	err := integ.Connect(context.Background())
	assert.ErrorIs(t, err, console.ErrHandshake)
	assert.Equal(t, StatusError, integ.Status())
}

func TestIntegration_CompleteUnknownState(t *testing.T) {
	integ := newIntegration(supabase.NewMemoryStore(), nil)
	assert.ErrorIs(t, integ.Complete("bogus", "code", nil), console.ErrHandshake)

	cb := NewCallbackServer("", integ, nil)
	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?state=bogus&code=x", nil)
	rec := httptest.NewRecorder()
	cb.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegration_CheckConnectionStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	srv := newServer(backend)
	integ := newIntegration(backend, nil)

	status, err := integ.CheckConnectionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, status)

	srv.mu.Lock()
	srv.connected = true
	srv.accounts = []map[string]any{{"id": "a", "profile": map[string]any{"login": "hubot"}}}
	srv.mu.Unlock()

	for i := 0; i < 3; i++ {
		status, err = integ.CheckConnectionStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusConnected, status)
		assert.Len(t, integ.Accounts(), 1)
	}

	backend.SetError(fnStatus, errors.New("edge down"))
	status, err = integ.CheckConnectionStatus(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusError, status)
	assert.Len(t, integ.Accounts(), 1, "failed resync keeps the last known accounts")
}

func TestIntegration_DisconnectAndDefault(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	srv := newServer(backend)
	srv.connected = true
	srv.accounts = []map[string]any{
		{"id": "a", "default": true, "profile": map[string]any{"login": "one"}},
		{"id": "b", "profile": map[string]any{"login": "two"}},
	}
	backend.AddGitHubConnection("u1", console.GitHubConnection{ID: "a", Default: true})
	backend.AddGitHubConnection("u1", console.GitHubConnection{ID: "b"})
	integ := newIntegration(backend, nil)

	_, err := integ.CheckConnectionStatus(ctx)
	require.NoError(t, err)

	require.NoError(t, integ.SetDefaultAccount(ctx, "b"))
	def, ok := integ.DefaultAccount()
	require.True(t, ok)
	assert.Equal(t, "b", def.ID)
	assert.ErrorIs(t, integ.SetDefaultAccount(ctx, "zzz"), console.ErrNotFound)

	require.NoError(t, integ.Disconnect(ctx, "a"))
	assert.Equal(t, StatusConnected, integ.Status())
	assert.Len(t, integ.Accounts(), 1)

	require.NoError(t, integ.Disconnect(ctx, ""))
	assert.Equal(t, StatusDisconnected, integ.Status())
	assert.Empty(t, integ.Accounts())
}

func TestIntegration_RefreshToken(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	srv := newServer(backend)
	srv.connected = true
	srv.accounts = []map[string]any{{"id": "a", "profile": map[string]any{"login": "one"}}}
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	backend.HandleFunction(fnRefresh, func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"data": map[string]any{"token_expires_at": expires}}, nil
	})
	integ := newIntegration(backend, nil)
	_, err := integ.CheckConnectionStatus(ctx)
	require.NoError(t, err)

	require.NoError(t, integ.RefreshToken(ctx, "a"))
	got := integ.Accounts()[0].TokenExpiresAt
	require.NotNil(t, got)
	assert.True(t, got.Equal(expires))

	integ.Reset()
	assert.Equal(t, StatusUnknown, integ.Status())
	assert.Empty(t, integ.Accounts())
}

// holdOpener reports each authorize state on opened and never completes.
func holdOpener(opened chan<- string) Opener {
	return OpenerFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		opened <- u.Query().Get("state")
		return nil
	})
}

func TestIntegration_ConnectNotRecordedByServer(t *testing.T) {
	backend := supabase.NewMemoryStore()
	newServer(backend)
	backend.HandleFunction(fnExchange, func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"data": nil}, nil
	})

	queue := notify.NewQueue(0)
	var integ *Integration
	integ = newIntegration(backend, OpenerFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		go func() { _ = integ.Complete(u.Query().Get("state"), "auth-code", nil) }()
		return nil
	}), WithNotifier(queue))

	err := integ.Connect(context.Background())
	assert.ErrorIs(t, err, console.ErrHandshake)
	assert.Equal(t, StatusError, integ.Status())
	require.Len(t, queue.All(), 1)
	assert.Equal(t, notify.LevelError, queue.All()[0].Level)
}

func TestIntegration_OneHandshakeAtATime(t *testing.T) {
	backend := supabase.NewMemoryStore()
	newServer(backend)
	opened := make(chan string, 1)
	integ := newIntegration(backend, holdOpener(opened))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- integ.Connect(ctx) }()
	<-opened
	assert.Equal(t, StatusConnecting, integ.Status())

	status, err := integ.CheckConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, status, "resync keeps the pending handshake visible")

	err = integ.Connect(context.Background())
	assert.ErrorIs(t, err, console.ErrHandshake)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StatusError, integ.Status())
}

func TestIntegration_ResetAbandonsHandshake(t *testing.T) {
	backend := supabase.NewMemoryStore()
	newServer(backend)
	opened := make(chan string, 1)
	queue := notify.NewQueue(0)
	integ := newIntegration(backend, holdOpener(opened), WithNotifier(queue))

	done := make(chan error, 1)
	go func() { done <- integ.Connect(context.Background()) }()
	state := <-opened

	integ.Reset()
	assert.ErrorIs(t, <-done, console.ErrHandshake)
	assert.Equal(t, StatusUnknown, integ.Status())
	assert.Empty(t, queue.All())
	assert.ErrorIs(t, integ.Complete(state, "late-code", nil), console.ErrHandshake)
	assert.Zero(t, backend.Calls(fnExchange))
}
