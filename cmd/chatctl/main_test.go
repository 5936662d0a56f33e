package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/console"
	"github.com/creastat/console/app"
	"github.com/creastat/console/config"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
)

// useBackend points every command at backend, signed in as u1.
func useBackend(t *testing.T, backend *supabase.MemoryStore) {
	t.Helper()
	backend.AddUser("ada@example.com", "pw", "u1")
	backend.HandleFunction("github-status", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"data": map[string]any{"connected": false}}, nil
	})

	orig := openApp
	openApp = func(ctx context.Context, _ io.Writer) (*app.App, error) {
		cfg := &config.Config{}
		cfg.Supabase.URL = "https://example.supabase.co"
		cfg.Supabase.AnonKey = "anon"
		cfg.ApplyDefaults()
		a, err := app.New(cfg,
			app.WithBackend(backend),
			app.WithNotifier(notify.NewQueue(0)),
			app.WithLogger(logging.NewNop()),
		)
		if err != nil {
			return nil, err
		}
		if _, err := a.SignIn(ctx, "ada@example.com", "pw"); err != nil {
			return nil, err
		}
		return a, nil
	}
	t.Cleanup(func() { openApp = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false
	sessTitle, sessMode = "", string(console.ModeChat)
	logsTab, logsSearch, logsLimit, logsOutDir = "all", "", 100, "."

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionsAndMessages(t *testing.T) {
	useBackend(t, supabase.NewMemoryStore())

	out, err := run(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")

	_, err = run(t, "sessions", "create", "--title", "Deploy notes", "--mode", "dev")
	require.NoError(t, err)

	out, err = run(t, "sessions", "list", "--json")
	require.NoError(t, err)
	var sessions []console.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "Deploy notes", sessions[0].Title)
	assert.Equal(t, console.ModeDev, sessions[0].Mode)

	out, err = run(t, "messages", "send", sessions[0].ID, "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, string(console.StatusSent))

	out, err = run(t, "messages", "list", sessions[0].ID, "--json")
	require.NoError(t, err)
	var msgs []console.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, console.RoleUser, msgs[0].Role)
}

func TestSessionsCreateRejectsUnknownMode(t *testing.T) {
	useBackend(t, supabase.NewMemoryStore())

	_, err := run(t, "sessions", "create", "--mode", "karaoke")
	assert.ErrorIs(t, err, console.ErrValidation)
}

func TestLogsExport(t *testing.T) {
	backend := supabase.NewMemoryStore()
	useBackend(t, backend)
	backend.SetRole("u1", console.RoleNameAdmin)
	backend.AddLogs(
		console.LogEntry{ID: "1", Level: console.LogInfo, Message: "ok", Source: "api", Timestamp: time.Now()},
		console.LogEntry{ID: "2", Level: console.LogError, Message: "Edge Function timeout", Source: "functions", Timestamp: time.Now()},
	)
	dir := t.TempDir()

	out, err := run(t, "logs", "export", "--level", "error", "--out", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 row(s)")

	files, err := filepath.Glob(filepath.Join(dir, "system-logs-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var rows []console.LogEntry
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].ID)
}

func TestLogsRequireAdmin(t *testing.T) {
	useBackend(t, supabase.NewMemoryStore())

	_, err := run(t, "logs", "list")
	assert.ErrorIs(t, err, console.ErrForbidden)
}

func TestRAGStatus(t *testing.T) {
	backend := supabase.NewMemoryStore()
	useBackend(t, backend)
	backend.SetRAGTier("u1", console.RAGTierState{
		Tier:        console.TierStandard,
		VectorCount: 900,
		Limits:      console.RAGLimits{MaxVectors: 1000},
	})

	out, err := run(t, "rag", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "900 / 1000 (90%)")
	assert.Contains(t, out, "chatctl rag upgrade")
}

func TestPrefsMode(t *testing.T) {
	useBackend(t, supabase.NewMemoryStore())

	out, err := run(t, "prefs", "mode", "image")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Mode:    image"), out)

	_, err = run(t, "prefs", "mode", "karaoke")
	assert.ErrorIs(t, err, console.ErrValidation)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
