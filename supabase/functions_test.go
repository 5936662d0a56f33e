package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/creastat/console"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse(t *testing.T) {
	type payload struct {
		Status string `json:"status"`
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "envelope data", raw: `{"data":{"status":"valid"},"error":null}`, want: "valid"},
		{name: "bare body", raw: `{"status":"invalid"}`, want: "invalid"},
		{name: "string error", raw: `{"data":null,"error":"quota exceeded"}`, wantErr: true},
		{name: "object error", raw: `{"error":{"message":"bad key"}}`, wantErr: true},
		{name: "empty body", raw: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			err := decodeResponse("test-connection", []byte(tt.raw), &out)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, console.ErrRemote))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
		})
	}
}

func TestDecodeResponse_ErrorMessage(t *testing.T) {
	err := decodeResponse("store-secret", []byte(`{"error":{"message":"bad key"}}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Contains(t, err.Error(), "store-secret")
}

func TestMemoryStore_Invoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.HandleFunction("echo", func(_ context.Context, body json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, err
		}
		return map[string]any{"data": in}, nil
	})

	var out map[string]string
	require.NoError(t, store.Invoke(ctx, "echo", map[string]string{"hello": "world"}, &out))
	assert.Equal(t, "world", out["hello"])
	assert.Equal(t, 1, store.Calls("echo"))

	err := store.Invoke(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, console.ErrRemote)

	store.SetError("echo", errors.New("boom"))
	err = store.Invoke(ctx, "echo", nil, &out)
	assert.ErrorIs(t, err, console.ErrRemote)
}

func TestClient_Invoke(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/broken") {
			_, _ = w.Write([]byte(`{"data":null,"error":{"message":"secret store unavailable"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"valid":true}}`))
	}))
	defer srv.Close()

	client, err := New(Config{URL: srv.URL, APIKey: "anon"})
	require.NoError(t, err)

	var out struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, client.Invoke(context.Background(), "validate-api-key", map[string]string{"provider": "openai"}, &out))
	assert.True(t, out.Valid)
	assert.True(t, strings.HasSuffix(gotPath, "/validate-api-key"), gotPath)
	assert.Equal(t, "openai", gotBody["provider"])

	err = client.Invoke(context.Background(), "broken", nil, &out)
	assert.ErrorIs(t, err, console.ErrRemote)
	assert.Contains(t, err.Error(), "secret store unavailable")
}
