package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Token:   "secret",
		WorkDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	return client
}

func TestClientExists(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files/present.svg", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "present.svg"},
		})
	})
	mux.HandleFunc("GET /api/files/absent.svg", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	ok, err := client.Exists(ctx, "present.svg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(ctx, "absent.svg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientFetch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("GET /api/files/chart.svg", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "chart.svg", "url": srvURL + "/static/chart.svg"},
		})
	})
	mux.HandleFunc("GET /static/chart.svg", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<svg/>")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	client, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Token:   "secret",
		WorkDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)

	path, err := client.Fetch(context.Background(), "chart.svg")
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(content))
}

func TestClientTransform(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transform", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "in.svg", req["name"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": "<svg translated/>",
		})
	})
	client := newTestClient(t, mux)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.svg")
	require.NoError(t, os.WriteFile(in, []byte("<svg/>"), 0644))

	out, err := client.Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "in.translated.svg"), out)
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<svg translated/>", string(content))
}

func TestClientPublish(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req["name"] {
		case "dup.svg":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": "exists"})
		case "bad.svg":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid svg"})
		default:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
		}
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "f.svg")
	require.NoError(t, os.WriteFile(local, []byte("<svg/>"), 0644))

	require.NoError(t, client.Publish(ctx, "fresh.svg", local, "cropped"))

	err := client.Publish(ctx, "dup.svg", local, "cropped")
	assert.True(t, errors.Is(err, ErrAlreadyExists), "duplicate maps to ErrAlreadyExists, got %v", err)

	err = client.Publish(ctx, "bad.svg", local, "cropped")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid svg")
}

func TestClientReferences(t *testing.T) {
	t.Parallel()

	var updated string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pages/File:chart.svg", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"page": map[string]any{"text": "[[File:chart.svg]]"},
		})
	})
	mux.HandleFunc("POST /api/pages/File:chart.svg", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		updated = req["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	text, err := client.GetReference(ctx, "File:chart.svg")
	require.NoError(t, err)
	assert.Equal(t, "[[File:chart.svg]]", text)

	require.NoError(t, client.UpdateReference(ctx, "File:chart.svg", "[[File:chart_cropped.svg]]"))
	assert.Equal(t, "[[File:chart_cropped.svg]]", updated)
}
