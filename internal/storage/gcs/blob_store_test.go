package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeGCS struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"bucket":"matchday-artifacts","name":"reports/K5.json","size":"2"}`)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1/storage/v1/"))
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{Bucket: "  "})
	require.ErrorContains(t, err, "artifacts.bucket")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	fake := &fakeGCS{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, closeFn, err := Dial(context.Background(), Config{Bucket: "matchday-artifacts"},
		option.WithoutAuthentication(), option.WithEndpoint(srv.URL+"/storage/v1/"))
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	uri, err := store.PutObject(context.Background(), "/reports/K5.json", "", strings.NewReader(`[{"id":"K5-2025-03-1"}]`))
	require.NoError(t, err)
	require.Equal(t, "gs://matchday-artifacts/reports/K5.json", uri)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	require.Contains(t, fake.paths[0], "/b/matchday-artifacts/o")
	require.Contains(t, fake.bodies[0], `K5-2025-03-1`)
	require.Contains(t, fake.bodies[0], "application/json")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1/storage/v1/"))
	require.NoError(t, err)
	defer client.Close()
	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " / ", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
}
