package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "run-logs"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	const object = "logs/2026/01/02/run.log"
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, object, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "worker line")
		fmt.Fprintln(w, `{"name": "`+object+`", "bucket": "run-logs"}`)
	}))

	uri, err := store.PutObject(context.Background(), object, "text/plain", strings.NewReader("worker line\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://run-logs/"+object, uri)
}

func TestPutObjectTrimsLeadingSlash(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crawl-logs/run.log", r.URL.Query().Get("name"))
		_, _ = io.Copy(io.Discard, r.Body)
		fmt.Fprintln(w, `{"name": "crawl-logs/run.log", "bucket": "run-logs"}`)
	}))
	uri, err := store.PutObject(context.Background(), "/crawl-logs/run.log", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "gs://run-logs/crawl-logs/run.log", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := store.PutObject(context.Background(), "x.log", "", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("data"))
	assert.ErrorContains(t, err, "object path is required")
}
