package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/tender-watch/internal/archive/gcs"
)

func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.Store {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPut(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/digests/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "Keine neuen Ausschreibungen")
		assert.Contains(t, string(body), "tenders/energie/digest.txt")
		fmt.Fprintln(w, `{"name": "tenders/energie/digest.txt", "bucket": "digests"}`)
	})
	s := newTestStore(t, handler, gcs.Config{Bucket: "digests", Prefix: "/tenders/"})

	uri, err := s.Put(context.Background(), "energie/digest.txt", "text/plain; charset=utf-8",
		[]byte("Keine neuen Ausschreibungen gefunden"))
	require.NoError(t, err)
	assert.Equal(t, "gs://digests/tenders/energie/digest.txt", uri)
}

func TestPutServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	s := newTestStore(t, handler, gcs.Config{Bucket: "digests"})

	_, err := s.Put(context.Background(), "energie/digest.txt", "", []byte("x"))
	assert.Error(t, err)
}

func TestPutRequiresKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.NotFoundHandler(), gcs.Config{Bucket: "digests"})
	_, err := s.Put(context.Background(), " ", "", []byte("x"))
	assert.Error(t, err)
}
