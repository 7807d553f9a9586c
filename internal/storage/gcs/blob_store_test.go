package gcs_test

import (
	"bytes"
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

	"github.com/JakeFAU/realtime-poi-crawler/internal/storage/gcs"
)

const bucketName = "test-bucket"

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: bucketName})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: bucketName})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsSnapshot(t *testing.T) {
	t.Parallel()

	objectName := "poi/coffee_2025-03-14.json"
	payload := []byte(`{"keyword":"coffee"}`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucketName))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")
		fmt.Fprintln(w, `{"name":"`+objectName+`","bucket":"`+bucketName+`"}`)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), objectName, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/poi/coffee_2025-03-14.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler)
	_, err := store.PutObject(context.Background(), "poi/x.json", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestListReturnsSortedNames(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.Contains(r.URL.Path, "/b/"+bucketName+"/o") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "poi/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"kind":"storage#objects","items":[`+
			`{"name":"poi/tea_2025-03-13.json","bucket":"test-bucket"},`+
			`{"name":"poi/coffee_2025-03-14.json","bucket":"test-bucket"}]}`)
	})

	store := newTestStore(t, handler)
	names, err := store.List(context.Background(), "poi/")
	require.NoError(t, err)
	require.Equal(t, []string{"poi/coffee_2025-03-14.json", "poi/tea_2025-03-13.json"}, names)
}
