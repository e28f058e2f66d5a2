package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutUploadsAndPresigns(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotBody  string
		gotAuthz string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody, gotAuthz = r.URL.Path, string(body), r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3(context.Background(), Options{
		Bucket:    "backups",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "minio",
		SecretKey: "minio-secret",
	})
	require.NoError(t, err)

	key := Key("u1", "diary_backup_20240301-101500.json")
	link, err := a.Put(context.Background(), key, []byte(`{"entries":{}}`))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/backups/exports/u1/diary_backup_20240301-101500.json", gotPath)
	assert.Equal(t, `{"entries":{}}`, gotBody)
	assert.Contains(t, gotAuthz, "Credential=minio/")

	assert.True(t, strings.HasPrefix(link, srv.URL+"/backups/exports/u1/"), link)
	assert.Contains(t, link, "X-Amz-Signature=")
	assert.Contains(t, link, "X-Amz-Expires=900")
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), Options{Region: "us-east-1"})
	assert.Error(t, err)
}
