package mail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendgridSenderPostsV3Mail(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendgridSender("key-1", "noreply@example.com")
	s.host = srv.URL

	err := s.Send(context.Background(), PasswordReset("ada@example.com", "https://nexus.test", "tok"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-1", auth)

	personalizations := got["personalizations"].([]any)
	first := personalizations[0].(map[string]any)
	assert.Equal(t, "[Nexus] Reset your password", first["subject"])
	content := got["content"].([]any)[0].(map[string]any)
	assert.Contains(t, content["value"], "https://nexus.test/reset-password?token=tok")
}

func TestSendgridSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSendgridSender("bad", "noreply@example.com")
	s.host = srv.URL
	assert.Error(t, s.Send(context.Background(), AccountApproved("ada@example.com", "https://nexus.test")))
}
