// internal/challenge/responder_test.go
package challenge_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockadesystems/certforge/internal/challenge"
)

func newResponderServer(t *testing.T, webroot string) *httptest.Server {
	t.Helper()
	r := challenge.NewResponder("127.0.0.1:0", webroot, zaptest.NewLogger(t))
	server := httptest.NewServer(r.Handler())
	t.Cleanup(server.Close)
	return server
}

func TestResponderServesPublishedToken(t *testing.T) {
	webroot := t.TempDir()
	dir := filepath.Join(webroot, ".well-known", "acme-challenge")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tok123"), []byte("tok123.thumbprint"), 0644))

	server := newResponderServer(t, webroot)

	resp, err := http.Get(server.URL + "/.well-known/acme-challenge/tok123")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "tok123.thumbprint", string(body))
}

func TestResponderUnknownTokenIsNotFound(t *testing.T) {
	server := newResponderServer(t, t.TempDir())

	resp, err := http.Get(server.URL + "/.well-known/acme-challenge/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResponderRejectsTraversalTokens(t *testing.T) {
	webroot := t.TempDir()
	// A file outside the challenge directory must stay unreachable.
	require.NoError(t, os.WriteFile(filepath.Join(webroot, "secret"), []byte("private"), 0644))

	server := newResponderServer(t, webroot)

	resp, err := http.Get(server.URL + "/.well-known/acme-challenge/..%2F..%2Fsecret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResponderHealthEndpoint(t *testing.T) {
	server := newResponderServer(t, t.TempDir())

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
