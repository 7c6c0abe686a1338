// internal/challenge/selfcheck_test.go
package challenge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockadesystems/certforge/internal/acme"
	"github.com/blockadesystems/certforge/internal/challenge"
)

func TestVerifyAcceptsMatchingResponse(t *testing.T) {
	const keyAuth = "tok123.thumbprint"

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(keyAuth))
	}))
	defer server.Close()

	ver := challenge.NewHTTPVerifier(nil, zaptest.NewLogger(t))
	domain := strings.TrimPrefix(server.URL, "http://")

	err := ver.Verify(context.Background(), domain, "tok123", keyAuth)
	require.NoError(t, err)
	assert.Equal(t, "/.well-known/acme-challenge/tok123", gotPath,
		"the verifier should fetch the same URL the CA will")
}

func TestVerifyToleratesSurroundingWhitespace(t *testing.T) {
	const keyAuth = "tok123.thumbprint"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(keyAuth + "\n"))
	}))
	defer server.Close()

	ver := challenge.NewHTTPVerifier(nil, zaptest.NewLogger(t))
	domain := strings.TrimPrefix(server.URL, "http://")

	assert.NoError(t, ver.Verify(context.Background(), domain, "tok123", keyAuth),
		"a trailing newline from the webserver should not fail the check")
}

func TestVerifyRejectsMismatchedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stale token content"))
	}))
	defer server.Close()

	ver := challenge.NewHTTPVerifier(nil, zaptest.NewLogger(t))
	domain := strings.TrimPrefix(server.URL, "http://")

	err := ver.Verify(context.Background(), domain, "tok123", "tok123.thumbprint")
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrVerification)
}

func TestVerifyRejectsUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	domain := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	ver := challenge.NewHTTPVerifier(nil, zaptest.NewLogger(t))

	err := ver.Verify(context.Background(), domain, "tok123", "tok123.thumbprint")
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrVerification)
}
