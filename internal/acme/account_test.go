// internal/acme/account_test.go
package acme_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/blockadesystems/certforge/internal/acme"
	"github.com/blockadesystems/certforge/internal/storage"
	"github.com/blockadesystems/certforge/internal/testutils"
)

// certPEMForTest builds a throwaway certificate to revoke.
func certPEMForTest(t *testing.T) ([]byte, []byte) {
	t.Helper()
	der := testutils.MustSelfSignedCert(t, testutils.MustRSAKey(t, 2048), "example.com",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	return storage.EncodeCertificate(der), der
}

func TestRevokeRegistersFreshAccount(t *testing.T) {
	// 1. Setup: empty storage, so the run must create and register a key
	ctx := context.Background()
	store, err := storage.NewFileStorage(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	certPEM, certDER := certPEMForTest(t)

	st := testutils.NewScriptedTransport(t,
		testutils.Exchange{Method: "GET", URI: "/directory",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-1"}},
		testutils.Exchange{Method: "POST", URI: "/acme/new-reg",
			Response: &acme.Response{StatusCode: http.StatusCreated,
				Location: "http://ca.example/reg/1", Nonce: "nonce-2"}},
		testutils.Exchange{Method: "POST", URI: "/acme/revoke-cert",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-3"}},
	)

	cfg := acme.Config{
		LicenseURL: "http://ca.example/terms",
		Contacts:   []string{"mailto:ops@example.com", "tel:+15551234567"},
	}
	client := newTestClient(t, cfg, st, store, &fakePublisher{}, &fakeVerifier{})

	// 2. Revoke forces the account to exist first
	require.NoError(t, client.Revoke(ctx, certPEM))
	st.Done()

	// 3. Registration payload carries the agreement and the contacts
	env, regPayload, _ := decodeEnvelope(t, st.Requests[1].Body)
	assert.Equal(t, "new-reg", regPayload["resource"])
	assert.Equal(t, "http://ca.example/terms", regPayload["agreement"])
	assert.Equal(t, []interface{}{"mailto:ops@example.com", "tel:+15551234567"}, regPayload["contact"])

	// 4. Revocation payload carries the DER certificate
	_, revokePayload, _ := decodeEnvelope(t, st.Requests[2].Body)
	assert.Equal(t, "revoke-cert", revokePayload["resource"])
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(certDER), revokePayload["certificate"])

	// 5. The generated key was persisted and is the one in the envelopes
	key, err := store.GetAccountKey(ctx)
	require.NoError(t, err)
	require.NotNil(t, key, "account key should be persisted")
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()), env.Header.JWK.N)
}

func TestRevokeRegistrationOmitsContactWhenUnset(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStorage(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	certPEM, _ := certPEMForTest(t)

	st := testutils.NewScriptedTransport(t,
		testutils.Exchange{Method: "GET", URI: "/directory",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-1"}},
		testutils.Exchange{Method: "POST", URI: "/acme/new-reg",
			Response: &acme.Response{StatusCode: http.StatusCreated, Nonce: "nonce-2"}},
		testutils.Exchange{Method: "POST", URI: "/acme/revoke-cert",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-3"}},
	)
	client := newTestClient(t, acme.Config{LicenseURL: "http://ca.example/terms"}, st, store,
		&fakePublisher{}, &fakeVerifier{})

	require.NoError(t, client.Revoke(ctx, certPEM))
	st.Done()

	_, regPayload, _ := decodeEnvelope(t, st.Requests[1].Body)
	_, present := regPayload["contact"]
	assert.False(t, present, "contact should be omitted entirely when none are configured")
}

func TestRevokeReusesPersistedAccount(t *testing.T) {
	// An existing key means no generation and no registration call.
	ctx := context.Background()
	store, err := storage.NewFileStorage(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	seeded := testutils.MustRSAKey(t, 2048)
	require.NoError(t, store.SaveAccountKey(ctx, seeded))
	certPEM, _ := certPEMForTest(t)

	st := testutils.NewScriptedTransport(t,
		testutils.Exchange{Method: "GET", URI: "/directory",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-1"}},
		testutils.Exchange{Method: "POST", URI: "/acme/revoke-cert",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-2"}},
	)
	client := newTestClient(t, acme.Config{LicenseURL: "http://ca.example/terms"}, st, store,
		&fakePublisher{}, &fakeVerifier{})

	require.NoError(t, client.Revoke(ctx, certPEM))
	st.Done()

	// The envelope signs with the seeded key, and the stored key is intact.
	env, _, _ := decodeEnvelope(t, st.Requests[1].Body)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(seeded.PublicKey.N.Bytes()), env.Header.JWK.N)

	key, err := store.GetAccountKey(ctx)
	require.NoError(t, err)
	assert.Zero(t, key.PublicKey.N.Cmp(seeded.PublicKey.N), "stored account key should be unchanged")
}

func TestRevokeRejectsGarbagePEM(t *testing.T) {
	store, err := storage.NewFileStorage(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	st := testutils.NewScriptedTransport(t)
	client := newTestClient(t, acme.Config{}, st, store, &fakePublisher{}, &fakeVerifier{})

	err = client.Revoke(context.Background(), []byte("not a certificate"))
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrCrypto)
	st.Done()
}

func TestRevokeSurfacesCAFailure(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStorage(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.SaveAccountKey(ctx, testutils.MustRSAKey(t, 2048)))
	certPEM, _ := certPEMForTest(t)

	st := testutils.NewScriptedTransport(t,
		testutils.Exchange{Method: "GET", URI: "/directory",
			Response: &acme.Response{StatusCode: http.StatusOK, Nonce: "nonce-1"}},
		testutils.Exchange{Method: "POST", URI: "/acme/revoke-cert",
			Response: &acme.Response{StatusCode: http.StatusConflict,
				Body: []byte("certificate already revoked"), Nonce: "nonce-2"}},
	)
	client := newTestClient(t, acme.Config{}, st, store, &fakePublisher{}, &fakeVerifier{})

	err = client.Revoke(ctx, certPEM)
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrProtocol)
	assert.Contains(t, err.Error(), "409")
	st.Done()
}
