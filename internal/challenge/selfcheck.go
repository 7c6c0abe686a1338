package challenge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/acme"
)

// maxSelfCheckBody bounds the response read during a self-check.
const maxSelfCheckBody = 1 << 16

// HTTPVerifier performs the local self-check: it fetches the challenge URL
// exactly the way the CA will and compares the trimmed body byte-for-byte
// with the published key authorization. A mismatch stops the workflow
// before the CA is asked to validate, avoiding a guaranteed remote failure.
type HTTPVerifier struct {
	client *http.Client
	log    *zap.Logger
}

// Ensure HTTPVerifier implements acme.Verifier (compile-time check).
var _ acme.Verifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier builds a verifier. A nil client gets a plain-HTTP client
// with a 10 second timeout; a nil logger is replaced with a no-op logger.
func NewHTTPVerifier(client *http.Client, log *zap.Logger) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPVerifier{client: client, log: log}
}

// Verify fetches http://<domain>/.well-known/acme-challenge/<token> and
// requires the trimmed body to equal keyAuthorization.
func (v *HTTPVerifier) Verify(ctx context.Context, domain, token, keyAuthorization string) error {
	url := "http://" + domain + wellKnownPath + token

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: building self-check request for %s: %w", acme.ErrVerification, url, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching %s: %w", acme.ErrVerification, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSelfCheckBody))
	if err != nil {
		return fmt.Errorf("%w: reading self-check response from %s: %w", acme.ErrVerification, url, err)
	}

	if got := strings.TrimSpace(string(body)); got != keyAuthorization {
		return fmt.Errorf("%w: challenge response at %s does not match the published key authorization", acme.ErrVerification, url)
	}

	v.log.Debug("self-check passed", zap.String("url", url))
	return nil
}
