package acme

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client. Call sites wrap one of these together
// with the underlying cause, so callers can match the kind with errors.Is
// and still unwrap the cause.
var (
	// ErrConfiguration indicates required local state could not be set up
	// (uncreatable directories, unusable settings).
	ErrConfiguration = errors.New("acme: configuration error")

	// ErrProtocol indicates the CA conversation went off the rails: a
	// missing or invalid challenge, an invalid authorization, or an
	// unexpected HTTP status.
	ErrProtocol = errors.New("acme: protocol error")

	// ErrCrypto indicates keypair, signature or CSR construction failed.
	ErrCrypto = errors.New("acme: crypto error")

	// ErrVerification indicates the local self-check of the published
	// challenge response did not match before CA validation was requested.
	ErrVerification = errors.New("acme: verification error")
)

// statusErr builds a protocol error for an unexpected HTTP status,
// surfacing the response body for diagnostics.
func statusErr(what string, code int, body []byte) error {
	return fmt.Errorf("%w: %s returned status %d: %s", ErrProtocol, what, code, string(body))
}
