package acme

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const algRS256 = "RS256"

// jwsHeader is the unprotected header of the legacy envelope.
type jwsHeader struct {
	Alg string `json:"alg"`
	JWK rsaJWK `json:"jwk"`
}

// protectedHeader repeats the unprotected header plus the single-use nonce.
type protectedHeader struct {
	Alg   string `json:"alg"`
	JWK   rsaJWK `json:"jwk"`
	Nonce string `json:"nonce"`
}

// envelope is the legacy JWS JSON serialization the v1 dialect expects.
// protected, payload and signature are base64url-encoded without padding.
type envelope struct {
	Header    jwsHeader `json:"header"`
	Protected string    `json:"protected"`
	Payload   string    `json:"payload"`
	Signature string    `json:"signature"`
}

// Signer wraps payloads in signed envelopes using the account key. It owns
// the single nonce slot: every signed call consumes the nonce of the
// immediately preceding response and stores the one from its own response.
// The mutex keeps that slot coherent; at most one signed request is in
// flight per account key.
type Signer struct {
	key       *rsa.PrivateKey
	jwk       rsaJWK
	transport Transport
	log       *zap.Logger

	mu    sync.Mutex
	nonce string
}

// NewSigner builds a signer for the given account key. A nil logger is
// replaced with a no-op logger.
func NewSigner(key *rsa.PrivateKey, transport Transport, log *zap.Logger) *Signer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Signer{
		key:       key,
		jwk:       newRSAJWK(&key.PublicKey),
		transport: transport,
		log:       log,
	}
}

// Post signs payload and POSTs the envelope to uri, which may be relative
// to the CA base. The response's nonce replaces the consumed one.
func (s *Signer) Post(ctx context.Context, uri string, payload interface{}) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.takeNonce(ctx)
	if err != nil {
		return nil, err
	}

	body, err := s.seal(payload, nonce)
	if err != nil {
		return nil, err
	}

	resp, err := s.transport.Post(ctx, uri, body)
	if err != nil {
		return nil, err
	}
	if resp.Nonce != "" {
		s.nonce = resp.Nonce
	}
	return resp, nil
}

// seal builds the signed envelope for payload around the given nonce.
func (s *Signer) seal(payload interface{}, nonce string) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling payload: %w", ErrCrypto, err)
	}
	payload64 := base64.RawURLEncoding.EncodeToString(payloadJSON)

	protectedJSON, err := json.Marshal(protectedHeader{
		Alg:   algRS256,
		JWK:   s.jwk,
		Nonce: nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling protected header: %w", ErrCrypto, err)
	}
	protected64 := base64.RawURLEncoding.EncodeToString(protectedJSON)

	digest := sha256.Sum256([]byte(protected64 + "." + payload64))
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: signing request: %w", ErrCrypto, err)
	}

	body, err := json.Marshal(envelope{
		Header:    jwsHeader{Alg: algRS256, JWK: s.jwk},
		Protected: protected64,
		Payload:   payload64,
		Signature: base64.RawURLEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling envelope: %w", ErrCrypto, err)
	}
	return body, nil
}

// takeNonce empties the nonce slot, bootstrapping it from an unsigned
// directory fetch when no previous response has filled it.
func (s *Signer) takeNonce(ctx context.Context) (string, error) {
	if s.nonce == "" {
		resp, err := s.transport.Get(ctx, directoryPath)
		if err != nil {
			return "", err
		}
		if resp.Nonce == "" {
			return "", fmt.Errorf("%w: no nonce in directory response", ErrProtocol)
		}
		s.log.Debug("bootstrapped nonce from directory")
		s.nonce = resp.Nonce
	}
	nonce := s.nonce
	s.nonce = ""
	return nonce, nil
}
