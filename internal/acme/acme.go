// Package acme implements a client for the ACME v1 dialect of
// domain-validated certificate issuance: account registration, per-domain
// HTTP-01 authorization, CSR submission, and certificate retrieval with
// chain assembly. All authenticated calls travel as signed JWS envelopes
// built by the Signer; artifacts are persisted through the storage layer.
package acme

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
	"github.com/blockadesystems/certforge/internal/retry"
	"github.com/blockadesystems/certforge/internal/storage"
)

// Endpoint paths relative to the CA base.
const (
	directoryPath  = "/directory"
	newRegPath     = "/acme/new-reg"
	newAuthzPath   = "/acme/new-authz"
	newCertPath    = "/acme/new-cert"
	revokeCertPath = "/acme/revoke-cert"
)

// Authorization and challenge statuses defined by the protocol.
const (
	StatusUnknown = "unknown"
	StatusPending = "pending"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// ChallengeTypeHTTP01 is the only challenge type this client can satisfy.
const ChallengeTypeHTTP01 = "http-01"

// RSA key sizes for the long-lived account key and the per-domain keys.
const (
	accountKeySize = 4096
	domainKeySize  = 4096
)

// Config is the immutable workflow configuration, fixed at construction.
type Config struct {
	ChallengeType string   // Challenge type to satisfy; empty defaults to "http-01"
	LicenseURL    string   // Subscriber agreement URL sent with registration
	CountryCode   string   // CSR subject C
	StateName     string   // CSR subject ST
	Contacts      []string // Contact URIs sent with registration when non-empty
	ReuseCSR      bool     // Reuse a previously persisted CSR instead of regenerating
}

// Publisher publishes the key authorization for a pending challenge and
// returns a release function that withdraws it again. The workflow runs
// the release on every outcome, fatal aborts included.
type Publisher interface {
	Publish(ctx context.Context, token, keyAuthorization string) (release func(), err error)
}

// Verifier checks that the published proof is reachable over plain HTTP
// before the CA is asked to validate it.
type Verifier interface {
	Verify(ctx context.Context, domain, token, keyAuthorization string) error
}

// Client drives the issuance workflow. It is not safe for concurrent use:
// the protocol itself serializes on the single nonce slot, so one run at a
// time is the intended shape.
type Client struct {
	cfg       Config
	transport Transport
	store     storage.Storage
	publisher Publisher
	verifier  Verifier
	policy    retry.Policy
	log       *zap.Logger

	signer     *Signer
	accountKey *rsa.PrivateKey
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger injects the logger the client logs through. The default is a
// no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRetryPolicy replaces the default polling policy for the
// authorization and certificate-readiness loops.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// New builds a Client from its collaborators.
func New(cfg Config, transport Transport, store storage.Storage, publisher Publisher, verifier Verifier, opts ...Option) (*Client, error) {
	if cfg.ChallengeType == "" {
		cfg.ChallengeType = ChallengeTypeHTTP01
	}
	if cfg.ChallengeType != ChallengeTypeHTTP01 {
		return nil, fmt.Errorf("%w: unsupported challenge type %q", ErrConfiguration, cfg.ChallengeType)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrConfiguration)
	}
	if publisher == nil || verifier == nil {
		return nil, fmt.Errorf("%w: challenge publisher and verifier are required", ErrConfiguration)
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		store:     store,
		publisher: publisher,
		verifier:  verifier,
		policy:    retry.DefaultPolicy(),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Obtain runs the full workflow for the given domains: ensure the account
// exists, authorize every domain in caller order, build the CSR, then
// submit it and retrieve the certificate chain. The first domain owns the
// artifact directory for the whole batch. Any failure aborts the run;
// there is no partial success across domains.
func (c *Client) Obtain(ctx context.Context, domains []string) (*model.IssuanceRecord, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no domains requested", ErrConfiguration)
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	l := c.log.With(zap.String("run_id", runID), zap.Strings("domains", domains))
	l.Info("starting issuance run")

	if err := c.ensureAccount(ctx); err != nil {
		return nil, err
	}

	for _, domain := range domains {
		if err := c.authorize(ctx, domain); err != nil {
			return nil, err
		}
	}

	csr64, err := c.prepareCSR(ctx, domains)
	if err != nil {
		return nil, err
	}

	artifacts, certURL, err := c.issueCertificate(ctx, domains[0], csr64)
	if err != nil {
		return nil, err
	}

	l.Info("issuance run complete", zap.String("certificate_url", certURL))
	return &model.IssuanceRecord{
		ID:             runID,
		PrimaryDomain:  domains[0],
		Domains:        domains,
		StartedAt:      startedAt,
		CompletedAt:    time.Now().UTC(),
		CertificateURL: certURL,
		CertPEM:        string(artifacts.CertPEM),
		ChainPEM:       string(artifacts.ChainPEM),
		FullchainPEM:   string(artifacts.FullchainPEM),
	}, nil
}

// Revoke asks the CA to revoke a PEM-encoded certificate.
func (c *Client) Revoke(ctx context.Context, certPEM []byte) error {
	cert, err := storage.ParseCertificate(certPEM)
	if err != nil {
		return fmt.Errorf("%w: parsing certificate for revocation: %w", ErrCrypto, err)
	}

	if err := c.ensureAccount(ctx); err != nil {
		return err
	}

	resp, err := c.signer.Post(ctx, revokeCertPath, revokeMessage{
		Resource:    "revoke-cert",
		Certificate: base64.RawURLEncoding.EncodeToString(cert.Raw),
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr("revocation", resp.StatusCode, resp.Body)
	}

	c.log.Info("certificate revoked", zap.String("serial", cert.SerialNumber.String()))
	return nil
}

// NeedsRenewal reports whether cert is absent, not yet valid, or expires
// inside the given window.
func NeedsRenewal(cert *x509.Certificate, window time.Duration) bool {
	if cert == nil {
		return true
	}
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return true
	}
	return now.Add(window).After(cert.NotAfter)
}
