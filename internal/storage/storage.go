// Package storage persists the client's long-lived artifacts: the account
// keypair, per-domain keypairs, certificate requests, and issued
// certificate chains.
package storage

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
)

// Storage defines the interface for persisting issuance artifacts. Get
// methods return nil without an error when the artifact does not exist
// yet, so callers can branch on presence.
type Storage interface {
	// Account key material
	SaveAccountKey(ctx context.Context, key *rsa.PrivateKey) error
	GetAccountKey(ctx context.Context) (*rsa.PrivateKey, error)

	// Per-domain key material
	SaveDomainKey(ctx context.Context, domain string, key *rsa.PrivateKey) error
	GetDomainKey(ctx context.Context, domain string) (*rsa.PrivateKey, error)

	// Certificate requests, DER in and DER out
	SaveCSR(ctx context.Context, domain string, der []byte) error
	GetCSR(ctx context.Context, domain string) ([]byte, error)

	// Issued certificate material
	SaveArtifacts(ctx context.Context, domain string, artifacts *model.Artifacts) error
	GetCertificate(ctx context.Context, domain string) (*x509.Certificate, error)
}

// NewStorage is the factory function.
func NewStorage(storageType string, certsDir string, log *zap.Logger) (Storage, error) {
	switch strings.ToLower(storageType) {
	case "file":
		return NewFileStorage(certsDir, log)
	default:
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}
