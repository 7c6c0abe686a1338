package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

// prepareCSR returns the base64url wire form of the PKCS#10 request for
// the domain batch. The per-domain key and the request itself are persisted
// under the primary domain's directory; with reuse enabled an existing
// stored request short-circuits regeneration.
func (c *Client) prepareCSR(ctx context.Context, domains []string) (string, error) {
	primary := domains[0]
	l := c.log.With(zap.String("domain", primary))

	if c.cfg.ReuseCSR {
		der, err := c.store.GetCSR(ctx, primary)
		if err != nil {
			return "", err
		}
		if der != nil {
			l.Info("reusing persisted certificate request")
			return base64.RawURLEncoding.EncodeToString(der), nil
		}
	}

	key, err := c.domainKey(ctx, primary)
	if err != nil {
		return "", err
	}

	der, err := buildCSR(key, domains, c.cfg.CountryCode, c.cfg.StateName)
	if err != nil {
		return "", err
	}
	if err := c.store.SaveCSR(ctx, primary, der); err != nil {
		return "", err
	}

	l.Info("certificate request built", zap.Int("domains", len(domains)))
	return base64.RawURLEncoding.EncodeToString(der), nil
}

// domainKey loads the primary domain's keypair, generating and persisting
// one the first time around.
func (c *Client) domainKey(ctx context.Context, domain string) (*rsa.PrivateKey, error) {
	key, err := c.store.GetDomainKey(ctx, domain)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	c.log.Info("no domain key found, generating one",
		zap.String("domain", domain), zap.Int("bits", domainKeySize))
	key, err = rsa.GenerateKey(rand.Reader, domainKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating key for %s: %w", ErrCrypto, domain, err)
	}
	if err := c.store.SaveDomainKey(ctx, domain, key); err != nil {
		return nil, err
	}
	return key, nil
}

// buildCSR creates a SHA-256 PKCS#10 request: CN is the first domain, the
// SAN extension lists every domain in input order.
func buildCSR(key *rsa.PrivateKey, domains []string, country, state string) ([]byte, error) {
	subject := pkix.Name{
		CommonName:   domains[0],
		Organization: []string{"Unknown"},
	}
	if country != "" {
		subject.Country = []string{country}
	}
	if state != "" {
		subject.Province = []string{state}
	}

	template := &x509.CertificateRequest{
		Subject:            subject,
		DNSNames:           domains,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("%w: building certificate request: %w", ErrCrypto, err)
	}
	return der, nil
}
