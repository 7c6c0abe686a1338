package acme

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
	"github.com/blockadesystems/certforge/internal/storage"
)

// csrMessage is the payload of a new-cert call.
type csrMessage struct {
	Resource string `json:"resource"`
	CSR      string `json:"csr"`
}

// revokeMessage is the payload of a revoke-cert call.
type revokeMessage struct {
	Resource    string `json:"resource"`
	Certificate string `json:"certificate"`
}

// issueCertificate submits the CSR, polls the certificate resource until
// the CA has issued, fetches the intermediates named by the response's
// "up" links, and persists cert/chain/fullchain under the primary domain.
func (c *Client) issueCertificate(ctx context.Context, primary, csr64 string) (*model.Artifacts, string, error) {
	l := c.log.With(zap.String("domain", primary))
	l.Info("requesting certificate")

	resp, err := c.signer.Post(ctx, newCertPath, csrMessage{Resource: "new-cert", CSR: csr64})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, "", statusErr("new-cert", resp.StatusCode, resp.Body)
	}
	certURL := resp.Location
	if certURL == "" {
		return nil, "", fmt.Errorf("%w: new-cert response carries no location", ErrProtocol)
	}

	leaf, upLinks, err := c.pollCertificate(ctx, l, certURL)
	if err != nil {
		return nil, "", err
	}

	intermediates, err := c.fetchIntermediates(ctx, upLinks)
	if err != nil {
		return nil, "", err
	}

	artifacts := assembleArtifacts(leaf, intermediates)
	if err := c.store.SaveArtifacts(ctx, primary, artifacts); err != nil {
		return nil, "", err
	}

	l.Info("certificate persisted", zap.Int("intermediates", len(intermediates)))
	return artifacts, certURL, nil
}

// pollCertificate polls the certificate resource until the CA stops
// answering 202. A 200 body is the leaf certificate in DER form; its
// accompanying "up" links name the intermediates.
func (c *Client) pollCertificate(ctx context.Context, l *zap.Logger, certURL string) ([]byte, []string, error) {
	var leaf []byte
	var upLinks []string

	err := c.policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		resp, err := c.transport.Get(ctx, certURL)
		if err != nil {
			return false, err
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			l.Debug("certificate not ready yet")
			return false, nil
		case http.StatusOK:
			if len(resp.Body) == 0 {
				return false, fmt.Errorf("%w: certificate response has an empty body", ErrProtocol)
			}
			leaf = resp.Body
			upLinks = resp.Links["up"]
			return true, nil
		default:
			return false, statusErr("certificate fetch", resp.StatusCode, resp.Body)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return leaf, upLinks, nil
}

// fetchIntermediates retrieves each intermediate certificate in link
// order. Each body is DER, as with the leaf.
func (c *Client) fetchIntermediates(ctx context.Context, upLinks []string) ([][]byte, error) {
	intermediates := make([][]byte, 0, len(upLinks))
	for _, link := range upLinks {
		resp, err := c.transport.Get(ctx, link)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
			return nil, statusErr("intermediate fetch", resp.StatusCode, resp.Body)
		}
		intermediates = append(intermediates, resp.Body)
	}
	return intermediates, nil
}

// assembleArtifacts wraps the DER material into the three PEM artifacts:
// cert is the leaf, chain the intermediates in fetch order, fullchain the
// concatenation of both.
func assembleArtifacts(leaf []byte, intermediates [][]byte) *model.Artifacts {
	certPEM := storage.EncodeCertificate(leaf)

	var chain bytes.Buffer
	for _, der := range intermediates {
		chain.Write(storage.EncodeCertificate(der))
	}

	fullchain := make([]byte, 0, len(certPEM)+chain.Len())
	fullchain = append(fullchain, certPEM...)
	fullchain = append(fullchain, chain.Bytes()...)

	return &model.Artifacts{
		CertPEM:      certPEM,
		ChainPEM:     chain.Bytes(),
		FullchainPEM: fullchain,
	}
}
