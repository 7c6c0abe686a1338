package model

import (
	"time"
)

// Identifier names the subject of an authorization.
type Identifier struct {
	Type  string `json:"type"`  // e.g., "dns"
	Value string `json:"value"` // e.g., "example.com"
}

// Challenge is one proof-of-control task offered by the CA inside an
// authorization resource.
type Challenge struct {
	Type   string `json:"type"`             // e.g., "http-01"
	Status string `json:"status,omitempty"` // "unknown", "pending", "valid" or "invalid"
	URI    string `json:"uri,omitempty"`    // URL of this challenge resource, used to trigger validation
	Token  string `json:"token"`            // Challenge token value
}

// Authorization is the aggregate validation state for one identifier.
type Authorization struct {
	Identifier Identifier  `json:"identifier"`
	Status     string      `json:"status,omitempty"`  // "unknown", "pending", "valid" or "invalid"
	Expires    string      `json:"expires,omitempty"` // Expiry timestamp as sent by the CA (informational)
	Challenges []Challenge `json:"challenges,omitempty"`
}

// Artifacts holds the PEM material produced by one successful issuance.
type Artifacts struct {
	CertPEM      []byte // Leaf certificate
	ChainPEM     []byte // Intermediates in fetch order, may be empty
	FullchainPEM []byte // Leaf followed by intermediates
}

// IssuanceRecord describes one completed issuance run (archive model).
type IssuanceRecord struct {
	ID             string    `db:"id"`              // Run identifier (UUID)
	PrimaryDomain  string    `db:"primary_domain"`  // First domain of the batch, owns the artifact directory
	Domains        []string  `db:"domains"`         // Full domain list in request order
	StartedAt      time.Time `db:"started_at"`      // Timestamp the run began
	CompletedAt    time.Time `db:"completed_at"`    // Timestamp the artifacts were persisted
	CertificateURL string    `db:"certificate_url"` // Certificate resource location at the CA
	CertPEM        string    `db:"certificate_pem"`
	ChainPEM       string    `db:"chain_pem"`
	FullchainPEM   string    `db:"fullchain_pem"`
}
