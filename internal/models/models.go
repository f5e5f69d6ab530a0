package models

import (
	"time"

	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// TrustedRoot is a root key trusted for certificates issued by Issuer
type TrustedRoot struct {
	Issuer    string              `json:"issuer" yaml:"issuer"`
	PublicKey pubkey.SimpleObject `json:"public-key" yaml:"public-key"`
	CreatedAt time.Time           `json:"created_at" yaml:"-"`
	UpdatedAt time.Time           `json:"updated_at" yaml:"-"`
}

// IssuedCertificate is the log entry of a certificate signed by the authority
type IssuedCertificate struct {
	ID        string         `json:"id"`
	Issuer    string         `json:"issuer"`
	Principal cert.Principal `json:"principal"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Token     string         `json:"certificate"`
}

// IssueRequest asks the authority to certify a public key
type IssueRequest struct {
	PublicKey pubkey.SimpleObject `json:"public-key"`
	Principal cert.Principal      `json:"principal"`
	// ValidFor is the lifetime in seconds; zero uses the configured default
	ValidFor int64 `json:"valid_for,omitempty"`
}

// IssueResponse carries a freshly signed certificate
type IssueResponse struct {
	ID          string    `json:"id"`
	Certificate string    `json:"certificate"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyRequest carries a serialized chain, root first
type VerifyRequest struct {
	Certificates []string `json:"certificates"`
	// At is the reference time in epoch milliseconds; zero or anything before now means now
	At int64 `json:"at,omitempty"`
}

// VerifyResponse is the authenticated outcome of a chain
type VerifyResponse struct {
	PublicKey pubkey.SimpleObject `json:"public-key"`
	Principal cert.Principal      `json:"principal"`
}

// AssertionRequest carries a backed assertion for a given audience
type AssertionRequest struct {
	Assertion string `json:"assertion"`
	Audience  string `json:"audience"`
	At        int64  `json:"at,omitempty"`
}

// AssertionResponse is the identity proven by a backed assertion
type AssertionResponse struct {
	Status    string    `json:"status"`
	Email     string    `json:"email"`
	Audience  string    `json:"audience"`
	Issuer    string    `json:"issuer"`
	ExpiresAt time.Time `json:"expires"`
}

// ErrorResponse is returned on every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
