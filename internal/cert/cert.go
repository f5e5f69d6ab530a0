// Package cert implements signed-assertion certificates. A certificate binds
// an issuer, a validity window, a subject public key and a principal, and is
// carried as the payload of a compact JWS envelope:
//
//	{"iss":"example.com","exp":1313971280961,"iat":1313971259361,
//	 "public-key":{"alg":"RS","value":"-----BEGIN PUBLIC KEY-----..."},
//	 "principal":{"email":"john@example.com"}}
//
// Certificates never point at each other. Chaining is positional and is the
// business of package chain.
package cert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/evidenceledger/jwcert/internal/envelope"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

var (
	ErrMalformedPayload = errors.New("malformed certificate payload")
	ErrMissingExpiry    = errors.New("certificate has no expiry")
	ErrInvalidKey       = errors.New("invalid certificate key")
	ErrMissingIssuer    = errors.New("certificate has no issuer")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

// Certificate is immutable once built by New, Parse or DeserializePayload.
type Certificate struct {
	issuer    string
	issuedAt  time.Time
	expires   time.Time
	key       pubkey.PublicKey
	principal Principal

	// raw is the envelope the certificate was parsed from, empty for
	// certificates built locally.
	raw string
}

// New builds a certificate for issuing. A zero issuedAt means the
// certificate has no start of validity. Times are kept to the millisecond,
// which is the precision of the wire format.
func New(issuer string, issuedAt, expires time.Time, key pubkey.PublicKey, principal Principal) (*Certificate, error) {
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	if expires.IsZero() {
		return nil, ErrMissingExpiry
	}
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	c := &Certificate{
		issuer:    issuer,
		expires:   truncate(expires),
		key:       key,
		principal: principal,
	}
	if !issuedAt.IsZero() {
		c.issuedAt = truncate(issuedAt)
	}
	return c, nil
}

func (c *Certificate) Issuer() string { return c.issuer }

func (c *Certificate) Expires() time.Time { return c.expires }

func (c *Certificate) PublicKey() pubkey.PublicKey { return c.key }

func (c *Certificate) Principal() Principal { return c.principal }

// IssuedAt returns the start of validity and whether one was set.
func (c *Certificate) IssuedAt() (time.Time, bool) {
	return c.issuedAt, !c.issuedAt.IsZero()
}

// Raw returns the serialized envelope a parsed certificate came from.
func (c *Certificate) Raw() string { return c.raw }

// ExpiredAt reports whether the certificate is no longer valid at t. A
// certificate expires at the instant of its exp claim.
func (c *Certificate) ExpiredAt(t time.Time) bool {
	return !t.Before(c.expires)
}

// payload fixes the field order of the signed content.
type payload struct {
	Issuer    string               `json:"iss"`
	Expires   *millis              `json:"exp"`
	IssuedAt  *millis              `json:"iat"`
	PublicKey *pubkey.SimpleObject `json:"public-key"`
	Principal Principal            `json:"principal"`
}

// SerializePayload returns the canonical bytes that get signed. The output
// is deterministic for a given certificate.
func (c *Certificate) SerializePayload() ([]byte, error) {
	key, err := c.key.ToSimpleObject()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	p := payload{
		Issuer:    c.issuer,
		Expires:   toMillis(c.expires),
		IssuedAt:  toMillis(c.issuedAt),
		PublicKey: &key,
		Principal: c.principal,
	}
	return json.Marshal(p)
}

// DeserializePayload rebuilds a certificate from signed content. The
// principal is copied as found; its shape is not checked here.
func DeserializePayload(data []byte) (*Certificate, error) {
	var p payload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	if p.Issuer == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, ErrMissingIssuer)
	}
	if p.Expires == nil {
		return nil, ErrMissingExpiry
	}
	if p.PublicKey == nil {
		return nil, fmt.Errorf("%w: missing public-key", ErrInvalidKey)
	}
	key, err := pubkey.FromSimpleObject(*p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	c := &Certificate{
		issuer:    p.Issuer,
		expires:   p.Expires.toTime(),
		key:       key,
		principal: p.Principal,
	}
	if p.IssuedAt != nil {
		c.issuedAt = p.IssuedAt.toTime()
	}
	return c, nil
}

// Parse extracts the payload of a serialized certificate and deserializes
// it. The signature is not checked; call Verify with a candidate key.
func Parse(token string) (*Certificate, error) {
	env, err := envelope.Parse(token)
	if err != nil {
		return nil, err
	}
	c, err := DeserializePayload(env.Payload)
	if err != nil {
		return nil, err
	}
	c.raw = token
	return c, nil
}

// Sign serializes c and signs it with the issuer's private key.
func (c *Certificate) Sign(key pubkey.PrivateKey) (string, error) {
	return envelope.Sign(c, key)
}

// Verify reports whether the envelope c was parsed from is signed by key.
// Certificates that were not parsed from an envelope never verify.
func (c *Certificate) Verify(key pubkey.PublicKey) bool {
	if c.raw == "" {
		return false
	}
	return envelope.Verify(c.raw, key)
}

// millis is a timestamp in milliseconds since the epoch. Older issuers
// quote the number, so both forms are accepted on input. Values must be
// whole numbers within the range of a JavaScript Date.
type millis int64

// maxMillis bounds timestamps to ±100,000,000 days around the epoch.
const maxMillis = 8_640_000_000_000_000

func toMillis(t time.Time) *millis {
	if t.IsZero() {
		return nil
	}
	m := millis(t.UnixMilli())
	return &m
}

func (m millis) toTime() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

func (m *millis) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < -maxMillis || v > maxMillis {
			return fmt.Errorf("timestamp %s out of range", data)
		}
		*m = millis(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("timestamp %s is not a whole number of milliseconds", data)
	}
	if f < -maxMillis || f > maxMillis {
		return fmt.Errorf("timestamp %s out of range", data)
	}
	*m = millis(int64(f))
	return nil
}

func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
