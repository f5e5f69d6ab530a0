package chain

import (
	"time"

	"github.com/evidenceledger/jwcert/internal/cert"
	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// State is the accumulator of a chain walk.
type State struct {
	// TrustedKey is the key the next certificate must be signed with.
	TrustedKey pubkey.PublicKey
	// Principal is the principal of the last certificate walked.
	Principal cert.Principal

	SignatureOK bool
	Fresh       bool
}

// Start is the state before the first certificate: only the root key is
// trusted.
func Start(root pubkey.PublicKey) State {
	return State{TrustedKey: root, SignatureOK: true, Fresh: true}
}

// Step folds one certificate into s. An expired certificate is marked stale
// and its signature is not checked. Either way trust moves on to the
// certificate's own key, so the walk always reaches the end of the chain.
func Step(s State, c *cert.Certificate, at time.Time) State {
	if c.ExpiredAt(at) {
		s.Fresh = false
	} else if !c.Verify(s.TrustedKey) {
		s.SignatureOK = false
	}
	s.TrustedKey = c.PublicKey()
	s.Principal = c.Principal()
	return s
}

// Walk folds every certificate, in order, starting from root.
func Walk(certs []*cert.Certificate, root pubkey.PublicKey, at time.Time) State {
	s := Start(root)
	for _, c := range certs {
		s = Step(s, c, at)
	}
	return s
}

// Err reports the failure of a finished walk. A bad signature takes
// precedence over staleness.
func (s State) Err() error {
	switch {
	case !s.SignatureOK:
		return ErrBadSignature
	case !s.Fresh:
		return ErrExpiredCertificate
	}
	return nil
}

// Result is the key and principal reached by the walk. It is only
// meaningful when Err returns nil.
func (s State) Result() Result {
	return Result{PublicKey: s.TrustedKey, Principal: s.Principal}
}
