package cert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Principal is the subject claim of a certificate. A delegation principal
// names the domain of an intermediate authority (Host); a leaf principal
// names the authenticated identity (Email, or some other identity claim).
//
// A principal decoded from a certificate is kept as found. When the JSON
// holds anything the Email and Host fields cannot express (other claims,
// non-string values, or a value that is not an object at all) the original
// JSON is retained and written back unchanged.
//
// Nothing in parsing or chain verification checks the shape. Callers that
// drive decisions off it call Validate.
type Principal struct {
	Email string
	Host  string

	// raw is the principal JSON as found, empty when Email and Host say it all
	raw string
}

// Email returns a leaf principal for address.
func Email(address string) Principal { return Principal{Email: address} }

// Host returns a delegation principal for domain.
func Host(domain string) Principal { return Principal{Host: domain} }

// IsZero reports whether p carries no claim at all.
func (p Principal) IsZero() bool { return p.Email == "" && p.Host == "" && p.raw == "" }

// IsDelegation reports whether p names a sub-authority.
func (p Principal) IsDelegation() bool { return p.Host != "" && p.Email == "" }

// IsLeaf reports whether p names an end identity: an email, or other claims
// in an object without a host.
func (p Principal) IsLeaf() bool {
	if p.Host != "" {
		return false
	}
	if p.Email != "" {
		return true
	}
	claims, ok := p.Claims()
	return ok && len(claims) > 0
}

// Claims returns the members of the principal object. ok is false when the
// principal is not an object.
func (p Principal) Claims() (claims map[string]any, ok bool) {
	if p.raw == "" {
		claims = map[string]any{}
		if p.Email != "" {
			claims["email"] = p.Email
		}
		if p.Host != "" {
			claims["host"] = p.Host
		}
		return claims, true
	}
	if err := json.Unmarshal([]byte(p.raw), &claims); err != nil || claims == nil {
		return nil, false
	}
	return claims, true
}

// Validate checks that p is an object with exactly one of its two shapes
// and that the value looks like what it claims to be. Other claims next to
// the email or host are allowed.
func (p Principal) Validate() error {
	if p.raw != "" {
		var members map[string]json.RawMessage
		if err := json.Unmarshal([]byte(p.raw), &members); err != nil || members == nil {
			return fmt.Errorf("%w: not an object", ErrInvalidPrincipal)
		}
		for _, name := range []string{"email", "host"} {
			v, found := members[name]
			if !found {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil || s == "" {
				return fmt.Errorf("%w: %s is not a non-empty string", ErrInvalidPrincipal, name)
			}
		}
	}

	switch {
	case p.Email == "" && p.Host == "":
		return fmt.Errorf("%w: neither email nor host is set", ErrInvalidPrincipal)
	case p.Email != "" && p.Host != "":
		return fmt.Errorf("%w: both email and host are set", ErrInvalidPrincipal)
	case p.Email != "":
		at := strings.LastIndex(p.Email, "@")
		if at <= 0 || at == len(p.Email)-1 {
			return fmt.Errorf("%w: malformed email %q", ErrInvalidPrincipal, p.Email)
		}
	case strings.ContainsAny(p.Host, "@/ ") || strings.HasPrefix(p.Host, ".") || strings.HasSuffix(p.Host, "."):
		return fmt.Errorf("%w: malformed host %q", ErrInvalidPrincipal, p.Host)
	}
	return nil
}

// Domain is the domain a principal belongs to: the host itself, or the part
// of the email after the last @.
func (p Principal) Domain() string {
	if p.Host != "" {
		return p.Host
	}
	if at := strings.LastIndex(p.Email, "@"); at >= 0 {
		return p.Email[at+1:]
	}
	return ""
}

func (p Principal) String() string {
	switch {
	case p.raw != "":
		return p.raw
	case p.Email != "" && p.Host != "":
		return "email:" + p.Email + ",host:" + p.Host
	case p.Email != "":
		return "email:" + p.Email
	case p.Host != "":
		return "host:" + p.Host
	}
	return "<none>"
}

type plainPrincipal struct {
	Email string `json:"email,omitempty"`
	Host  string `json:"host,omitempty"`
}

// MarshalJSON writes the principal back as it was found, or as an object
// with the email and host members that are set.
func (p Principal) MarshalJSON() ([]byte, error) {
	if p.raw != "" {
		return []byte(p.raw), nil
	}
	return json.Marshal(plainPrincipal{Email: p.Email, Host: p.Host})
}

// UnmarshalJSON accepts any JSON value. String email and host members fill
// the typed fields; anything else keeps the original JSON alongside them.
func (p *Principal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	*p = Principal{}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil || members == nil {
		p.raw = compact.String()
		return nil
	}

	plain := true
	for name, v := range members {
		var s string
		switch name {
		case "email":
			if json.Unmarshal(v, &s) == nil && s != "" {
				p.Email = s
				continue
			}
		case "host":
			if json.Unmarshal(v, &s) == nil && s != "" {
				p.Host = s
				continue
			}
		}
		plain = false
	}
	if !plain {
		p.raw = compact.String()
	}
	return nil
}
