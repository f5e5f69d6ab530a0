package trust

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"gopkg.in/yaml.v3"

	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// File is the YAML trust file layout:
//
//	roots:
//	  - issuer: example.com
//	    public-key:
//	      alg: ES
//	      value: |
//	        -----BEGIN PUBLIC KEY-----
//	        ...
//	  - issuer: other.org
//	    jwk: {kty: EC, crv: P-256, x: ..., y: ...}
type File struct {
	Roots []FileRoot `yaml:"roots"`
}

// FileRoot is one entry of a trust file. Exactly one of PublicKey and JWK
// is set.
type FileRoot struct {
	Issuer    string               `yaml:"issuer"`
	PublicKey *pubkey.SimpleObject `yaml:"public-key,omitempty"`
	JWK       map[string]any       `yaml:"jwk,omitempty"`
}

// LoadFile reads a trust file into a Static resolver.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes trust file content into a Static resolver.
func ParseFile(data []byte) (Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse trust file: %w", err)
	}

	roots := make(Static, len(f.Roots))
	for i, r := range f.Roots {
		if r.Issuer == "" {
			return nil, fmt.Errorf("trust file entry %d: missing issuer", i)
		}
		if _, dup := roots[r.Issuer]; dup {
			return nil, fmt.Errorf("trust file entry %d: duplicate issuer %q", i, r.Issuer)
		}
		key, err := r.key()
		if err != nil {
			return nil, fmt.Errorf("trust file entry %d (%s): %w", i, r.Issuer, err)
		}
		roots[r.Issuer] = key
	}
	return roots, nil
}

func (r FileRoot) key() (pubkey.PublicKey, error) {
	switch {
	case r.PublicKey != nil && r.JWK != nil:
		return pubkey.PublicKey{}, fmt.Errorf("both public-key and jwk are set")
	case r.PublicKey != nil:
		return pubkey.FromSimpleObject(*r.PublicKey)
	case r.JWK != nil:
		raw, err := json.Marshal(r.JWK)
		if err != nil {
			return pubkey.PublicKey{}, fmt.Errorf("failed to encode jwk: %w", err)
		}
		jk, err := jwk.ParseKey(raw)
		if err != nil {
			return pubkey.PublicKey{}, fmt.Errorf("failed to parse jwk: %w", err)
		}
		return pubkey.FromJWK(jk)
	}
	return pubkey.PublicKey{}, fmt.Errorf("no key given")
}

// MarshalFile renders roots as trust file content.
func MarshalFile(roots Static) ([]byte, error) {
	var f File
	for _, issuer := range slices.Sorted(maps.Keys(roots)) {
		key := roots[issuer]
		obj, err := key.ToSimpleObject()
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", issuer, err)
		}
		f.Roots = append(f.Roots, FileRoot{Issuer: issuer, PublicKey: &obj})
	}
	return yaml.Marshal(f)
}
