package certconfig

import "time"

// Config is the configuration of the certificate authority service
type Config struct {
	Development bool

	// AuthorityPort is the listen port of the HTTP service
	AuthorityPort string
	// AuthorityURL is the public URL of the HTTP service
	AuthorityURL string
	// Issuer is the domain the authority signs certificates as
	Issuer string

	DatabasePath string
	// KeyFile holds the PEM signing key; it is created when missing
	KeyFile string
	// TrustFile optionally lists additional trusted roots (YAML)
	TrustFile string

	// CertValidity is the default lifetime of issued certificates
	CertValidity time.Duration
	// MaxCertValidity caps the lifetime a caller may ask for
	MaxCertValidity time.Duration
	// RootCacheTTL is how long roots read from the database are remembered
	RootCacheTTL time.Duration
}

// Defaults fills unset durations
func (c *Config) Defaults() {
	if c.CertValidity <= 0 {
		c.CertValidity = 24 * time.Hour
	}
	if c.MaxCertValidity <= 0 {
		c.MaxCertValidity = 30 * 24 * time.Hour
	}
	if c.RootCacheTTL <= 0 {
		c.RootCacheTTL = 5 * time.Minute
	}
}
