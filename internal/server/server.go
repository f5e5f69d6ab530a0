package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/evidenceledger/jwcert/internal/authority"
	"github.com/evidenceledger/jwcert/internal/certconfig"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/database"
	"github.com/evidenceledger/jwcert/internal/errl"
	"github.com/evidenceledger/jwcert/internal/pubkey"
	"github.com/evidenceledger/jwcert/internal/trust"
)

// CleanupInterval is how often expired entries are removed from the
// issued certificate log
const CleanupInterval = time.Hour

// Server wires the database, the signing key and the authority service
type Server struct {
	cfg     certconfig.Config
	adminPW string
	db      *database.Database
	auth    *authority.Server
}

// New creates a new server instance. Nothing is opened until Start.
func New(adminPassword string, cfg certconfig.Config) *Server {
	cfg.Defaults()
	return &Server{
		cfg:     cfg,
		adminPW: adminPassword,
		db:      database.New(cfg.DatabasePath),
	}
}

// Start opens the database, loads the signing key and trusted roots, and
// runs the authority until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.db.Close()

	key, err := LoadOrCreateKey(s.cfg.KeyFile, pubkey.AlgEC)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	var extra chain.RootResolver
	if s.cfg.TrustFile != "" {
		roots, err := trust.LoadFile(s.cfg.TrustFile)
		if err != nil {
			return fmt.Errorf("failed to load trusted roots: %w", err)
		}
		slog.Info("Loaded trusted roots", "file", s.cfg.TrustFile, "count", len(roots))
		extra = roots
	}

	s.auth, err = authority.New(s.db, key, extra, s.adminPW, s.cfg)
	if err != nil {
		return err
	}

	go s.cleanupLoop(ctx)

	slog.Info("Servers started",
		"authority_port", s.cfg.AuthorityPort,
		"authority_url", s.cfg.AuthorityURL,
		"issuer", s.cfg.Issuer,
		"database", s.cfg.DatabasePath)

	if err := s.auth.Start(ctx); err != nil {
		return fmt.Errorf("authority server failed: %w", err)
	}
	slog.Info("Shutting down servers")
	return nil
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.db.CleanupExpiredIssued(ctx, now)
			if err != nil {
				slog.Error("Failed to clean up issued certificates", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Removed expired certificates", "count", n)
			}
		}
	}
}

// LoadOrCreateKey reads a PEM private key from path. When the file does not
// exist a new key of type alg is generated and written there.
func LoadOrCreateKey(path string, alg string) (pubkey.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return pubkey.ParsePrivateKeyPEM(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return pubkey.PrivateKey{}, errl.Errorf("failed to read key file: %w", err)
	}

	key, err := pubkey.Generate(alg)
	if err != nil {
		return pubkey.PrivateKey{}, err
	}
	data, err = key.MarshalPEM()
	if err != nil {
		return pubkey.PrivateKey{}, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return pubkey.PrivateKey{}, errl.Errorf("failed to create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return pubkey.PrivateKey{}, errl.Errorf("failed to write key file: %w", err)
	}

	slog.Info("Generated new signing key", "file", path, "alg", alg)
	return key, nil
}
