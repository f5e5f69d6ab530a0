package authority

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/evidenceledger/jwcert/internal/certconfig"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/database"
	"github.com/evidenceledger/jwcert/internal/middleware"
	"github.com/evidenceledger/jwcert/internal/pubkey"
	"github.com/evidenceledger/jwcert/internal/trust"
)

// Server is the certificate authority HTTP service. It publishes its root
// key, signs certificates, and verifies chains and backed assertions
// against its own key plus the roots it has been told to trust.
type Server struct {
	cfg       certconfig.Config
	app       *fiber.App
	db        *database.Database
	adminAuth *middleware.AdminAuth
	key       pubkey.PrivateKey

	// storedRoots caches lookups in the trusted_roots table
	storedRoots *trust.Cached
	resolver    chain.RootResolver

	now func() time.Time
}

// New creates a new authority server. extraRoots, when not nil, is
// consulted after the authority's own key and before the database.
func New(db *database.Database, key pubkey.PrivateKey, extraRoots chain.RootResolver, adminPassword string, cfg certconfig.Config) (*Server, error) {
	cfg.Defaults()

	adminAuth, err := middleware.NewAdminAuth(adminPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin auth: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "JWCert Authority",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	storedRoots := trust.NewCached(trust.NewStore(db), cfg.RootCacheTTL)
	resolvers := trust.Multi{trust.Static{cfg.Issuer: key.Public()}}
	if extraRoots != nil {
		resolvers = append(resolvers, extraRoots)
	}
	resolvers = append(resolvers, storedRoots)

	s := &Server{
		cfg:         cfg,
		app:         app,
		db:          db,
		adminAuth:   adminAuth,
		key:         key,
		storedRoots: storedRoots,
		resolver:    resolvers,
		now:         time.Now,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes sets up all the server routes
func (s *Server) setupRoutes() {
	// Health check
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "issuer": s.cfg.Issuer})
	})

	// Root key publication
	s.app.Get("/.well-known/jwks.json", s.handleJWKS)
	s.app.Get("/.well-known/browserid", s.handleSupportDocument)

	// Verification is open to anyone
	s.app.Post("/certs/verify", s.handleVerifyChain)
	s.app.Post("/assertions/verify", s.handleVerifyAssertion)

	// Admin routes (protected)
	admin := s.app.Group("/admin")
	admin.Use(s.adminAuth.AuthMiddleware())

	admin.Post("/certs", s.handleIssue)
	admin.Get("/certs", s.handleListIssued)
	admin.Get("/certs/:id", s.handleGetIssued)

	admin.Get("/roots", s.handleListRoots)
	admin.Put("/roots/:issuer", s.handlePutRoot)
	admin.Delete("/roots/:issuer", s.handleDeleteRoot)
}

// Resolver is the root resolver the server verifies with
func (s *Server) Resolver() chain.RootResolver {
	return s.resolver
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {

	addr := net.JoinHostPort("0.0.0.0", s.cfg.AuthorityPort)
	slog.Info("Starting authority server", "addr", addr, "issuer", s.cfg.Issuer)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(addr); err != nil {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.app.Shutdown()
	}
}
