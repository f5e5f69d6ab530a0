package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evidenceledger/jwcert/internal/certconfig"
	"github.com/evidenceledger/jwcert/internal/server"
)

var (
	adminPassword   string
	authorityPort   string
	authorityURL    string
	issuer          string
	databasePath    string
	keyFile         string
	trustFile       string
	certValidity    time.Duration
	maxCertValidity time.Duration
	development     bool
)

func main() {
	// The password for the admin API
	flag.StringVar(&adminPassword, "admin-password", "", "Admin password for the server")

	// The URL and port of the authority, and the issuer name it signs as
	flag.StringVar(&authorityPort, "port", "8090", "Port for the authority server")
	flag.StringVar(&authorityURL, "url", "", "Public URL of the authority server")
	flag.StringVar(&issuer, "issuer", "", "Issuer domain written into certificates")

	// Storage
	flag.StringVar(&databasePath, "db", "./data/jwcert.db", "SQLite database path")
	flag.StringVar(&keyFile, "key", "./data/root.pem", "PEM signing key, created when missing")
	flag.StringVar(&trustFile, "trust", "", "YAML file with additional trusted roots")

	flag.DurationVar(&certValidity, "validity", 24*time.Hour, "Default lifetime of issued certificates")
	flag.DurationVar(&maxCertValidity, "max-validity", 30*24*time.Hour, "Longest lifetime a caller may request")
	flag.BoolVar(&development, "dev", false, "Development mode")

	flag.Parse()

	// Initialize logging
	level := slog.LevelInfo
	if development {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Get admin password from command line (priority) or environment variable
	if adminPassword == "" {
		adminPassword = os.Getenv("JWCERT_ADMIN_PASSWORD")
		if adminPassword == "" {
			slog.Error("Admin password required. Set JWCERT_ADMIN_PASSWORD environment variable")
			os.Exit(1)
		}
	}

	if authorityURL == "" {
		authorityURL = os.Getenv("JWCERT_URL")
		if authorityURL == "" {
			authorityURL = "http://localhost:" + authorityPort
		}
	}

	if issuer == "" {
		issuer = os.Getenv("JWCERT_ISSUER")
		if issuer == "" {
			slog.Error("Issuer required. Set JWCERT_ISSUER environment variable")
			os.Exit(1)
		}
	}

	if trustFile == "" {
		trustFile = os.Getenv("JWCERT_TRUST_FILE")
	}

	// Create the configuration
	cfg := certconfig.Config{
		Development:     development,
		AuthorityPort:   authorityPort,
		AuthorityURL:    authorityURL,
		Issuer:          issuer,
		DatabasePath:    databasePath,
		KeyFile:         keyFile,
		TrustFile:       trustFile,
		CertValidity:    certValidity,
		MaxCertValidity: maxCertValidity,
	}

	// Create the main server. The database and key are opened on Start.
	srv := server.New(adminPassword, cfg)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received")
		cancel()
	}()

	// Start server
	if err := srv.Start(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
