// Command authctl exercises the auth SDK against a running portal backend:
// it logs in, prints the resulting session, and logs out again. Useful as a
// smoke test for backend deployments and as a worked example of wiring the
// Manager.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pavilionhq/authkit/pkg/authsdk"
	"github.com/pavilionhq/authkit/pkg/slogx"
	"github.com/pavilionhq/authkit/pkg/storage"
)

func main() {
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	flag.Parse()

	if *email == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := authsdk.LoadConfig()
	if cfg.BaseURL == "" {
		log.Fatal("AUTHKIT_BASE_URL is required")
	}

	logger := slogx.New(slogx.Config{
		Service: "authctl",
		Version: "dev",
		Env:     getEnvOrDefault("AUTHKIT_ENV", "dev"),
		Level:   getEnvOrDefault("AUTHKIT_LOG_LEVEL", "info"),
		Format:  getEnvOrDefault("AUTHKIT_LOG_FORMAT", "text"),
	})

	backend, err := openBackend()
	if err != nil {
		log.Fatalf("failed to open storage backend: %v", err)
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, backend, logger, authsdk.Credentials{Email: *email, Password: *password}); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg authsdk.Config, backend storage.Backend, logger *slog.Logger, creds authsdk.Credentials) error {
	mgr, err := authsdk.New(cfg, backend, logger)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer mgr.Close()

	cancel := mgr.Subscribe(func(s authsdk.State) {
		logger.Debug("auth state changed",
			"authenticated", s.Authenticated,
			"loading", s.Loading,
			"error", s.Err,
		)
	})
	defer cancel()

	mgr.Initialize(ctx)

	if err := mgr.Login(ctx, creds); err != nil {
		return fmt.Errorf("login failed: %s", mgr.State().Err)
	}

	state := mgr.State()
	out, err := json.MarshalIndent(struct {
		User      *authsdk.User `json:"user"`
		TokenType string        `json:"tokenType"`
		ExpiresIn int           `json:"expiresIn"`
	}{
		User:      state.User,
		TokenType: state.Tokens.TokenType,
		ExpiresIn: state.Tokens.ExpiresIn,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return mgr.Logout(ctx)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openBackend picks the storage backend from AUTHKIT_STORAGE: "memory"
// (default), "sqlite" with AUTHKIT_SQLITE_PATH, or "redis" with
// AUTHKIT_REDIS_URL.
func openBackend() (storage.Backend, error) {
	switch getEnvOrDefault("AUTHKIT_STORAGE", "memory") {
	case "sqlite":
		return storage.NewSQLite(getEnvOrDefault("AUTHKIT_SQLITE_PATH", "authkit.db"))
	case "redis":
		return storage.NewRedis(getEnvOrDefault("AUTHKIT_REDIS_URL", "redis://localhost:6379/0"), "authkit")
	default:
		return storage.NewMemory(), nil
	}
}
