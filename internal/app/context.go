package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"memtech/internal/config"
	"memtech/internal/db"
	"memtech/internal/engine"
	"memtech/internal/migrate"
	"memtech/internal/session"
	"memtech/internal/storage"
)

// JWTSecretEnv overrides an empty auth.jwt_secret.
const JWTSecretEnv = "MEMTECH_JWT_SECRET"

// Runtime holds what a command needs to act on a workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *log.Logger

	closers []func() error
}

// Open opens the workspace database, applies migrations, wires file storage and seeds
// the document type catalog from config.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Logger: logger}
	rt.closers = append(rt.closers, conn.Close)
	if err := migrate.Migrate(conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	files, err := storage.New(cfg.Storage, cfg.StorageRoot(workspace))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Files = files
	e.Logger = logger
	if err := e.SeedDocumentTypes(ctx, cfg.Catalog.DocumentTypes); err != nil {
		rt.Close()
		return nil, fmt.Errorf("seed document types: %w", err)
	}
	rt.Engine = e
	return rt, nil
}

// Revoker returns the token revocation store: Redis when redis.url is set, process
// memory otherwise.
func (rt *Runtime) Revoker(ctx context.Context) (session.Revoker, error) {
	url := strings.TrimSpace(rt.Config.Redis.URL)
	if url == "" {
		return session.NewMemoryStore(), nil
	}
	store, err := session.NewRedisStore(ctx, url)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, store.Close)
	return store, nil
}

// JWTSecret resolves the signing secret from config, then the environment. When both
// are empty a random secret is generated; tokens then die with the process.
func (rt *Runtime) JWTSecret(getenv func(string) string) (string, error) {
	if s := strings.TrimSpace(rt.Config.Auth.JWTSecret); s != "" {
		return s, nil
	}
	if getenv != nil {
		if s := strings.TrimSpace(getenv(JWTSecretEnv)); s != "" {
			return s, nil
		}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	rt.Logger.Printf("warning: no jwt secret configured; set auth.jwt_secret or %s to keep sessions across restarts", JWTSecretEnv)
	return hex.EncodeToString(buf), nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
