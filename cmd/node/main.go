// Command node runs a coordinator node: it serves the join protocol, plans
// artifacts into job DAGs, dispatches tasks to clients and workers over the
// signed HTTP API, and reclaims abandoned job leases.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "github.com/fedmesh/node/internal/app"
	"github.com/fedmesh/node/internal/config"
	"github.com/fedmesh/node/internal/httpapi"
	"github.com/fedmesh/node/internal/platform/database"
	"github.com/fedmesh/node/internal/platform/migrations"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/internal/storage/postgres"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8443)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rootCtx := context.Background()

	dsnVal := resolveDSN(*dsn, cfg)

	var (
		db     *sql.DB
		stores storage.Stores
	)
	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		stores = postgres.New(db)
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(cfg, stores, nil)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	httpService := httpapi.NewService(application.HTTPDeps(), listenAddr)
	application.Attach(httpService)

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Printf("node listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if addr := strings.TrimSpace(flagAddr); addr != "" {
		return addr
	}
	if cfg != nil && cfg.ListenAddr != "" {
		return cfg.ListenAddr
	}
	return ":8443"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxConnections > 0 {
		db.SetMaxOpenConns(cfg.DBMaxConnections)
	}
	if cfg.DBIdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.DBIdleTimeout)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.DatabaseDSN)
}
