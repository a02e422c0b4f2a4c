// Command budgeteer runs the offline-first sync core as a long-running
// process: it keeps the local store current, drains queued mutations, and
// reconciles conflicts against the remote service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/config"
	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/logging"
	"github.com/jtarver/budgeteer/internal/netmon"
	"github.com/jtarver/budgeteer/internal/remote"
	"github.com/jtarver/budgeteer/internal/store"
	syncmgr "github.com/jtarver/budgeteer/internal/sync"
	"github.com/jtarver/budgeteer/internal/sync/conflict"
	"github.com/jtarver/budgeteer/internal/sync/queue"
	"github.com/jtarver/budgeteer/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("budgeteer v%s\n", Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "budgeteer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	logger.Info().Str("version", Version).Msg("budgeteer starting")

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout, logger)
	q := queue.New(backend, logger)
	st := store.New(backend, svc, q, reg, logger)
	resolver := conflict.New(st, backend, reg, logger)
	manager := syncmgr.NewManager(st, q, svc, resolver, backend, reg, cfg.UserID, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := netmon.New(svc.Ping, cfg.Sync.ProbeInterval, logger)
	sched := scheduler.New(manager, monitor.Subscribe(), cfg.Sync.Interval, logger)

	monitor.Start(ctx)
	sched.Start(ctx)
	defer sched.Stop()
	defer monitor.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

// openBackend opens the configured storage engine. When SQLite cannot be
// opened, the flat-file store takes over with identical semantics, so a
// broken database never blocks local reads and writes.
func openBackend(cfg *config.Config, logger zerolog.Logger) (db.Backend, error) {
	if cfg.Storage == "file" {
		return db.OpenFileStore(cfg.DataDir)
	}

	sqlDB, err := db.Open(cfg.DataDir)
	if err == nil {
		if err := sqlDB.Migrate(cfg.TableNames()); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return sqlDB, nil
	}

	logger.Warn().Err(err).Msg("sqlite unavailable, falling back to flat-file store")
	return db.OpenFileStore(cfg.DataDir)
}
