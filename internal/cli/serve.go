package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rakha/ingat/internal/config"
	"github.com/rakha/ingat/internal/logger"
	"github.com/rakha/ingat/pkg/gateway"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache daemon",
	Long: `Run the cache daemon: the gateway API for turn handling and
management, scheduled retention cleanup, and config hot reload.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Cache.Enabled {
		return fmt.Errorf("cache is disabled in config (cache.enabled)")
	}
	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is required to serve")
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	manager, st, err := openManager(cfg, zl)
	if err != nil {
		return err
	}
	defer st.Close()
	defer manager.Close()

	// Scheduled retention cleanup; restarted on config reload.
	var scheduleMu sync.Mutex
	var stopCleanup func()
	startCleanup := func(c *config.Config) error {
		scheduleMu.Lock()
		defer scheduleMu.Unlock()
		if stopCleanup != nil {
			stopCleanup()
			stopCleanup = nil
		}
		if c.Cache.CleanupSchedule == "" {
			return nil
		}
		stop, err := manager.ScheduleCleanup(c.Cache.CleanupSchedule, c.Cache.RetentionDays)
		if err != nil {
			return err
		}
		stopCleanup = stop
		return nil
	}
	if err := startCleanup(cfg); err != nil {
		return err
	}
	defer func() {
		scheduleMu.Lock()
		defer scheduleMu.Unlock()
		if stopCleanup != nil {
			stopCleanup()
		}
	}()

	// Hot-apply the reloadable tunables: log level and the cleanup
	// schedule. Everything else needs a restart.
	loader := config.NewLoader(cfgFile)
	watcher, err := config.NewWatcher(loader, zl, func(next *config.Config) {
		if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		if err := startCleanup(next); err != nil {
			zl.Error().Err(err).Msg("Failed to apply reloaded cleanup schedule")
		}
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, continuing without hot reload")
	} else {
		defer watcher.Stop()
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:          cfg.Gateway.Host,
		Port:          cfg.Gateway.Port,
		SharedSecret:  cfg.Gateway.SharedSecret,
		Manager:       manager,
		RetentionDays: cfg.Cache.RetentionDays,
		Logger:        zl,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error().Err(err).Msg("Gateway shutdown failed")
	}

	return nil
}
