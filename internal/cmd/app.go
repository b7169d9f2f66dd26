package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/arbiter/internal/config"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/gitops"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/telemetry"
)

// app holds what every command builds from the effective configuration.
type app struct {
	cfg      *config.Config
	repoDir  string
	stateDir string
	logger   *logging.Logger
	bus      *event.Bus
	store    *knowledge.FileStore
	repo     *gitops.Repo
}

// loadApp resolves the repository and state directory, opens the log file
// and initializes telemetry. The returned close function must be called.
func loadApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	repoDir := cfg.Merge.RepoDir
	if repoDir == "" {
		if repoDir, err = os.Getwd(); err != nil {
			return nil, nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	if repoDir, err = filepath.Abs(repoDir); err != nil {
		return nil, nil, err
	}
	stateDir := cfg.Paths.ResolveStateDir(repoDir)

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		l, err := logging.NewLogger(logging.Options{
			Dir:   filepath.Join(stateDir, "logs"),
			Level: cfg.Logging.Level,
			Rotation: logging.RotationConfig{
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log: %w", err)
		}
		logger = l
	}

	if err := telemetry.Init(ctx, cfg.Telemetry, "arbiter", Version); err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}

	bus := event.NewBus(logger)
	a := &app{
		cfg:      cfg,
		repoDir:  repoDir,
		stateDir: stateDir,
		logger:   logger,
		bus:      bus,
		store:    knowledge.NewFileStore(stateDir, knowledge.WithLogger(logger), knowledge.WithBus(bus)),
		repo:     gitops.New(repoDir, gitops.WithLogger(logger)),
	}
	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
		_ = logger.Close()
	}
	return a, closeFn, nil
}
