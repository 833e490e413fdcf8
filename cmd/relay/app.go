package main

import (
	"fmt"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/exec"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/progress"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/taskstore"
)

// app is every component a command may need, wired from configuration.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *taskstore.Store
	registry *registry.Registry
	ledger   *progress.Ledger
	activity *activity.Log
	archive  *state.DB
	svc      *orchestrator.Service
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	return cfg, nil
}

// openApp loads configuration and opens every durable component.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.LogPath(), cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	if a.archive, err = state.OpenArchive(cfg.ArchivePath()); err != nil {
		a.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if a.store, err = taskstore.Open(cfg.TaskStoreDir(),
		taskstore.WithArchiver(a.archive),
		taskstore.WithLogger(log.WithComponent("taskstore")),
	); err != nil {
		a.Close()
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if a.registry, err = registry.Open(cfg.RegistryPath(), log.WithComponent("registry")); err != nil {
		a.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if a.ledger, err = progress.Open(cfg.ProgressDir(), progress.WithLogger(log.WithComponent("progress"))); err != nil {
		a.Close()
		return nil, fmt.Errorf("open progress ledger: %w", err)
	}
	if a.activity, err = activity.Open(cfg.ActivityLogPath(), log); err != nil {
		a.Close()
		return nil, fmt.Errorf("open activity log: %w", err)
	}

	caps, err := capability.NewCommandSet(cfg.Capabilities, exec.NewRunner(),
		capability.WithLogger(log.WithComponent("capability")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc, err = orchestrator.New(orchestrator.RequiredConfig{
		Store:    a.store,
		Registry: a.registry,
		Ledger:   a.ledger,
	},
		orchestrator.WithCapabilities(caps),
		orchestrator.WithActivityLog(a.activity),
		orchestrator.WithCleanupRecorder(a.archive),
		orchestrator.WithMetrics(metrics.Default()),
		orchestrator.WithLogger(log),
		orchestrator.WithDefaults(orchestrator.DefaultsFromConfig(cfg)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the archive and the log file.
func (a *app) Close() {
	if a.archive != nil {
		a.archive.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
