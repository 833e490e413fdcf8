package orchestrator

import (
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/progress"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// RequiredConfig contains the components a Service cannot run without.
type RequiredConfig struct {
	// Store is the authoritative task store.
	Store *taskstore.Store
	// Registry supplies models for selection.
	Registry *registry.Registry
	// Ledger is where workers report progress.
	Ledger *progress.Ledger
}

// CleanupRecorder keeps a history of reclamation runs.
type CleanupRecorder interface {
	RecordCleanupRun(run state.CleanupRun) (int64, error)
}

// Defaults are the values used when a request leaves a field unset.
type Defaults struct {
	Subtasks         int
	Priority         models.Priority
	StepEstimate     time.Duration
	Difficulty       registry.Difficulty
	Cost             registry.CostPreference
	TimeoutThreshold time.Duration
	MaxAge           time.Duration
	ZombieGrace      time.Duration
}

// DefaultsFromConfig reads request defaults from cfg.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		Subtasks:         cfg.Orchestrate.DefaultSubtasks,
		Priority:         models.Priority(cfg.Orchestrate.DefaultPriority),
		StepEstimate:     cfg.Orchestrate.StepEstimate,
		Difficulty:       registry.Difficulty(cfg.Selection.Difficulty),
		Cost:             registry.CostPreference(cfg.Selection.Cost),
		TimeoutThreshold: cfg.Timeouts.Threshold,
		MaxAge:           cfg.Cleanup.MaxAge,
		ZombieGrace:      cfg.Cleanup.ZombieGrace,
	}
}

// Option configures a Service. Use With* functions to create Options.
type Option func(*serviceOptions)

type serviceOptions struct {
	caps     capability.Set
	activity *activity.Log
	archive  CleanupRecorder
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time
	defaults Defaults
}

// WithCapabilities sets the external collaborators available in this host.
func WithCapabilities(caps capability.Set) Option {
	return func(o *serviceOptions) { o.caps = caps }
}

// WithActivityLog sets the audit trail.
func WithActivityLog(l *activity.Log) Option {
	return func(o *serviceOptions) { o.activity = l }
}

// WithCleanupRecorder records every mutating cleanup run.
func WithCleanupRecorder(r CleanupRecorder) Option {
	return func(o *serviceOptions) { o.archive = r }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithClock overrides the time source. It should match the store's clock.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithDefaults overrides the request defaults.
func WithDefaults(d Defaults) Option {
	return func(o *serviceOptions) { o.defaults = d }
}
