// Package config loads <project>/.apex/config.yaml into a typed Config,
// following the teacher's YAML-resource parsing pattern (cmd/warren/apply.go)
// applied to a single daemon-wide document instead of per-resource manifests.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/joshuaaferguson/apex/pkg/log"
)

// ModeThresholds overrides the global limits for a single usage mode.
type ModeThresholds struct {
	MaxTokensPerTask   int64   `yaml:"maxTokensPerTask"`
	MaxCostPerTask     float64 `yaml:"maxCostPerTask"`
	MaxConcurrentTasks int     `yaml:"maxConcurrentTasks"`
}

// TimeBasedUsage configures day/night mode switching.
type TimeBasedUsage struct {
	Enabled            bool            `yaml:"enabled"`
	DayModeHours       []int           `yaml:"dayModeHours"`
	NightModeHours     []int           `yaml:"nightModeHours"`
	DayModeThresholds  *ModeThresholds `yaml:"dayModeThresholds"`
	NightModeThresholds *ModeThresholds `yaml:"nightModeThresholds"`
}

// SessionRecovery configures checkpoint/resume behavior.
type SessionRecovery struct {
	Enabled                       bool `yaml:"enabled"`
	AutoResume                    bool `yaml:"autoResume"`
	MaxResumeAttempts             int  `yaml:"maxResumeAttempts"`
	ContextSummarizationThreshold int  `yaml:"contextSummarizationThreshold"`
}

// OrphanDetection configures the C8 startup sweep.
type OrphanDetection struct {
	Enabled               bool   `yaml:"enabled"`
	StalenessThresholdMs  int64  `yaml:"stalenessThreshold"`
	RecoveryPolicy        string `yaml:"recoveryPolicy"`
	PeriodicCheck         bool   `yaml:"periodicCheck"`
	PeriodicCheckInterval int64  `yaml:"periodicCheckInterval"`
}

// HealthCheck configures the C4 liveness probe loop.
type HealthCheck struct {
	Enabled  bool  `yaml:"enabled"`
	Interval int64 `yaml:"interval"`
}

// Watchdog configures the C9 restart policy.
type Watchdog struct {
	Enabled      bool  `yaml:"enabled"`
	MaxRestarts  int   `yaml:"maxRestarts"`
	RestartDelay int64 `yaml:"restartDelay"`
	RestartWindow int64 `yaml:"restartWindow"`
}

// Metrics configures the Prometheus/health HTTP surface exposed by the
// supervisor (pkg/metrics).
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Daemon is the `daemon.*` key family.
type Daemon struct {
	PollIntervalMs  int64           `yaml:"pollIntervalMs"`
	InstallAsService bool           `yaml:"installAsService"`
	TimeBasedUsage  TimeBasedUsage  `yaml:"timeBasedUsage"`
	SessionRecovery SessionRecovery `yaml:"sessionRecovery"`
	OrphanDetection OrphanDetection `yaml:"orphanDetection"`
	HealthCheck     HealthCheck     `yaml:"healthCheck"`
	Watchdog        Watchdog        `yaml:"watchdog"`
	Metrics         Metrics         `yaml:"metrics"`
}

// Limits is the `limits.*` key family — global caps, overridden by
// mode-specific thresholds when present.
type Limits struct {
	MaxTokensPerTask   int64   `yaml:"maxTokensPerTask"`
	MaxCostPerTask     float64 `yaml:"maxCostPerTask"`
	MaxConcurrentTasks int     `yaml:"maxConcurrentTasks"`
	DailyBudget        float64 `yaml:"dailyBudget"`
}

// Config is the parsed document rooted at <project>/.apex/config.yaml.
type Config struct {
	Daemon Daemon `yaml:"daemon"`
	Limits Limits `yaml:"limits"`
}

// rawDoc decodes into a generic map first so unrecognized top-level keys
// can be reported, mirroring the teacher's getString/getInt helpers over a
// map[string]interface{} spec in cmd/warren/apply.go.
type rawDoc map[string]any

// Default returns the schema-default configuration (spec.md §6).
func Default() Config {
	return Config{
		Daemon: Daemon{
			PollIntervalMs: 1000,
			SessionRecovery: SessionRecovery{
				MaxResumeAttempts:             3,
				ContextSummarizationThreshold: 50,
			},
			OrphanDetection: OrphanDetection{
				Enabled:              true,
				StalenessThresholdMs: 3_600_000,
				RecoveryPolicy:       "pending",
			},
			HealthCheck: HealthCheck{
				Interval: 30000,
			},
			Watchdog: Watchdog{
				MaxRestarts:   5,
				RestartDelay:  5000,
				RestartWindow: 300_000,
			},
			Metrics: Metrics{
				Enabled: true,
				Addr:    "127.0.0.1:9090",
			},
		},
	}
}

var recognizedTopKeys = map[string]bool{"daemon": true, "limits": true}

var recognizedDaemonKeys = map[string]bool{
	"pollIntervalMs": true, "installAsService": true, "timeBasedUsage": true,
	"sessionRecovery": true, "orphanDetection": true, "healthCheck": true,
	"watchdog": true, "metrics": true,
}

var recognizedLimitsKeys = map[string]bool{
	"maxTokensPerTask": true, "maxCostPerTask": true,
	"maxConcurrentTasks": true, "dailyBudget": true,
}

// Load reads <project>/.apex/config.yaml. A missing or malformed file never
// fails startup: it logs a warning and falls back to Default() (spec.md §7
// Configuration error handling).
func Load(projectPath string) Config {
	cfg := Default()
	path := filepath.Join(projectPath, ".apex", "config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithComponent("config").Warn().Err(err).Str("path", path).
				Msg("failed to read config file, using defaults")
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.WithComponent("config").Warn().Err(err).Str("path", path).
			Msg("failed to parse config file, using defaults")
		return Default()
	}

	warnUnrecognizedKeys(data, path)
	applyZeroValueDefaults(&cfg)
	return cfg
}

// warnUnrecognizedKeys re-decodes into a raw map purely to flag keys the
// typed Config doesn't know about; it never affects the returned Config.
func warnUnrecognizedKeys(data []byte, path string) {
	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	logger := log.WithComponent("config")
	for k := range raw {
		if !recognizedTopKeys[k] {
			logger.Warn().Str("key", k).Str("path", path).Msg("ignoring unrecognized config key")
		}
	}
	if daemon, ok := raw["daemon"].(map[string]any); ok {
		for k := range daemon {
			if !recognizedDaemonKeys[k] {
				logger.Warn().Str("key", "daemon."+k).Str("path", path).Msg("ignoring unrecognized config key")
			}
		}
	}
	if limits, ok := raw["limits"].(map[string]any); ok {
		for k := range limits {
			if !recognizedLimitsKeys[k] {
				logger.Warn().Str("key", "limits."+k).Str("path", path).Msg("ignoring unrecognized config key")
			}
		}
	}
}

// applyZeroValueDefaults fills in defaults for fields a partial YAML
// document left at their zero value, so a config.yaml that only overrides
// one key doesn't silently zero out every other default.
func applyZeroValueDefaults(cfg *Config) {
	def := Default()
	if cfg.Daemon.PollIntervalMs == 0 {
		cfg.Daemon.PollIntervalMs = def.Daemon.PollIntervalMs
	}
	if cfg.Daemon.SessionRecovery.MaxResumeAttempts == 0 {
		cfg.Daemon.SessionRecovery.MaxResumeAttempts = def.Daemon.SessionRecovery.MaxResumeAttempts
	}
	if cfg.Daemon.SessionRecovery.ContextSummarizationThreshold == 0 {
		cfg.Daemon.SessionRecovery.ContextSummarizationThreshold = def.Daemon.SessionRecovery.ContextSummarizationThreshold
	}
	if cfg.Daemon.OrphanDetection.StalenessThresholdMs == 0 {
		cfg.Daemon.OrphanDetection.StalenessThresholdMs = def.Daemon.OrphanDetection.StalenessThresholdMs
	}
	if cfg.Daemon.OrphanDetection.RecoveryPolicy == "" {
		cfg.Daemon.OrphanDetection.RecoveryPolicy = def.Daemon.OrphanDetection.RecoveryPolicy
	}
	if cfg.Daemon.HealthCheck.Interval == 0 {
		cfg.Daemon.HealthCheck.Interval = def.Daemon.HealthCheck.Interval
	}
	if cfg.Daemon.Watchdog.MaxRestarts == 0 {
		cfg.Daemon.Watchdog.MaxRestarts = def.Daemon.Watchdog.MaxRestarts
	}
	if cfg.Daemon.Watchdog.RestartDelay == 0 {
		cfg.Daemon.Watchdog.RestartDelay = def.Daemon.Watchdog.RestartDelay
	}
	if cfg.Daemon.Watchdog.RestartWindow == 0 {
		cfg.Daemon.Watchdog.RestartWindow = def.Daemon.Watchdog.RestartWindow
	}
	if cfg.Daemon.Metrics.Addr == "" {
		cfg.Daemon.Metrics.Addr = def.Daemon.Metrics.Addr
	}
}
