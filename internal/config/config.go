package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nebulaforge/forge/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Daemon    DaemonConfig    `koanf:"daemon"`
	Store     StoreConfig     `koanf:"store"`
	Session   SessionConfig   `koanf:"session"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Engine    EngineConfig    `koanf:"engine"`
	Exporter  ExporterConfig  `koanf:"exporter"`
	Simulator SimulatorConfig `koanf:"simulator"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	PreflightTimeout       string `koanf:"preflight_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
	WorkspacePath          string `koanf:"workspace_path"`
}

type StoreConfig struct {
	LockTimeout          string `koanf:"lock_timeout"`
	LockRetry            string `koanf:"lock_retry"`
	LockMaxRetry         int    `koanf:"lock_max_retry"`
	InboxSize            int    `koanf:"inbox_size"`
	JournalRotateMaxByte int64  `koanf:"journal_rotate_max_bytes"`
}

type SessionConfig struct {
	AuthLatencyMin string `koanf:"auth_latency_min"`
	AuthLatencyMax string `koanf:"auth_latency_max"`
}

type CatalogConfig struct {
	Path string `koanf:"path"`
}

type EngineConfig struct {
	MaxRetained   int     `koanf:"max_retained"`
	LatencyMin    string  `koanf:"latency_min"`
	LatencyMax    string  `koanf:"latency_max"`
	FailureRate   float64 `koanf:"failure_rate"`
	SettleTimeout string  `koanf:"settle_timeout"`
}

type ExporterConfig struct {
	StageLatencyMin string `koanf:"stage_latency_min"`
	StageLatencyMax string `koanf:"stage_latency_max"`
}

type SimulatorConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Schedule        string `koanf:"schedule"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

const (
	DefaultWorkspaceID             = "default"
	DefaultServerPort              = 8080
	DefaultServerLogLevel          = "info"
	DefaultServerReadTimeout       = "10s"
	DefaultServerWriteTimeout      = "10s"
	DefaultServerIdleTimeout       = "60s"
	DefaultServerShutdownTimeout   = "5s"
	DefaultDaemonShutdownTimeout   = "30s"
	DefaultDaemonHealthInterval    = "30s"
	DefaultDaemonStartupShutdown   = "10s"
	DefaultDaemonPreflightTimeout  = "10s"
	DefaultDaemonStaleLockTTL      = "15m"
	DefaultStoreLockTimeout        = "30s"
	DefaultStoreLockRetry          = "100ms"
	DefaultStoreLockMaxRetry       = 300
	DefaultStoreInboxSize          = 100
	DefaultStoreJournalRotateBytes = 10 * 1024 * 1024
	DefaultSessionAuthLatencyMin   = "400ms"
	DefaultSessionAuthLatencyMax   = "1200ms"
	DefaultEngineMaxRetained       = 512
	DefaultEngineLatencyMin        = "500ms"
	DefaultEngineLatencyMax        = "2500ms"
	DefaultEngineFailureRate       = 0.08
	DefaultEngineSettleTimeout     = "30s"
	DefaultExporterStageLatencyMin = "300ms"
	DefaultExporterStageLatencyMax = "1500ms"
	DefaultSimulatorEnabled        = true
	DefaultSimulatorSchedule       = "@every 30s"
	DefaultSimulatorShutdown       = "5s"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                      DefaultServerPort,
		"server.log_level":                 DefaultServerLogLevel,
		"server.read_timeout":              DefaultServerReadTimeout,
		"server.write_timeout":             DefaultServerWriteTimeout,
		"server.idle_timeout":              DefaultServerIdleTimeout,
		"server.shutdown_timeout":          DefaultServerShutdownTimeout,
		"daemon.shutdown_timeout":          DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":     DefaultDaemonHealthInterval,
		"daemon.startup_shutdown_timeout":  DefaultDaemonStartupShutdown,
		"daemon.preflight_timeout":         DefaultDaemonPreflightTimeout,
		"daemon.stale_lock_ttl":            DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":            filepath.Join(os.Getenv("HOME"), ".nebulaforge", "workspaces"),
		"store.lock_timeout":               DefaultStoreLockTimeout,
		"store.lock_retry":                 DefaultStoreLockRetry,
		"store.lock_max_retry":             DefaultStoreLockMaxRetry,
		"store.inbox_size":                 DefaultStoreInboxSize,
		"store.journal_rotate_max_bytes":   DefaultStoreJournalRotateBytes,
		"session.auth_latency_min":         DefaultSessionAuthLatencyMin,
		"session.auth_latency_max":         DefaultSessionAuthLatencyMax,
		"catalog.path":                     "",
		"engine.max_retained":              DefaultEngineMaxRetained,
		"engine.latency_min":               DefaultEngineLatencyMin,
		"engine.latency_max":               DefaultEngineLatencyMax,
		"engine.failure_rate":              DefaultEngineFailureRate,
		"engine.settle_timeout":            DefaultEngineSettleTimeout,
		"exporter.stage_latency_min":       DefaultExporterStageLatencyMin,
		"exporter.stage_latency_max":       DefaultExporterStageLatencyMax,
		"simulator.enabled":                DefaultSimulatorEnabled,
		"simulator.schedule":               DefaultSimulatorSchedule,
		"simulator.shutdown_timeout":       DefaultSimulatorShutdown,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".nebulaforge", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("FORGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FORGE_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := expandConfiguredPath(cfg.Daemon.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Daemon.WorkspacePath = workspacePath
	}

	catalogPath, err := expandConfiguredPath(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
