package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Night     NightConfig     `koanf:"night"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Oracle    OracleConfig    `koanf:"oracle"`
	Firewall  FirewallConfig  `koanf:"firewall"`
	Focus     FocusConfig     `koanf:"focus"`
	Protocol  ProtocolConfig  `koanf:"protocol"`
	Watchdog  WatchdogConfig  `koanf:"watchdog"`
	Outcomes  OutcomesConfig  `koanf:"outcomes"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type NightConfig struct {
	StartHour int `koanf:"start_hour"`
	EndHour   int `koanf:"end_hour"`
}

type RateLimitConfig struct {
	Window string `koanf:"window"`
	Max    int    `koanf:"max"`
}

type SessionsConfig struct {
	IdleTTL string `koanf:"idle_ttl"`
}

type OracleConfig struct {
	Provider       string    `koanf:"provider"`
	Model          string    `koanf:"model"`
	APIKey         string    `koanf:"api_key"`
	RequestTimeout string    `koanf:"request_timeout"`
	DNS            DNSConfig `koanf:"dns"`
}

// DNSConfig controls the pinned-resolver transport used to reach the oracle
// while the gatekeeper's own DNS hijacking is active.
type DNSConfig struct {
	Server   string `koanf:"server"`
	CacheTTL string `koanf:"cache_ttl"`
}

type FirewallConfig struct {
	Enabled        bool   `koanf:"enabled"`
	LANInterface   string `koanf:"lan_interface"`
	WANInterface   string `koanf:"wan_interface"`
	GatewayIP      string `koanf:"gateway_ip"`
	PortalPort     int    `koanf:"portal_port"`
	CommandTimeout string `koanf:"command_timeout"`
}

type FocusConfig struct {
	Domains         []string `koanf:"domains"`
	DefaultDuration string   `koanf:"default_duration"`
}

type ProtocolConfig struct {
	MaxClarifications  int    `koanf:"max_clarifications"`
	MinGrantMinutes    int    `koanf:"min_grant_minutes"`
	MaxGrantMinutes    int    `koanf:"max_grant_minutes"`
	HistoryContextSize int    `koanf:"history_context_size"`
	DayChatModel       string `koanf:"daychat_model"`
}

type WatchdogConfig struct {
	Interval        string `koanf:"interval"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type OutcomesConfig struct {
	Path string `koanf:"path"`
}

const (
	DefaultServerPort            = 2050
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "30s"
	DefaultServerWriteTimeout    = "60s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"
	DefaultNightStartHour        = 21
	DefaultNightEndHour          = 5
	DefaultRateLimitWindow       = "300s"
	DefaultRateLimitMax          = 10
	DefaultSessionIdleTTL        = "6h"
	DefaultOracleProvider        = "gemini"
	DefaultOracleModel           = "gemma-3-27b-it"
	DefaultOracleRequestTimeout  = "30s"
	DefaultOracleDNSServer       = "8.8.8.8:53"
	DefaultOracleDNSCacheTTL     = "5m"
	DefaultLANInterface          = "br-lan"
	DefaultWANInterface          = "eth0"
	DefaultGatewayIP             = "192.168.8.1"
	DefaultFirewallTimeout       = "15s"
	DefaultFocusDuration         = "1h"
	DefaultMaxClarifications     = 3
	DefaultMinGrantMinutes       = 1
	DefaultMaxGrantMinutes       = 120
	DefaultHistoryContextSize    = 10
	DefaultWatchdogInterval      = "30s"
	DefaultWatchdogShutdown      = "10s"
	DefaultOutcomesPath          = "/tmp/nightgate_requests.json"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                   DefaultServerPort,
		"server.log_level":              DefaultServerLogLevel,
		"server.read_timeout":           DefaultServerReadTimeout,
		"server.write_timeout":          DefaultServerWriteTimeout,
		"server.idle_timeout":           DefaultServerIdleTimeout,
		"server.shutdown_timeout":       DefaultServerShutdownTimeout,
		"night.start_hour":              DefaultNightStartHour,
		"night.end_hour":                DefaultNightEndHour,
		"rate_limit.window":             DefaultRateLimitWindow,
		"rate_limit.max":                DefaultRateLimitMax,
		"sessions.idle_ttl":             DefaultSessionIdleTTL,
		"oracle.provider":               DefaultOracleProvider,
		"oracle.model":                  DefaultOracleModel,
		"oracle.request_timeout":        DefaultOracleRequestTimeout,
		"oracle.dns.server":             DefaultOracleDNSServer,
		"oracle.dns.cache_ttl":          DefaultOracleDNSCacheTTL,
		"firewall.enabled":              true,
		"firewall.lan_interface":        DefaultLANInterface,
		"firewall.wan_interface":        DefaultWANInterface,
		"firewall.gateway_ip":           DefaultGatewayIP,
		"firewall.portal_port":          DefaultServerPort,
		"firewall.command_timeout":      DefaultFirewallTimeout,
		"focus.domains":                 []string{},
		"focus.default_duration":        DefaultFocusDuration,
		"protocol.max_clarifications":   DefaultMaxClarifications,
		"protocol.min_grant_minutes":    DefaultMinGrantMinutes,
		"protocol.max_grant_minutes":    DefaultMaxGrantMinutes,
		"protocol.history_context_size": DefaultHistoryContextSize,
		"protocol.daychat_model":        "",
		"watchdog.interval":             DefaultWatchdogInterval,
		"watchdog.shutdown_timeout":     DefaultWatchdogShutdown,
		"outcomes.path":                 DefaultOutcomesPath,
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
		defaultPath := filepath.Join("/etc", "nightgate", "config.yaml")
		if err := k.Load(file.Provider(defaultPath), yaml.Parser()); err != nil {
			slog.Debug("Default config not found or invalid", "path", defaultPath, "error", err)
		}
	}

	// Environment Variables
	k.Load(env.Provider("NIGHTGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "NIGHTGATE_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if cfg.Oracle.APIKey == "" {
		switch cfg.Oracle.Provider {
		case "openai":
			cfg.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	return &cfg, nil
}
