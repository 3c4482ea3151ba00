package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/droverhq/drover/internal/util"
)

// DefaultConfigPath is the operator-level TOML config location.
const DefaultConfigPath = "~/.config/drover/config.toml"

// Config is the operator-level configuration, loaded from TOML and then
// overlaid with environment variables. Project-level tunables live in the
// thresholds conf instead; this covers service endpoints and client policy.
type Config struct {
	// MailServer is the agent-mail base URL.
	MailServer string `toml:"mail_server"`

	// MailToken is the bearer token for the mail service.
	MailToken string `toml:"mail_token"`

	// SenderName overrides the registered sender for cross-project sends.
	SenderName string `toml:"sender_name"`

	// DefaultTTL is the reservation TTL in seconds.
	DefaultTTL int `toml:"default_ttl"`

	// TTLWarnThreshold is the remaining-seconds level at which expiring
	// reservations are reported.
	TTLWarnThreshold int `toml:"ttl_warn_threshold"`

	// AutoReleaseOwnStale releases the caller's overlapping older
	// reservations before re-reserving.
	AutoReleaseOwnStale bool `toml:"auto_release_own_stale"`

	// BypassReservation disables reservation enforcement client-side.
	BypassReservation bool `toml:"bypass_reservation"`

	// SpawnDelay is the pause between consecutive agent spawns.
	SpawnDelay time.Duration `toml:"spawn_delay"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MailServer:       "http://127.0.0.1:8765/mcp/",
		DefaultTTL:       1800,
		TTLWarnThreshold: 900,
		SpawnDelay:       2 * time.Second,
	}
}

// Load reads the TOML config (missing file is fine) and applies environment
// overrides. Environment always wins over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = util.ExpandPath(DefaultConfigPath)
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 1800
	}
	if cfg.TTLWarnThreshold <= 0 {
		cfg.TTLWarnThreshold = 900
	}
	if cfg.SpawnDelay <= 0 {
		cfg.SpawnDelay = 2 * time.Second
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MAIL_SERVER"); v != "" {
		c.MailServer = v
	}
	if v := os.Getenv("MAIL_SENDER_NAME"); v != "" {
		c.SenderName = v
	}
	if v := os.Getenv("DEFAULT_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.DefaultTTL = n
		}
	}
	if v := os.Getenv("TTL_WARN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TTLWarnThreshold = n
		}
	}
	if v := os.Getenv("AUTO_RELEASE_OWN_STALE"); v != "" {
		c.AutoReleaseOwnStale = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("BYPASS_RESERVATION"); v != "" {
		c.BypassReservation = v == "1" || v == "true" || v == "yes"
	}
}

// ProjectKey resolves the project key: PROJECT_KEY env, else the given root,
// else the working directory.
func ProjectKey(root string) string {
	if v := os.Getenv("PROJECT_KEY"); v != "" {
		return v
	}
	if root != "" {
		return root
	}
	wd, _ := os.Getwd()
	return wd
}

// AgentName resolves the caller's agent identity from the environment.
func AgentName() string {
	return os.Getenv("AGENT_NAME")
}
