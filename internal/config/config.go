// Package config loads and validates jopper's configuration.
//
// Values are layered with viper: environment variables (JOPPER_* prefix)
// take precedence over the YAML config file, which takes precedence over
// defaults. The result is a single immutable Config value constructed once
// and passed into the engine and scheduler; nothing re-reads configuration
// at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Joplin holds source API settings.
type Joplin struct {
	Token string
	Host  string
	Port  int
}

// URL returns the Joplin Data API base URL.
func (j Joplin) URL() string {
	return fmt.Sprintf("http://%s:%d", j.Host, j.Port)
}

// OpenWebUI holds target API settings. CollectionID is optional; without it
// documents are uploaded but not linked into a collection.
type OpenWebUI struct {
	URL               string
	APIKey            string
	KnowledgeBaseName string
	CollectionID      string
}

// Sync holds reconciliation settings.
type Sync struct {
	// Mode is "all" or "tagged".
	Mode string

	// Tags qualifies notes when Mode is "tagged".
	Tags []string

	// Interval between scheduled cycles.
	Interval time.Duration

	// CallTimeout bounds each individual adapter call.
	CallTimeout time.Duration

	// Parallelism bounds concurrent create/update actions within a cycle.
	Parallelism int
}

// Config is the full application configuration.
type Config struct {
	Joplin        Joplin
	OpenWebUI     OpenWebUI
	Sync          Sync
	StateDBPath   string
	DashboardAddr string
	LogFile       string
}

// Load reads configuration from the given YAML file (or the default
// location when path is empty) and the JOPPER_* environment, validates it,
// and returns the frozen Config.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("joplin.host", "localhost")
	v.SetDefault("joplin.port", 41184)
	v.SetDefault("openwebui.knowledge_base_name", "Joplin Notes")
	v.SetDefault("sync.mode", "all")
	v.SetDefault("sync.interval_minutes", 60)
	v.SetDefault("sync.call_timeout_seconds", 30)
	v.SetDefault("sync.parallelism", 4)
	v.SetDefault("state_db_path", defaultStatePath())

	v.SetEnvPrefix("jopper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("JOPPER_CONFIG_FILE")
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "jopper", "config.yaml")
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing or unreadable file is fine (containers often run on
			// environment variables alone); a malformed one is not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		Joplin: Joplin{
			Token: v.GetString("joplin.token"),
			Host:  v.GetString("joplin.host"),
			Port:  v.GetInt("joplin.port"),
		},
		OpenWebUI: OpenWebUI{
			URL:               strings.TrimRight(v.GetString("openwebui.url"), "/"),
			APIKey:            v.GetString("openwebui.api_key"),
			KnowledgeBaseName: v.GetString("openwebui.knowledge_base_name"),
			CollectionID:      v.GetString("openwebui.collection_id"),
		},
		Sync: Sync{
			Mode:        v.GetString("sync.mode"),
			Tags:        splitTags(v.Get("sync.tags")),
			Interval:    time.Duration(v.GetInt("sync.interval_minutes")) * time.Minute,
			CallTimeout: time.Duration(v.GetInt("sync.call_timeout_seconds")) * time.Second,
			Parallelism: v.GetInt("sync.parallelism"),
		},
		StateDBPath:   v.GetString("state_db_path"),
		DashboardAddr: v.GetString("dashboard_addr"),
		LogFile:       v.GetString("log_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Joplin.Token == "" {
		return fmt.Errorf("joplin token is required: set JOPPER_JOPLIN_TOKEN or joplin.token")
	}
	if c.OpenWebUI.URL == "" {
		return fmt.Errorf("open webui url is required: set JOPPER_OPENWEBUI_URL or openwebui.url")
	}
	if c.OpenWebUI.APIKey == "" {
		return fmt.Errorf("open webui api key is required: set JOPPER_OPENWEBUI_API_KEY or openwebui.api_key")
	}
	if c.Sync.Mode != "all" && c.Sync.Mode != "tagged" {
		return fmt.Errorf("sync mode must be \"all\" or \"tagged\", got %q", c.Sync.Mode)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.Sync.Interval)
	}
	return nil
}

// splitTags accepts either a YAML list or a comma-separated string from the
// environment.
func splitTags(raw interface{}) []string {
	switch val := raw.(type) {
	case nil:
		return nil
	case []interface{}:
		var tags []string
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
		return tags
	case []string:
		return val
	case string:
		var tags []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
		return tags
	default:
		return nil
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jopper-state.db"
	}
	return filepath.Join(home, ".local", "share", "jopper", "state.db")
}
