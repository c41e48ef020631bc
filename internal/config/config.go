package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models modgate.yml.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Notifications struct {
		// Templates override the built-in messages, keyed "<entity_kind>.<action>",
		// e.g. "workflow.reject". {title} and {reason} are interpolated.
		Templates map[string]string `yaml:"templates"`
	} `yaml:"notifications"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	// Admins lists account ids seeded into the admin membership set by
	// `mg admin seed`. The engine itself never writes the set.
	Admins []string `yaml:"admins"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	EntityKinds    []string `yaml:"entity_kinds,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var validTemplateKeys = map[string]bool{
	"creator_application.submit":  true,
	"creator_application.approve": true,
	"creator_application.reject":  true,
	"workflow.submit":             true,
	"workflow.approve":            true,
	"workflow.reject":             true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for key, tmpl := range c.Notifications.Templates {
		if !validTemplateKeys[key] {
			return fmt.Errorf("notifications.templates: unknown key %s", key)
		}
		if strings.TrimSpace(tmpl) == "" {
			return fmt.Errorf("notifications.templates: empty template for %s", key)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d]: timeout_seconds must be >= 0", i)
		}
	}
	for i, id := range c.Admins {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("admins[%d]: empty account id", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "modgate.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8480"
	}
	if c.Notifications.Templates == nil {
		c.Notifications.Templates = map[string]string{}
	}
}
