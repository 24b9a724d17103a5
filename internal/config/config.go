package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models branchline.yml.
type Config struct {
	Branch struct {
		Name string `yaml:"name"`
	} `yaml:"branch"`
	Notifications struct {
		Buffer   int             `yaml:"buffer"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Types          []string `yaml:"types,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Branch.Name == "" {
		return fmt.Errorf("config.branch.name is required")
	}
	if c.Notifications.Buffer < 0 {
		return fmt.Errorf("config.notifications.buffer must not be negative")
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, t := range hook.Types {
			if t == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty notification type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "branchline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Branch.Name = "main"
	cfg.Notifications.Buffer = 64
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(branch string) string {
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf(defaultTemplate, branch)
}

const defaultTemplate = `branch:
  name: %s

notifications:
  buffer: 64
  webhooks: []
  # webhooks:
  #   - url: https://example.com/hooks/branchline
  #     secret: changeme
  #     types: [project_completed, task_blocked]
`
