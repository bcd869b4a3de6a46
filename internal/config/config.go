package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models expertdraw.yml.
type Config struct {
	Draw struct {
		DefaultMethod   string        `yaml:"default_method"`
		AutoRule        bool          `yaml:"auto_rule"`
		RosterTimeoutMS int           `yaml:"roster_timeout_ms"`
		Weighting       WeightingRule `yaml:"weighting"`
	} `yaml:"draw"`
	Lock struct {
		Backend string `yaml:"backend"`
		WaitMS  int    `yaml:"wait_ms"`
		TTLMS   int    `yaml:"ttl_ms"`
		Retries int    `yaml:"retries"`
		Redis   struct {
			Addr   string `yaml:"addr"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"lock"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WeightingRule struct {
	Attribute        string             `yaml:"attribute"`
	Default          float64            `yaml:"default"`
	TitleMultipliers map[string]float64 `yaml:"title_multipliers"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Secret  string   `yaml:"secret"`
	Enabled *bool    `yaml:"enabled"`
}

// Permissions understood by the API.
var Permissions = []string{
	"draw.read", "draw.write", "draw.execute", "draw.replace",
	"draw.contact", "draw.export", "roster.write", "rule.write",
}

// RosterTimeout is the default bound on one roster query.
func (c *Config) RosterTimeout() time.Duration {
	return time.Duration(c.Draw.RosterTimeoutMS) * time.Millisecond
}

func (c *Config) LockWait() time.Duration {
	return time.Duration(c.Lock.WaitMS) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLMS) * time.Millisecond
}

// RolePermissions returns the union of the permissions granted by roles.
func (c *Config) RolePermissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		role, ok := c.RBAC.Roles[r]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Draw.DefaultMethod) {
	case "", "random", "uniform-random", "lottery", "weighted":
	default:
		return fmt.Errorf("config.draw.default_method %q is not a supported method", c.Draw.DefaultMethod)
	}
	if c.Draw.RosterTimeoutMS < 0 {
		return fmt.Errorf("config.draw.roster_timeout_ms must not be negative")
	}
	switch c.Draw.Weighting.Attribute {
	case "", "weight", "none":
	default:
		return fmt.Errorf("config.draw.weighting.attribute must be weight or none")
	}
	if math.IsNaN(c.Draw.Weighting.Default) || math.IsInf(c.Draw.Weighting.Default, 0) || c.Draw.Weighting.Default < 0 {
		return fmt.Errorf("config.draw.weighting.default must be a finite non-negative number")
	}
	for title, m := range c.Draw.Weighting.TitleMultipliers {
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return fmt.Errorf("title multiplier for %s must not be negative", title)
		}
	}
	switch c.Lock.Backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Lock.Redis.Addr) == "" {
			return fmt.Errorf("config.lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.lock.backend must be memory or redis")
	}
	if c.Lock.WaitMS < 0 || c.Lock.TTLMS < 0 || c.Lock.Retries < 0 {
		return fmt.Errorf("config.lock values must not be negative")
	}
	known := map[string]bool{}
	for _, p := range Permissions {
		known[p] = true
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if !known[perm] {
				return fmt.Errorf("role %s has unknown permission %q", roleID, perm)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "expertdraw.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads the workspace config, falling back to Default when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections the
// document leaves out keep their defaults.
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

const defaultTemplate = `draw:
  default_method: random
  auto_rule: true
  roster_timeout_ms: 5000
  weighting:
    attribute: weight
    default: 1

lock:
  backend: memory
  wait_ms: 10000
  ttl_ms: 30000
  retries: 3
  redis:
    prefix: "expertdraw:lock:"

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: [draw.read, draw.write, draw.execute, draw.replace, draw.contact, draw.export, roster.write, rule.write]
    operator:
      description: "Runs draws and handles contact"
      permissions: [draw.read, draw.write, draw.execute, draw.replace, draw.contact, draw.export]
    viewer:
      description: "Read only"
      permissions: [draw.read, draw.export]
`
