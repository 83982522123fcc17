// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host      string `json:"host" yaml:"host"`
		Port      int    `json:"port" yaml:"port"`
		Transport string `json:"transport" yaml:"transport"` // stdio, http
	} `json:"server" yaml:"server"`

	Storage struct {
		Dir             string `json:"dir" yaml:"dir"`           // relative to the session root
		DBPath          string `json:"db_path" yaml:"db_path"`   // overrides Dir/db when set
		InMemory        bool   `json:"in_memory" yaml:"in_memory"`
		CacheSize       int    `json:"cache_size" yaml:"cache_size"`
		CompressMinSize int    `json:"compress_min_size" yaml:"compress_min_size"`
	} `json:"storage" yaml:"storage"`

	Diff struct {
		ContextLines int `json:"context_lines" yaml:"context_lines"`
	} `json:"diff" yaml:"diff"`

	Watch struct {
		Ignore []string `json:"ignore" yaml:"ignore"`
	} `json:"watch" yaml:"watch"`

	DefaultAgentID string `json:"default_agent_id" yaml:"default_agent_id"`
	Environment    string `json:"environment" yaml:"environment"` // dev, prod
	LogLevel       string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Host = "127.0.0.1"
	c.Server.Port = 7373
	c.Server.Transport = "stdio"
	c.Storage.Dir = ".gitent"
	c.Storage.CacheSize = 1000
	c.Storage.CompressMinSize = 1024
	c.Diff.ContextLines = 3
	c.Watch.Ignore = []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/*.swp", "**/*~"}
	c.DefaultAgentID = "gitent"
	c.Environment = "development"
	c.LogLevel = "info"
	return &c
}

func getConfigPath() string {
	env := os.Getenv("GITENT_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads path as JSON, or YAML when the extension is .yaml/.yml.
// An empty path falls back to config/config.<GITENT_ENV>.json, and a
// missing file yields Default(). Values absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, err
	default:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("GITENT_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("GITENT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid server.transport %q (want stdio or http)", c.Server.Transport)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Diff.ContextLines < 0 {
		return fmt.Errorf("diff.context_lines must not be negative")
	}
	if c.Storage.CacheSize <= 0 {
		c.Storage.CacheSize = 1000
	}
	return nil
}
