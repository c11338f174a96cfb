// Package config handles inspection-session configuration from YAML files.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level session configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Origins OriginsConfig `yaml:"origins"`
	Export  ExportConfig  `yaml:"export"`
	Vision  VisionConfig  `yaml:"vision"`
	Agent   AgentConfig   `yaml:"agent"`
	Browser BrowserConfig `yaml:"browser"`
}

// ServerConfig controls the proxy front end.
type ServerConfig struct {
	Listen string `yaml:"listen"` // host:port the proxy serves on
	Target string `yaml:"target"` // upstream application base URL
}

// OriginsConfig fixes the two origins of the trust boundary. Every
// cross-context message is checked against these for exact equality.
type OriginsConfig struct {
	Host string `yaml:"host"` // controlling frame origin
	// Agent is the origin the inspected page runs at. Pages served through
	// the proxy run at the proxy's own origin, so this defaults to Host.
	Agent string `yaml:"agent"`
}

// ExportConfig controls where context payloads land.
type ExportConfig struct {
	Dir          string `yaml:"dir"` // project directory holding .vci/
	HistoryLimit int    `yaml:"history_limit"`
	Snapshots    int    `yaml:"snapshots"` // source snapshots kept for undo
}

// VisionConfig selects the image-analysis backend.
type VisionConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig locates the coding-agent service and bounds its status
// poller.
type AgentConfig struct {
	URL              string        `yaml:"url"` // agent service base URL
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxAttempts      int           `yaml:"max_attempts"`
	UnavailableLimit int           `yaml:"unavailable_limit"`
	IdleGrace        int           `yaml:"idle_grace"`
}

// BrowserConfig controls the capture browser lifecycle.
type BrowserConfig struct {
	Remote   string `yaml:"remote"` // devtools URL of an existing browser
	Headless bool   `yaml:"headless"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":3001"
	}
	if c.Server.Target == "" {
		c.Server.Target = "http://localhost:3000"
	}
	if c.Origins.Host == "" {
		c.Origins.Host = "http://localhost:3001"
	}
	if c.Origins.Agent == "" {
		c.Origins.Agent = c.Origins.Host
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "."
	}
	if c.Export.HistoryLimit <= 0 {
		c.Export.HistoryLimit = 50
	}
	if c.Export.Snapshots <= 0 {
		c.Export.Snapshots = 10
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "claude-sonnet-4-5"
	}
	if c.Vision.MaxTokens <= 0 {
		c.Vision.MaxTokens = 1024
	}
	if c.Agent.URL == "" {
		c.Agent.URL = "http://localhost:8001"
	}
	if c.Agent.PollInterval <= 0 {
		c.Agent.PollInterval = 2 * time.Second
	}
	if c.Agent.MaxAttempts <= 0 {
		c.Agent.MaxAttempts = 150
	}
	if c.Agent.UnavailableLimit <= 0 {
		c.Agent.UnavailableLimit = 15
	}
	if c.Agent.IdleGrace <= 0 {
		c.Agent.IdleGrace = 3
	}
}
