package inspect

import (
	"github.com/visualctx/vci/inspect/internal/config"
)

// Config is the top-level session configuration. Re-exported from internal.
type Config = config.Config

// ServerConfig controls the proxy front end.
type ServerConfig = config.ServerConfig

// OriginsConfig fixes the two origins of the trust boundary.
type OriginsConfig = config.OriginsConfig

// ExportConfig controls where context payloads land.
type ExportConfig = config.ExportConfig

// VisionConfig selects the image-analysis backend.
type VisionConfig = config.VisionConfig

// AgentConfig bounds the coding-agent status poller.
type AgentConfig = config.AgentConfig

// BrowserConfig controls the capture browser lifecycle.
type BrowserConfig = config.BrowserConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
