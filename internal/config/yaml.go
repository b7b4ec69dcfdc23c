package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level datagate configuration file.
type YAMLConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Registry   RegistryConfig   `yaml:"registry"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	MCP        MCPConfig        `yaml:"mcp"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
	// Listeners maps connector families to dedicated extra ports. Each
	// dedicated listener serves only its own family; the main port always
	// serves everything.
	Listeners map[string]int `yaml:"listeners,omitempty"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls authentication settings. The vault encryption key is
// deliberately NOT configurable here: it comes only from the
// DATAGATE_ENCRYPTION_KEY environment variable so it never lands in a
// config file on disk.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
}

// RegistryConfig controls where connector, token, and share-link state is
// persisted. Empty DataDir means in-memory, for tests.
type RegistryConfig struct {
	DataDir string `yaml:"data_dir"`
}

// NormalizerConfig controls how URLs embedded in backend responses are
// rewritten onto the gateway's public address.
type NormalizerConfig struct {
	// PublicHost is the hostname clients reach the gateway on. Defaults to
	// the server host when empty.
	PublicHost string `yaml:"public_host"`
	// PublicPort is the port clients reach the gateway on. Defaults to the
	// server port when zero.
	PublicPort int `yaml:"public_port"`
	// InternalPorts lists backend ports whose URLs must be rewritten onto
	// the gateway address.
	InternalPorts []int `yaml:"internal_ports"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "OPTIONS"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry: "1h",
		},
		Registry: RegistryConfig{
			DataDir: "./data",
		},
		Normalizer: NormalizerConfig{
			InternalPorts: []int{3306, 5432, 8123, 9000, 27017},
		},
		MCP: MCPConfig{
			Enabled:   false,
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
