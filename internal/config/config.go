// Package config handles Recall configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/recall/config.yaml, /etc/recall/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "recall", "config.yaml"))
	}

	paths = append(paths, "/etc/recall/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Recall configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Profile   ProfileConfig   `yaml:"profile"`
	MQTT      MQTTConfig      `yaml:"mqtt"`

	// DataDir is where the SQLite databases live (thread history and
	// durable memories). When empty, Recall runs fully ephemeral: thread
	// state is held in process memory and no client memories are stored.
	DataDir string `yaml:"data_dir"`

	// Instruction is the default base instruction for the system message.
	// Per-request overrides take precedence; when both are empty a
	// built-in default is used.
	Instruction string `yaml:"instruction"`

	LogLevel string `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	// Default is the model used when a request names none.
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether the Anthropic provider can be used.
func (a AnthropicConfig) Configured() bool {
	return a.APIKey != ""
}

// ProfileConfig selects and configures the client profile source.
type ProfileConfig struct {
	// Source is one of "static", "vcard", or "carddav".
	// Empty disables profile lookup entirely.
	Source string `yaml:"source"`

	// Dir holds one <clientID>.vcf per client (vcard source).
	Dir string `yaml:"dir"`

	// URL, Username, Password configure the CardDAV address book
	// (carddav source).
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether a profile source is selected.
func (p ProfileConfig) Configured() bool {
	return p.Source != ""
}

// MQTTConfig defines the optional operational event publisher.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // e.g. mqtt://host:1883, mqtts://host:8883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Configured reports whether MQTT publishing is enabled.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			OllamaURL: "http://localhost:11434",
		},
		MQTT: MQTTConfig{DeviceName: "recall"},
	}
}
