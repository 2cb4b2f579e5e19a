package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Runtime is the global runtime configuration instance, set by Load at
// startup. Tests construct Config values directly instead.
var Runtime *Config

// Config holds everything the server reads at startup. Values come from
// built-in defaults, then the YAML config file, then SPYGLASS_* environment
// variables, each layer overriding the previous one.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`
	// IndexDir is where the external indexer writes one JSON file per
	// project.
	IndexDir string `yaml:"index_dir"`
	// CoalesceWindowMS bounds broadcast frequency: rapid snapshot updates
	// inside one window collapse to a leading and a trailing flush. Zero
	// disables coalescing entirely.
	CoalesceWindowMS int `yaml:"coalesce_window_ms"`
	// MaxMessageBytes is the wire byte budget. It drives both chunking and
	// the patch-versus-full-snapshot decision.
	MaxMessageBytes int `yaml:"max_message_bytes"`
	// ReplayBufferBytes bounds the per-terminal output history kept for
	// reattach replay.
	ReplayBufferBytes int `yaml:"replay_buffer_bytes"`
	// AgentCommand is the program spawned for agent terminals.
	AgentCommand string `yaml:"agent_command"`
}

const (
	defaultListenAddr        = ":8181"
	defaultCoalesceWindowMS  = 150
	defaultMaxMessageBytes   = 256 * 1024
	defaultReplayBufferBytes = 2 * 1024 * 1024
	defaultAgentCommand      = "claude"
)

// Load builds the configuration from defaults, the config file and the
// environment, then validates it. Invalid values are fatal here: retrying
// cannot succeed without reconfiguration.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        defaultListenAddr,
		IndexDir:          defaultIndexDir(),
		CoalesceWindowMS:  defaultCoalesceWindowMS,
		MaxMessageBytes:   defaultMaxMessageBytes,
		ReplayBufferBytes: defaultReplayBufferBytes,
		AgentCommand:      defaultAgentCommand,
	}

	if path := configFilePath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the recognized option ranges.
func (c *Config) Validate() error {
	if c.CoalesceWindowMS < 0 {
		return fmt.Errorf("coalesce_window_ms must be non-negative, got %d", c.CoalesceWindowMS)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes)
	}
	if c.ReplayBufferBytes <= 0 {
		return fmt.Errorf("replay_buffer_bytes must be positive, got %d", c.ReplayBufferBytes)
	}
	if c.IndexDir == "" {
		return fmt.Errorf("index_dir must be set")
	}
	return nil
}

// CoalesceWindow returns the window as a duration.
func (c *Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMS) * time.Millisecond
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPYGLASS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SPYGLASS_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("SPYGLASS_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if ms, ok := envInt("SPYGLASS_COALESCE_WINDOW_MS"); ok {
		cfg.CoalesceWindowMS = ms
	}
	if n, ok := envInt("SPYGLASS_MAX_MESSAGE_BYTES"); ok {
		cfg.MaxMessageBytes = n
	}
	if n, ok := envInt("SPYGLASS_REPLAY_BUFFER_BYTES"); ok {
		cfg.ReplayBufferBytes = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func configFilePath() string {
	if v := os.Getenv("SPYGLASS_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".spyglass", "config.yaml")
}

func defaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "spyglass-index")
	}
	return filepath.Join(home, ".spyglass", "index")
}
