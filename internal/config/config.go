// Package config loads and validates vmrag configuration.
//
// Resolution order, later wins:
//  1. built-in defaults
//  2. project file (.vmrag.yaml in the working directory)
//  3. VMRAG_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-project configuration file.
const ProjectFileName = ".vmrag.yaml"

// Config represents the complete vmrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Dolt       DoltConfig       `yaml:"dolt" json:"dolt"`
	Chroma     ChromaConfig     `yaml:"chroma" json:"chroma"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// DoltConfig configures the versioned-store CLI adapter.
type DoltConfig struct {
	// Binary is the dolt executable; resolved on PATH when not absolute.
	Binary string `yaml:"binary" json:"binary"`
	// WorkDir is the repository working directory owned by the adapter.
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	// Remote is the default remote name.
	Remote string `yaml:"remote" json:"remote"`
	// RemoteURL is used by init/clone when a remote must be registered.
	RemoteURL string `yaml:"remote_url" json:"remote_url"`
	// CommandTimeout bounds each CLI invocation.
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
	// KillDeadline is the grace period between SIGTERM and SIGKILL.
	KillDeadline time.Duration `yaml:"kill_deadline" json:"kill_deadline"`
}

// ChromaConfig configures the vector-store adapter.
type ChromaConfig struct {
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	Tenant   string        `yaml:"tenant" json:"tenant"`
	Database string        `yaml:"database" json:"database"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the opaque model tag recorded in sync-state.
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// CacheSize is the LRU embedding cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures the deterministic chunker defaults.
// Per-collection values in the collection registry override these.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// SyncConfig configures engine behavior.
type SyncConfig struct {
	// CollectionPrefix is prepended to sanitized branch names.
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix"`
	// AutoStage stages vector-side local changes before commit.
	AutoStage bool `yaml:"auto_stage" json:"auto_stage"`
	// MaxCollectionName bounds sanitized collection names.
	MaxCollectionName int `yaml:"max_collection_name" json:"max_collection_name"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Dolt: DoltConfig{
			Binary:         "dolt",
			WorkDir:        ".",
			Remote:         "origin",
			CommandTimeout: 120 * time.Second,
			KillDeadline:   10 * time.Second,
		},
		Chroma: ChromaConfig{
			Host:     "localhost",
			Port:     8000,
			Tenant:   "default_tenant",
			Database: "default_database",
			Timeout:  30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 0, // auto-detect
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 50,
		},
		Sync: SyncConfig{
			CollectionPrefix:  "vmrag_",
			AutoStage:         true,
			MaxCollectionName: 48,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// Load reads configuration for the given directory.
// A missing project file is not an error; defaults plus env apply.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays VMRAG_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("VMRAG_DOLT_BINARY"); v != "" {
		c.Dolt.Binary = v
	}
	if v := os.Getenv("VMRAG_DOLT_DIR"); v != "" {
		c.Dolt.WorkDir = v
	}
	if v := os.Getenv("VMRAG_REMOTE_URL"); v != "" {
		c.Dolt.RemoteURL = v
	}
	if v := os.Getenv("VMRAG_CHROMA_HOST"); v != "" {
		c.Chroma.Host = v
	}
	if v := os.Getenv("VMRAG_CHROMA_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Chroma.Port = p
		}
	}
	if v := os.Getenv("VMRAG_EMBEDDING_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("VMRAG_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VMRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("VMRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Dolt.Binary == "" {
		return fmt.Errorf("dolt.binary must not be empty")
	}
	if c.Chroma.Port <= 0 || c.Chroma.Port > 65535 {
		return fmt.Errorf("chroma.port out of range: %d", c.Chroma.Port)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be ollama or static, got %q", c.Embeddings.Provider)
	}
	if c.Sync.CollectionPrefix == "" {
		return fmt.Errorf("sync.collection_prefix must not be empty")
	}
	if c.Sync.MaxCollectionName < len(c.Sync.CollectionPrefix)+1 {
		return fmt.Errorf("sync.max_collection_name too small: %d", c.Sync.MaxCollectionName)
	}
	return nil
}

// Save writes the configuration to the project file in dir.
func (c *Config) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dir, ProjectFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
