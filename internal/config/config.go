// Package config provides configuration loading and structs for the dispict tools.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings.
const EnvPrefix = "DISPICT_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Batch     BatchConfig     `yaml:"batch"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CatalogConfig points at the artwork catalog JSON file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig holds paths for the vector store, run ledger and keyword index.
type StorageConfig struct {
	VectorStorePath  string `yaml:"vector_store_path"`
	LedgerPath       string `yaml:"ledger_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds CLIP model settings.
type EmbeddingConfig struct {
	TextModelPath  string `yaml:"text_model_path"`
	ImageModelPath string `yaml:"image_model_path"`
	TokenizerPath  string `yaml:"tokenizer_path"`
	Dimensions     int    `yaml:"dimensions"`
	MaxTokens      int    `yaml:"max_tokens"`
	CacheSize      int    `yaml:"cache_size"`
}

// FetchConfig holds image download settings.
type FetchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Timeout        time.Duration `yaml:"timeout"`
	NetworkBackoff time.Duration `yaml:"network_backoff"`
	StatusBackoff  time.Duration `yaml:"status_backoff"`
	UserAgent      string        `yaml:"user_agent"`
}

// BatchConfig holds chunking settings for an embedding run.
type BatchConfig struct {
	ChunkSize           int `yaml:"chunk_size"`
	MaxConcurrentChunks int `yaml:"max_concurrent_chunks"`
}

// VectorConfig selects and tunes the similarity index.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
	NumTrees  int    `yaml:"num_trees"`
	LeafSize  int    `yaml:"leaf_size"`
	SearchK   int    `yaml:"search_k"`
	Seed      int64  `yaml:"seed"`
}

// SearchConfig holds query limits and keyword ranking settings.
type SearchConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MaxLimit          int     `yaml:"max_limit"`
	KeywordTitleBoost float64 `yaml:"keyword_title_boost"`
	KeywordFuzziness  int     `yaml:"keyword_fuzziness"`
}

// WatchConfig controls reloading the vector store when it changes on disk.
type WatchConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EnabledOrDefault returns whether to watch the store; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// LoadDotEnv loads environment variables from the given dotenv files. Missing
// files are skipped; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the config file at path, applies environment
// overrides and defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path, configDir)
	cfg.Storage.VectorStorePath = expandPath(cfg.Storage.VectorStorePath, configDir)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, configDir)
	if cfg.Storage.KeywordIndexPath != "" {
		cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	}
	cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	cfg.Embedding.ImageModelPath = expandPath(cfg.Embedding.ImageModelPath, configDir)
	cfg.Embedding.TokenizerPath = expandPath(cfg.Embedding.TokenizerPath, configDir)

	return &cfg, nil
}

// ApplyEnv overrides cfg fields from DISPICT_* environment variables.
func ApplyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"CATALOG_PATH", &cfg.Catalog.Path},
		{"VECTOR_STORE_PATH", &cfg.Storage.VectorStorePath},
		{"LEDGER_PATH", &cfg.Storage.LedgerPath},
		{"KEYWORD_INDEX_PATH", &cfg.Storage.KeywordIndexPath},
		{"TEXT_MODEL_PATH", &cfg.Embedding.TextModelPath},
		{"IMAGE_MODEL_PATH", &cfg.Embedding.ImageModelPath},
		{"TOKENIZER_PATH", &cfg.Embedding.TokenizerPath},
		{"INDEX_TYPE", &cfg.Vector.IndexType},
		{"HOST", &cfg.Server.Host},
	}
	for _, s := range strs {
		if v := os.Getenv(EnvPrefix + s.key); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %sPORT %q", EnvPrefix, v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvPrefix + "DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG %q: %w", EnvPrefix, v, err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
