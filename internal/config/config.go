package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration. Values come from an optional YAML
// file (FILESCOPE_CONFIG or ./filescope.yaml) overridden by environment
// variables. The UI owns how these get edited; the engine only consumes them.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Match     MatchConfig     `yaml:"match"`
	Organize  OrganizeConfig  `yaml:"organize"`
	Index     IndexConfig     `yaml:"index"`
	Database  DatabaseConfig  `yaml:"database"`
}

type EmbeddingConfig struct {
	URL string `yaml:"url"` // embedding server base URL, defaults to http://localhost:8000
	Dim int    `yaml:"dim"` // face embedding dimension, defaults to 512
}

type PipelineConfig struct {
	Concurrency           int      `yaml:"concurrency"`            // parallel workers for a foreground batch
	BackgroundConcurrency int      `yaml:"background_concurrency"` // throttled cap for background mode
	Extensions            []string `yaml:"extensions"`             // image extensions to include (lowercase, with dot)
}

type MatchConfig struct {
	DetectionThreshold float64 `yaml:"detection_threshold"` // minimum detector confidence, faces below are dropped
	AcceptDistance     float64 `yaml:"accept_distance"`     // maximum cosine distance for an identity match
	ClusterDistance    float64 `yaml:"cluster_distance"`    // mutual distance bound for provisional clusters
	TieEpsilon         float64 `yaml:"tie_epsilon"`         // candidates within epsilon are tie-broken by reference count
}

type OrganizeConfig struct {
	Move          bool   `yaml:"move"`           // move instead of copy
	Overwrite     bool   `yaml:"overwrite"`      // allow overwriting existing files (default deny)
	UnsortedDir   string `yaml:"unsorted_dir"`   // bucket name for unmatched photos
	RetryAttempts int    `yaml:"retry_attempts"` // attempts for transient I/O failures
}

type IndexConfig struct {
	Path string `yaml:"path"` // path to the persisted identity index (empty = in-memory only)
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL for the shared identity store (optional)
	MaxOpenConns int    `yaml:"max_open_conns"` // default 25
	MaxIdleConns int    `yaml:"max_idle_conns"` // default 5
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the fallback if the env var is unset, empty, or invalid.
func envInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

// envFloat reads an environment variable as a float64, keeping the fallback
// on unset or invalid values.
func envFloat(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}

func envStr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// DefaultExtensions are the image formats the pipeline decodes.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tif", ".tiff"}

func defaults() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			URL: "http://localhost:8000",
			Dim: 512,
		},
		Pipeline: PipelineConfig{
			Concurrency:           5,
			BackgroundConcurrency: 1,
			Extensions:            append([]string(nil), DefaultExtensions...),
		},
		Match: MatchConfig{
			DetectionThreshold: 0.5,
			AcceptDistance:     0.4,
			ClusterDistance:    0.3,
			TieEpsilon:         0.02,
		},
		Organize: OrganizeConfig{
			Move:          false,
			Overwrite:     false,
			UnsortedDir:   "unsorted",
			RetryAttempts: 3,
		},
		Index: IndexConfig{
			Path: "",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables (in that order of precedence, env wins).
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("FILESCOPE_CONFIG")
	if path == "" {
		path = "filescope.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if os.Getenv("FILESCOPE_CONFIG") != "" {
		// An explicitly configured file must exist.
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg.Embedding.URL = envStr("FILESCOPE_EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Dim = envInt("FILESCOPE_EMBEDDING_DIM", cfg.Embedding.Dim)
	cfg.Pipeline.Concurrency = envInt("FILESCOPE_CONCURRENCY", cfg.Pipeline.Concurrency)
	cfg.Pipeline.BackgroundConcurrency = envInt("FILESCOPE_BACKGROUND_CONCURRENCY", cfg.Pipeline.BackgroundConcurrency)
	if exts := os.Getenv("FILESCOPE_EXTENSIONS"); exts != "" {
		cfg.Pipeline.Extensions = splitExtensions(exts)
	}
	cfg.Match.DetectionThreshold = envFloat("FILESCOPE_DETECTION_THRESHOLD", cfg.Match.DetectionThreshold)
	cfg.Match.AcceptDistance = envFloat("FILESCOPE_ACCEPT_DISTANCE", cfg.Match.AcceptDistance)
	cfg.Match.ClusterDistance = envFloat("FILESCOPE_CLUSTER_DISTANCE", cfg.Match.ClusterDistance)
	cfg.Match.TieEpsilon = envFloat("FILESCOPE_TIE_EPSILON", cfg.Match.TieEpsilon)
	cfg.Organize.Move = envBool("FILESCOPE_MOVE", cfg.Organize.Move)
	cfg.Organize.Overwrite = envBool("FILESCOPE_OVERWRITE", cfg.Organize.Overwrite)
	cfg.Organize.UnsortedDir = envStr("FILESCOPE_UNSORTED_DIR", cfg.Organize.UnsortedDir)
	cfg.Organize.RetryAttempts = envInt("FILESCOPE_RETRY_ATTEMPTS", cfg.Organize.RetryAttempts)
	cfg.Index.Path = envStr("FILESCOPE_INDEX_PATH", cfg.Index.Path)
	cfg.Database.URL = envStr("FILESCOPE_DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("FILESCOPE_DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("FILESCOPE_DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks threshold ranges and structural requirements.
func (c *Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return errors.New("embedding dim must be positive")
	}
	if c.Match.DetectionThreshold < 0 || c.Match.DetectionThreshold > 1 {
		return fmt.Errorf("detection threshold %.2f out of range [0, 1]", c.Match.DetectionThreshold)
	}
	if c.Match.AcceptDistance <= 0 || c.Match.AcceptDistance > 2 {
		return fmt.Errorf("accept distance %.2f out of range (0, 2]", c.Match.AcceptDistance)
	}
	if c.Match.ClusterDistance <= 0 || c.Match.ClusterDistance > 2 {
		return fmt.Errorf("cluster distance %.2f out of range (0, 2]", c.Match.ClusterDistance)
	}
	if c.Match.TieEpsilon < 0 {
		return errors.New("tie epsilon must not be negative")
	}
	if c.Pipeline.Concurrency <= 0 || c.Pipeline.BackgroundConcurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if len(c.Pipeline.Extensions) == 0 {
		return errors.New("at least one file extension is required")
	}
	if c.Organize.UnsortedDir == "" {
		return errors.New("unsorted dir must not be empty")
	}
	if c.Organize.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	return nil
}

// Concurrency returns the worker count for the given processing mode.
func (c *Config) Concurrency(background bool) int {
	if background {
		return c.Pipeline.BackgroundConcurrency
	}
	return c.Pipeline.Concurrency
}

func splitExtensions(s string) []string {
	parts := strings.Split(s, ",")
	exts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, ".") {
			p = "." + p
		}
		exts = append(exts, p)
	}
	return exts
}
