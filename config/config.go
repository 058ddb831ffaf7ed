// Package config loads docqa configuration from a yaml file, DOCQA_* environment
// variables and built-in defaults, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"docqa/types"
)

const EnvPrefix = "DOCQA"

type ServerConfig struct {
	Addr        string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	BodyLimitMB int           `mapstructure:"body_limit_mb" yaml:"body_limit_mb" validate:"gt=0"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

type ChunkerConfig struct {
	ChunkSize    int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type VectorStoreConfig struct {
	Type     string `mapstructure:"type" yaml:"type" validate:"required"`
	Path     string `mapstructure:"path" yaml:"path" validate:"required"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
	// DSN is only used by the pgvector backend.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// ProviderConfig configures an embedding or generation provider.
type ProviderConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider" validate:"required"`
	Model             string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKeyEnv         string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	Dimensions        int           `mapstructure:"dimensions" yaml:"dimensions,omitempty" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty" validate:"gte=0"`
}

// APIKey resolves the provider key from the environment variable named by
// APIKeyEnv.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type RetrievalConfig struct {
	K                int    `mapstructure:"k" yaml:"k" validate:"gt=0"`
	PromptTemplate   string `mapstructure:"prompt_template" yaml:"prompt_template" validate:"required"`
	MaxContextTokens int    `mapstructure:"max_context_tokens" yaml:"max_context_tokens" validate:"gte=0"`
}

type IngestConfig struct {
	EmbedBatchSize   int  `mapstructure:"embed_batch_size" yaml:"embed_batch_size" validate:"gt=0"`
	EmbedConcurrency int  `mapstructure:"embed_concurrency" yaml:"embed_concurrency" validate:"gt=0"`
	RestoreOnStart   bool `mapstructure:"restore_on_start" yaml:"restore_on_start"`
}

type WatchConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	SourceDir  string        `mapstructure:"source_dir" yaml:"source_dir" validate:"required_if=Enabled true"`
	ArchiveDir string        `mapstructure:"archive_dir" yaml:"archive_dir" validate:"required_if=Enabled true"`
	BadDir     string        `mapstructure:"bad_dir" yaml:"bad_dir" validate:"required_if=Enabled true"`
	Settle     time.Duration `mapstructure:"settle" yaml:"settle"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Chunker     ChunkerConfig     `mapstructure:"chunker" yaml:"chunker"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store" yaml:"vector_store"`
	Embeddings  ProviderConfig    `mapstructure:"embeddings" yaml:"embeddings"`
	Generation  ProviderConfig    `mapstructure:"generation" yaml:"generation"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	Ingest      IngestConfig      `mapstructure:"ingest" yaml:"ingest"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8000",
			BodyLimitMB: 32,
			ReadTimeout: 60 * time.Second,
		},
		Chunker: ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		VectorStore: VectorStoreConfig{
			Type: "managed",
			Path: "vector_stores",
		},
		Embeddings: ProviderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   30 * time.Second,
		},
		Generation: ProviderConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     60 * time.Second,
			Temperature: 0.8,
		},
		Retrieval: RetrievalConfig{K: 5, PromptTemplate: "default"},
		Ingest: IngestConfig{
			EmbedBatchSize:   32,
			EmbedConcurrency: 4,
			RestoreOnStart:   true,
		},
		Watch: WatchConfig{
			SourceDir:  "inbox",
			ArchiveDir: "inbox/archive",
			BadDir:     "inbox/bad",
			Settle:     2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path (optional; empty or missing falls back
// to defaults) and DOCQA_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, types.Configf("reading config file %s: %v", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.Configf("decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and returns a configuration error
// describing the first failures.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.Configf("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
	}
	return types.Configf("%s", strings.Join(msgs, "; "))
}

// Save writes cfg as yaml, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.body_limit_mb", d.Server.BodyLimitMB)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)

	v.SetDefault("chunker.chunk_size", d.Chunker.ChunkSize)
	v.SetDefault("chunker.chunk_overlap", d.Chunker.ChunkOverlap)

	v.SetDefault("vector_store.type", d.VectorStore.Type)
	v.SetDefault("vector_store.path", d.VectorStore.Path)
	v.SetDefault("vector_store.compress", d.VectorStore.Compress)
	v.SetDefault("vector_store.dsn", d.VectorStore.DSN)

	setProviderDefaults(v, "embeddings", d.Embeddings)
	setProviderDefaults(v, "generation", d.Generation)

	v.SetDefault("retrieval.k", d.Retrieval.K)
	v.SetDefault("retrieval.prompt_template", d.Retrieval.PromptTemplate)
	v.SetDefault("retrieval.max_context_tokens", d.Retrieval.MaxContextTokens)

	v.SetDefault("ingest.embed_batch_size", d.Ingest.EmbedBatchSize)
	v.SetDefault("ingest.embed_concurrency", d.Ingest.EmbedConcurrency)
	v.SetDefault("ingest.restore_on_start", d.Ingest.RestoreOnStart)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.source_dir", d.Watch.SourceDir)
	v.SetDefault("watch.archive_dir", d.Watch.ArchiveDir)
	v.SetDefault("watch.bad_dir", d.Watch.BadDir)
	v.SetDefault("watch.settle", d.Watch.Settle)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func setProviderDefaults(v *viper.Viper, prefix string, p ProviderConfig) {
	v.SetDefault(prefix+".provider", p.Provider)
	v.SetDefault(prefix+".model", p.Model)
	v.SetDefault(prefix+".base_url", p.BaseURL)
	v.SetDefault(prefix+".api_key_env", p.APIKeyEnv)
	v.SetDefault(prefix+".timeout", p.Timeout)
	v.SetDefault(prefix+".temperature", p.Temperature)
	v.SetDefault(prefix+".dimensions", p.Dimensions)
	v.SetDefault(prefix+".requests_per_second", p.RequestsPerSecond)
}
