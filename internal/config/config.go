package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Embedding provider names.
const (
	ProviderGemini  = "gemini"
	ProviderHTTP    = "http"
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"
)

type Config struct {
	Log       LogConfig             `yaml:"log"`
	Database  DatabaseConfig        `yaml:"database"`
	Storage   StorageConfig         `yaml:"storage"`
	Embedding EmbeddingConfig       `yaml:"embedding"`
	LLM       LLMConfig             `yaml:"llm"`
	RAG       RAGConfig             `yaml:"rag"`
	Ingest    IngestConfig          `yaml:"ingest"`
	Chromem   ChromemConfig         `yaml:"chromem"`
	Server    ServerConfig          `yaml:"server"`
	Tiers     map[string]TierLimits `yaml:"tiers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type DatabaseConfig struct {
	// Driver is "pgdriver" (default) or "pq".
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	Debug  bool   `yaml:"debug"`
}

type StorageConfig struct {
	// Backend is "supabase" or "local".
	Backend     string `yaml:"backend"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	Bucket      string `yaml:"bucket"`
	LocalRoot   string `yaml:"local_root"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Dimension int    `yaml:"dimension"`

	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	// CallDelay is slept before every primary-provider call.
	CallDelay time.Duration `yaml:"call_delay"`
	GroupSize int           `yaml:"group_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "ollama".
	Provider        string `yaml:"provider"`
	BaseURL         string `yaml:"base_url"`
	Key             string `yaml:"key"`
	Model           string `yaml:"model"`
	MaxContextChars int    `yaml:"max_context_chars"`
}

type RAGConfig struct {
	ChunkTokens   int     `yaml:"chunk_tokens"`
	OverlapTokens int     `yaml:"overlap_tokens"`
	CharsPerToken int     `yaml:"chars_per_token"`
	SnapWindow    int     `yaml:"snap_window"`
	PhraseWords   int     `yaml:"phrase_words"`
	TopK          int     `yaml:"top_k"`
	Threshold     float64 `yaml:"threshold"`
}

type IngestConfig struct {
	BatchSize     int  `yaml:"batch_size"`
	AtomicReplace bool `yaml:"atomic_replace"`
	SkipUnchanged bool `yaml:"skip_unchanged"`
}

type ChromemConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TierLimits bounds what a subscription tier may ingest. Zero means unlimited.
type TierLimits struct {
	MaxFileMB int `yaml:"max_file_mb"`
	MaxPages  int `yaml:"max_pages"`
}

const (
	defaultChunkTokens   = 500
	defaultOverlapTokens = 80
	defaultCharsPerToken = 4
	defaultSnapWindow    = 100
	defaultPhraseWords   = 20
	defaultTopK          = 5
	defaultThreshold     = 0.5
	defaultBatchSize     = 10
	defaultDimension     = 768
	defaultMaxRetries    = 3
	defaultBaseDelay     = time.Second
	defaultCallDelay     = 700 * time.Millisecond
	defaultGroupSize     = 5
	defaultTimeout       = 30 * time.Second
	defaultMaxContext    = 24000
)

// LoadConfig reads the YAML file at path over the defaults, then applies
// .env and environment overrides. A missing file yields the defaults.
// Values set explicitly in the file win, including zeros.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyProviderDefaults(&cfg)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Log:      LogConfig{Level: "debug"},
		Database: DatabaseConfig{Driver: "pgdriver"},
		Storage:  StorageConfig{Backend: "local", Bucket: "documents", LocalRoot: "."},
		Embedding: EmbeddingConfig{
			Provider:   ProviderGemini,
			Dimension:  defaultDimension,
			MaxRetries: defaultMaxRetries,
			BaseDelay:  defaultBaseDelay,
			GroupSize:  defaultGroupSize,
			Timeout:    defaultTimeout,
		},
		LLM: LLMConfig{Provider: "openai", MaxContextChars: defaultMaxContext},
		RAG: RAGConfig{
			ChunkTokens:   defaultChunkTokens,
			OverlapTokens: defaultOverlapTokens,
			CharsPerToken: defaultCharsPerToken,
			SnapWindow:    defaultSnapWindow,
			PhraseWords:   defaultPhraseWords,
			TopK:          defaultTopK,
			Threshold:     defaultThreshold,
		},
		Ingest:  IngestConfig{BatchSize: defaultBatchSize},
		Chromem: ChromemConfig{Path: "./chromemdb", Collection: "document_chunks"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// applyProviderDefaults fills settings whose default depends on the chosen
// embedding provider. The primary provider is always paced.
func applyProviderDefaults(cfg *Config) {
	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = ProviderGemini
	}
	if e.Model == "" {
		switch e.Provider {
		case ProviderGemini:
			e.Model = "text-embedding-004"
		case ProviderOllama:
			e.Model = "nomic-embed-text"
		}
	}
	if e.CallDelay == 0 && e.Provider == ProviderGemini {
		e.CallDelay = defaultCallDelay
	}
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Storage.SupabaseURL, "SUPABASE_URL")
	override(&cfg.Storage.SupabaseKey, "SUPABASE_KEY")
	override(&cfg.LLM.Key, "LLM_API_KEY")
	if cfg.Embedding.Provider == ProviderGemini {
		override(&cfg.Embedding.Key, "GEMINI_API_KEY")
	}
	override(&cfg.Embedding.Key, "EMBEDDING_API_KEY")
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderGemini, ProviderHTTP, ProviderOllama, ProviderHashing:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "supabase", "local":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if c.Embedding.MaxRetries < 0 || c.Embedding.GroupSize < 0 {
		return errors.New("embedding retries and group size must not be negative")
	}
	if c.RAG.TopK <= 0 {
		return errors.New("rag top_k must be positive")
	}
	if c.RAG.ChunkTokens <= 0 || c.RAG.OverlapTokens < 0 || c.RAG.CharsPerToken <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	if c.RAG.OverlapTokens >= c.RAG.ChunkTokens {
		return fmt.Errorf("overlap (%d tokens) must be smaller than chunk size (%d tokens)", c.RAG.OverlapTokens, c.RAG.ChunkTokens)
	}
	if c.RAG.Threshold < 0 || c.RAG.Threshold >= 1 {
		return fmt.Errorf("similarity threshold %v outside [0,1)", c.RAG.Threshold)
	}
	if c.Ingest.BatchSize <= 0 {
		return errors.New("ingest batch size must be positive")
	}
	return nil
}

// ChunkSizeChars converts the token budget to characters.
func (r RAGConfig) ChunkSizeChars() int {
	return r.ChunkTokens * r.CharsPerToken
}

// OverlapChars converts the overlap budget to characters.
func (r RAGConfig) OverlapChars() int {
	return r.OverlapTokens * r.CharsPerToken
}

// Limits returns the limits for tier; unknown tiers are unlimited.
func (c *Config) Limits(tier string) TierLimits {
	if c.Tiers == nil {
		return TierLimits{}
	}
	return c.Tiers[tier]
}
