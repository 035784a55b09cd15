package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

const (
	BackendPGVector = "pgvector"
	BackendChromem  = "chromem"
	BackendMemory   = "memory"

	ProviderONNX        = "onnx"
	ProviderOllama      = "ollama"
	ProviderOpenAI      = "openai"
	ProviderNonSemantic = "nonsemantic"
	ProviderOffline     = "offline"

	StreamFinal       = "final"
	StreamIncremental = "incremental"

	DriverPGDriver = "pgdriver"
	DriverPQ       = "pq"
)

type Config struct {
	Log          LogConfig         `yaml:"log"`
	Database     DatabaseConfig    `yaml:"database"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Embedding    EmbeddingConfig   `yaml:"embedding"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	Password     string `yaml:"password"`
	Driver       string `yaml:"driver"`
	Debug        bool   `yaml:"debug"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type VectorStoreConfig struct {
	Backend       string `yaml:"backend"`
	Collection    string `yaml:"collection"`
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	RegistryPath  string `yaml:"registry_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

type EmbeddingConfig struct {
	Provider      string   `yaml:"provider"`
	ModelName     string   `yaml:"model_name"`
	ModelPath     string   `yaml:"model_path"`
	TokenizerPath string   `yaml:"tokenizer_path"`
	LibraryPath   string   `yaml:"library_path"`
	InputNames    []string `yaml:"input_names"`
	OutputName    string   `yaml:"output_name"`
	Dimension     int      `yaml:"dimension"`
	Pooling       string   `yaml:"pooling"`
	Metric        string   `yaml:"metric"`
	MaxTokens     int      `yaml:"max_tokens"`
	Normalize     *bool    `yaml:"normalize"`
	TimeoutSecs   int      `yaml:"timeout_secs"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type RAGConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    *int     `yaml:"chunk_overlap"`
	TopK            int      `yaml:"top_k"`
	MaxDistance     *float64 `yaml:"max_distance"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	UniqueFileNames bool     `yaml:"unique_file_names"`
	StreamPolicy    string   `yaml:"stream_policy"`
}

// Overlap returns the configured chunk overlap. Zero is a valid setting.
func (r RAGConfig) Overlap() int {
	if r.ChunkOverlap == nil {
		return models.DefaultChunkOverlap
	}
	return *r.ChunkOverlap
}

// Profile returns the pinned embedding profile for this deployment.
func (c EmbeddingConfig) Profile() models.EmbeddingProfile {
	return models.EmbeddingProfile{
		Model:     c.ModelName,
		Pooling:   models.Pooling(c.Pooling),
		Metric:    models.Metric(c.Metric),
		Dimension: c.Dimension,
	}
}

// ShouldNormalize defaults to true.
func (c EmbeddingConfig) ShouldNormalize() bool {
	return c.Normalize == nil || *c.Normalize
}

// LoadConfig reads the YAML file at path, loads .env if present, applies
// environment overrides and defaults, and validates the result. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PDFRAG_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PDFRAG_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PDFRAG_LLM_KEY"); v != "" {
		cfg.InferenceLLM.Key = v
	}
	if v := os.Getenv("PDFRAG_EMBED_KEY"); v != "" {
		cfg.EmbedLLM.Key = v
	}
	if v := os.Getenv("PDFRAG_ENCRYPTION_KEY"); v != "" {
		cfg.VectorStore.EncryptionKey = v
	}
	if v := os.Getenv("ONNX_PATH"); v != "" {
		cfg.Embedding.LibraryPath = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPGDriver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}

	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = BackendChromem
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "pdf_chunks"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "./chromemdb"
	}
	if cfg.VectorStore.RegistryPath == "" {
		cfg.VectorStore.RegistryPath = "./chromemdb/registry.db"
	}

	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = ProviderONNX
	}
	if e.ModelName == "" {
		e.ModelName = models.DefaultProfile.Model
	}
	if e.ModelPath == "" {
		e.ModelPath = "./onnx-output-folder/model.onnx"
	}
	if e.TokenizerPath == "" {
		e.TokenizerPath = "./onnx-output-folder/tokenizer.json"
	}
	if len(e.InputNames) == 0 {
		e.InputNames = []string{"input_ids", "attention_mask", "token_type_ids"}
	}
	if e.OutputName == "" {
		e.OutputName = "last_hidden_state"
	}
	if e.Dimension == 0 {
		e.Dimension = models.DefaultDimension
	}
	if e.Pooling == "" {
		e.Pooling = string(models.PoolingMean)
	}
	if e.Metric == "" {
		e.Metric = string(models.MetricCosine)
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = models.DefaultMaxTokens
	}
	if e.TimeoutSecs == 0 {
		e.TimeoutSecs = 30
	}

	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "all-minilm"
	}

	l := &cfg.InferenceLLM
	if l.Provider == "" {
		l.Provider = ProviderOpenAI
	}
	if l.BaseURL == "" {
		l.BaseURL = "https://openrouter.ai/api/v1"
	}
	if l.Model == "" {
		l.Model = "openai/gpt-4o-mini"
	}
	if l.TimeoutSecs == 0 {
		l.TimeoutSecs = 60
	}

	r := &cfg.RAG
	if r.ChunkSize == 0 {
		r.ChunkSize = models.DefaultChunkSize
	}
	if r.ChunkOverlap == nil {
		overlap := models.DefaultChunkOverlap
		r.ChunkOverlap = &overlap
	}
	if r.TopK == 0 {
		r.TopK = models.DefaultTopK
	}
	if r.MaxUploadBytes == 0 {
		r.MaxUploadBytes = 10 << 20
	}
	if r.StreamPolicy == "" {
		r.StreamPolicy = StreamFinal
	}
}

// Validate rejects settings the pipeline cannot honour.
func (c *Config) Validate() error {
	var errs []error

	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size must be positive"))
	}
	if o := c.RAG.Overlap(); o < 0 || o >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top_k must be positive"))
	}
	if c.RAG.MaxDistance != nil && *c.RAG.MaxDistance < 0 {
		errs = append(errs, fmt.Errorf("rag.max_distance must not be negative"))
	}
	if !oneOf(c.RAG.StreamPolicy, StreamFinal, StreamIncremental) {
		errs = append(errs, fmt.Errorf("rag.stream_policy %q is not one of final, incremental", c.RAG.StreamPolicy))
	}

	if !oneOf(c.VectorStore.Backend, BackendPGVector, BackendChromem, BackendMemory) {
		errs = append(errs, fmt.Errorf("vector_store.backend %q is not one of pgvector, chromem, memory", c.VectorStore.Backend))
	}
	if c.VectorStore.Backend == BackendPGVector && c.Database.URL == "" {
		errs = append(errs, fmt.Errorf("database.url is required for the pgvector backend"))
	}
	if !oneOf(c.Database.Driver, DriverPGDriver, DriverPQ) {
		errs = append(errs, fmt.Errorf("database.driver %q is not one of pgdriver, pq", c.Database.Driver))
	}

	if !oneOf(c.Embedding.Provider, ProviderONNX, ProviderOllama, ProviderOpenAI, ProviderNonSemantic) {
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of onnx, ollama, openai, nonsemantic", c.Embedding.Provider))
	}
	if !oneOf(c.Embedding.Pooling, string(models.PoolingMean), string(models.PoolingCLS)) {
		errs = append(errs, fmt.Errorf("embedding.pooling %q is not one of mean, cls", c.Embedding.Pooling))
	}
	if c.Embedding.Metric != string(models.MetricCosine) {
		errs = append(errs, fmt.Errorf("embedding.metric %q is not supported, only cosine", c.Embedding.Metric))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive"))
	}

	if !oneOf(c.InferenceLLM.Provider, ProviderOpenAI, ProviderOllama, ProviderOffline) {
		errs = append(errs, fmt.Errorf("inference_llm.provider %q is not one of openai, ollama, offline", c.InferenceLLM.Provider))
	}

	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Redacted returns a copy with secrets masked, safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Database.Password = mask(c.Database.Password)
	c.InferenceLLM.Key = mask(c.InferenceLLM.Key)
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.VectorStore.EncryptionKey = mask(c.VectorStore.EncryptionKey)
	return c
}
