package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a consolidation engine.
//
// It includes settings for:
//   - LLM provider (fact extraction and summarization)
//   - Embedding provider (query and fact vectorization)
//   - Memory store (persistence backend)
//   - Retrieval tuning (relevance floor, MMR parameters, budgets)
//
// Example:
//
//	config := &engine.Config{
//	    LLM: engine.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4o-mini",
//	    },
//	    Embedder: engine.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    Store: engine.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains memory store configuration.
	Store StoreConfig `json:"store"`

	// Retrieval contains the retrieval tuning parameters.
	Retrieval RetrievalConfig `json:"retrieval"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai (covers any OpenAI-compatible endpoint via
// BaseURL, e.g. DeepSeek, DashScope compatible mode, Ollama).
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default
	// if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the memory store.
//
// Supported providers: sqlite, postgres, mysql.
type StoreConfig struct {
	// Provider is the store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// RetrievalConfig contains the retrieval tuning parameters.
//
// The defaults come from the tuning of the system this engine serves and
// have no documented theoretical derivation; treat them as starting points.
type RetrievalConfig struct {
	// RelevanceFloor is the minimum query similarity for a candidate to
	// enter the rerank pool. Default: 0.25.
	RelevanceFloor float64 `json:"relevance_floor,omitempty"`

	// PoolSize caps the candidate pool before MMR runs. Default: 24.
	PoolSize int `json:"pool_size,omitempty"`

	// MMRK is the MMR output size. Default: 10.
	MMRK int `json:"mmr_k,omitempty"`

	// Lambda is the MMR relevance/diversity trade-off. Default: 0.7.
	Lambda float64 `json:"lambda,omitempty"`

	// BudgetChars is the character budget for the compressed memory block.
	// Default: 1000.
	BudgetChars int `json:"budget_chars,omitempty"`

	// SalienceBump is the increment applied to each memory used in a
	// retrieval result. Default: 0.05.
	SalienceBump float64 `json:"salience_bump,omitempty"`

	// AdmissionFloor is the minimum salience for a distilled fact to be
	// stored. Default: 0.6.
	AdmissionFloor float64 `json:"admission_floor,omitempty"`

	// MaxTranscriptTurns bounds the conversation window rendered for
	// extraction. Default: 12.
	MaxTranscriptTurns int `json:"max_transcript_turns,omitempty"`

	// MinTurnsForDistill is the minimum conversation length before
	// auto-distillation triggers. Default: 4.
	MinTurnsForDistill int `json:"min_turns_for_distill,omitempty"`
}

// Retrieval tuning defaults not owned by the rank or distill packages.
const (
	// DefaultSalienceBump is the default per-use salience increment.
	DefaultSalienceBump = 0.05

	// DefaultMinTurnsForDistill is the default auto-distillation trigger
	// threshold. Below this there isn't enough signal to extract a durable
	// fact reliably.
	DefaultMinTurnsForDistill = 4
)

// applyDefaults fills in zero-valued retrieval parameters.
func (rc *RetrievalConfig) applyDefaults() {
	if rc.RelevanceFloor == 0 {
		rc.RelevanceFloor = 0.25
	}
	if rc.PoolSize == 0 {
		rc.PoolSize = 24
	}
	if rc.MMRK == 0 {
		rc.MMRK = 10
	}
	if rc.Lambda == 0 {
		rc.Lambda = 0.7
	}
	if rc.BudgetChars == 0 {
		rc.BudgetChars = 1000
	}
	if rc.SalienceBump == 0 {
		rc.SalienceBump = DefaultSalienceBump
	}
	if rc.AdmissionFloor == 0 {
		rc.AdmissionFloor = 0.6
	}
	if rc.MaxTranscriptTurns == 0 {
		rc.MaxTranscriptTurns = 12
	}
	if rc.MinTurnsForDistill == 0 {
		rc.MinTurnsForDistill = DefaultMinTurnsForDistill
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_PATH", "./recall.db"),
			"table_name": getEnvOrDefault("SQLITE_TABLE", "memories"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "recall"),
			"table_name": getEnvOrDefault("POSTGRES_TABLE", "memories"),
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "recall"),
			"table_name": getEnvOrDefault("MYSQL_TABLE", "memories"),
		}
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))

	config := &Config{
		LLM: LLMConfig{
			Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
	}

	config.Retrieval.applyDefaults()

	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	config.Retrieval.applyDefaults()

	return &config, nil
}

// Validate validates the retrieval parameters.
//
// Provider fields are validated lazily at construction time, because any of
// the three collaborators may be injected directly instead of being built
// from config.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.RelevanceFloor < -1 || r.RelevanceFloor > 1 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if r.Lambda < 0 || r.Lambda > 1 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if r.PoolSize < 0 || r.MMRK < 0 || r.BudgetChars < 0 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if r.SalienceBump < 0 || r.SalienceBump > 1 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	if r.AdmissionFloor < 0 || r.AdmissionFloor > 1 {
		return NewEngineError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
