package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Memory    MemoryConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      int
	MCPPort   int
	AuthToken string
}

type LLMConfig struct {
	BaseURL       string
	APIKey        string
	AnswerModel   string
	ClassifyModel string
	SummaryModel  string
	EmbedModel    string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	ChunkLimit int
	ItemLimit  int
	SheetLimit int
}

type MemoryConfig struct {
	Window int
}

type IngestConfig struct {
	PollInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		LLM: LLMConfig{
			BaseURL:       "https://openrouter.ai/api/v1",
			AnswerModel:   "anthropic/claude-sonnet-4",
			ClassifyModel: "openai/gpt-4o-mini",
			SummaryModel:  "openai/gpt-4o-mini",
			EmbedModel:    "openai/text-embedding-3-small",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			ChunkLimit: 12,
			ItemLimit:  50,
			SheetLimit: 10,
		},
		Memory: MemoryConfig{
			Window: 4,
		},
		Ingest: IngestConfig{
			PollInterval: "5s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/planchat/config.json, then applies PLANCHAT_*
// environment overrides. Secrets (the LLM API key, the server auth token)
// come from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. Set it via environment variable PLANCHAT_LLM_API_KEY")
	}
	if _, err := time.ParseDuration(cfg.Ingest.PollInterval); err != nil {
		return Config{}, fmt.Errorf("invalid ingest.poll_interval %q: %w", cfg.Ingest.PollInterval, err)
	}

	return cfg, nil
}

// PollInterval returns the parsed ingest poll interval. Load has already
// validated it.
func (c Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Ingest.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
