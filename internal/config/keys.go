package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PLANCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "PLANCHAT_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.auth_token", typ: kString, env: "PLANCHAT_SERVER_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "llm.base_url", typ: kString, env: "PLANCHAT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "PLANCHAT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.answer_model", typ: kString, env: "PLANCHAT_LLM_ANSWER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.AnswerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnswerModel },
	},
	{
		key: "llm.classify_model", typ: kString, env: "PLANCHAT_LLM_CLASSIFY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ClassifyModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ClassifyModel },
	},
	{
		key: "llm.summary_model", typ: kString, env: "PLANCHAT_LLM_SUMMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.SummaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SummaryModel },
	},
	{
		key: "llm.embed_model", typ: kString, env: "PLANCHAT_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PLANCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.chunk_limit", typ: kInt, env: "PLANCHAT_RETRIEVAL_CHUNK_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkLimit },
	},
	{
		key: "retrieval.item_limit", typ: kInt, env: "PLANCHAT_RETRIEVAL_ITEM_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ItemLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ItemLimit },
	},
	{
		key: "retrieval.sheet_limit", typ: kInt, env: "PLANCHAT_RETRIEVAL_SHEET_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SheetLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.SheetLimit },
	},
	{
		key: "memory.window", typ: kInt, env: "PLANCHAT_MEMORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Memory.Window = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.Window },
	},
	{
		key: "ingest.poll_interval", typ: kString, env: "PLANCHAT_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "PLANCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
