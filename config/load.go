package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ESGRAG_LLM_API_KEY.
const EnvPrefix = "ESGRAG"

// envKeys are the settings that may be overridden from the environment.
var envKeys = []string{
	"retrieval.top_k",
	"retrieval.history_turns",
	"retrieval.variants",
	"retrieval.min_unique_docs",
	"retrieval.max_context_tokens",
	"retrieval.suggest_on_empty",
	"llm.provider",
	"llm.model",
	"llm.api_key",
	"llm.base_url",
	"llm.temperature",
	"llm.max_tokens",
	"llm.rewrite_model",
	"embedding.model",
	"embedding.api_key",
	"embedding.base_url",
	"embedding.dimension",
	"store.backend",
	"store.corpus_path",
	"store.postgres.dsn",
	"store.postgres.table",
	"store.mongo.uri",
	"store.mongo.database",
	"store.mongo.collection",
	"store.mongo.index",
	"redis.addr",
	"redis.password",
	"redis.db",
	"server.addr",
	"server.rate_limit",
	"telemetry.enabled",
}

// Load reads configuration from path (YAML, optional) and the environment,
// layered over Default, and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller supplied viper instance, which lets the CLI
// bind flags before reading.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Embedding.APIKey == "" && cfg.LLM.Provider == ProviderOpenAI {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
