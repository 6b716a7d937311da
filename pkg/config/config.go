package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Session   SessionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint          string
	SectionCollection string
	ChunkCollection   string
	VectorDim         int
	SearchTimeoutSec  int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey               string
	Model                string
	EmbeddingModel       string
	Temperature          float32
	MaxTokens            int
	CompletionTimeoutSec int
	EmbeddingTimeoutSec  int
}

type RetrievalConfig struct {
	CoarseK            int
	FineN              int
	ContextBudget      int
	SnippetMaxChars    int
	MinQueryTokens     int
	MaxSectionDistance float64
}

type SessionConfig struct {
	HistoryLimit    int
	RewriterWindow  int
	TTLHours        int
	StoreTimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/policy-chatbot")

	viper.SetEnvPrefix("POLICY_CHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/policies.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.sectionCollection", "policy_sections")
	viper.SetDefault("milvus.chunkCollection", "policy_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.searchTimeoutSec", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 800)
	viper.SetDefault("llm.completionTimeoutSec", 30)
	viper.SetDefault("llm.embeddingTimeoutSec", 15)

	viper.SetDefault("retrieval.coarseK", 4)
	viper.SetDefault("retrieval.fineN", 6)
	viper.SetDefault("retrieval.contextBudget", 4800)
	viper.SetDefault("retrieval.snippetMaxChars", 900)
	viper.SetDefault("retrieval.minQueryTokens", 2)
	viper.SetDefault("retrieval.maxSectionDistance", 1.25)

	viper.SetDefault("session.historyLimit", 12)
	viper.SetDefault("session.rewriterWindow", 6)
	viper.SetDefault("session.ttlHours", 72)
	viper.SetDefault("session.storeTimeoutSec", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
