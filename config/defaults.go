// =============================================================================
// 📦 PatentFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
		LLM:      DefaultLLMConfig(),
		Pipeline: DefaultPipelineConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8000",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path: "data/patentflow.db",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置。
// API Key 无默认值，必须通过配置文件或环境变量提供。
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		OpenAI:    ProviderConfig{Timeout: 60 * time.Second},
		Claude:    ProviderConfig{Timeout: 120 * time.Second},
		Gemini:    ProviderConfig{Timeout: 60 * time.Second},
		Grok:      ProviderConfig{Timeout: 60 * time.Second},
		Embedding: ProviderConfig{Timeout: 60 * time.Second},
	}
}

// DefaultPipelineConfig 返回默认管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxWorkers:  16,
		QueueSize:   256,
		IndexDir:    "data/index",
		RowDir:      "data/rows",
		ArtifactDir: "data/artifacts",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}
