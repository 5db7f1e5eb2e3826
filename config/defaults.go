// =============================================================================
// 📦 DataForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		TaskRunner: DefaultTaskRunnerConfig(),
		Generation: DefaultGenerationConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Auth:       DefaultAuthConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8757,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultTaskRunnerConfig 返回默认任务执行服务配置
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		BaseURL:      "http://localhost:8337",
		Timeout:      2 * time.Minute,
		GeneratePath: "/api/v1/generate_samples",
		ModelsPath:   "/api/v1/available_models",
	}
}

// DefaultGenerationConfig 返回默认样本生成配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Workers:      5,
		SampleCount:  8,
		DefaultModel: "openai/gpt-4o",
		DefaultKind:  "training",
		CountTokens:  true,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "dataforge.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:       false,
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		ModelCacheTTL: 5 * time.Minute,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "dataforge",
		SampleRate:   0.1,
	}
}
