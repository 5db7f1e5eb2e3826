package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/api/handlers"
	"github.com/dataforge-ai/dataforge/catalog"
	"github.com/dataforge-ai/dataforge/config"
	"github.com/dataforge-ai/dataforge/gen"
	"github.com/dataforge-ai/dataforge/internal/metrics"
	"github.com/dataforge-ai/dataforge/internal/server"
	"github.com/dataforge-ai/dataforge/internal/telemetry"
	"github.com/dataforge-ai/dataforge/store"
	"github.com/dataforge-ai/dataforge/taskrunner"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 DataForge 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	apiManager     *server.Manager
	metricsManager *server.Manager

	// 核心组件
	store      *store.Store
	taskRunner *taskrunner.Client
	redis      *redis.Client
	catalog    *catalog.Service
	genService *gen.Service

	// Handlers
	healthHandler *handlers.HealthHandler
	runsHandler   *handlers.RunsHandler
	modelsHandler *handlers.ModelsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("dataforge", s.logger)

	// 2. 初始化核心组件（存储、task-runner、目录、生成服务）
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 API 服务器
	if err := s.startAPIServer(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("api_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("task_runner", s.cfg.TaskRunner.BaseURL),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 初始化存储、task-runner 客户端、模型目录与生成服务
func (s *Server) initComponents() error {
	// 持久化存储
	st, err := store.Open(store.Config{
		Driver:          s.cfg.Database.Driver,
		DSN:             s.cfg.Database.DSN(),
		MaxIdleConns:    s.cfg.Database.MaxIdleConns,
		MaxOpenConns:    s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st

	// task-runner 客户端
	s.taskRunner = taskrunner.New(taskrunner.Config{
		BaseURL:      s.cfg.TaskRunner.BaseURL,
		APIKey:       s.cfg.TaskRunner.APIKey,
		Timeout:      s.cfg.TaskRunner.Timeout,
		GeneratePath: s.cfg.TaskRunner.GeneratePath,
		ModelsPath:   s.cfg.TaskRunner.ModelsPath,
	}, s.logger)

	// 模型目录（Redis 缓存可选，不可用时直连 task-runner）
	if s.cfg.Redis.Enabled {
		rdb, err := catalog.NewRedisClient(catalog.CacheConfig{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
			TTL:      s.cfg.Redis.ModelCacheTTL,
		})
		if err != nil {
			s.logger.Warn("Redis not available, model list will not be cached", zap.Error(err))
		} else {
			s.redis = rdb
		}
	}
	s.catalog = catalog.NewService(s.taskRunner, s.redis, s.cfg.Redis.ModelCacheTTL, s.logger).
		WithMetrics(s.metricsCollector)

	// 生成服务
	s.genService = gen.NewService(s.taskRunner, s.store, gen.ServiceConfig{
		Workers:  s.cfg.Generation.Workers,
		Observer: s.metricsCollector,
		Metrics:  s.metricsCollector,
	}, s.logger)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.store.HealthCheck))
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("task_runner", func(ctx context.Context) error {
		_, err := s.taskRunner.HealthCheck(ctx)
		return err
	}))

	// 运行 handler
	s.runsHandler = handlers.NewRunsHandler(
		s.genService,
		s.store,
		s.metricsCollector,
		s.cfg.Generation.CountTokens,
		s.logger,
	).WithDefaults(handlers.RunDefaults{
		Model:       s.cfg.Generation.DefaultModel,
		Kind:        s.cfg.Generation.DefaultKind,
		SampleCount: s.cfg.Generation.SampleCount,
	})

	// 模型目录 handler
	s.modelsHandler = handlers.NewModelsHandler(s.catalog, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 API 服务器
// =============================================================================

// startAPIServer 启动 API 服务器
func (s *Server) startAPIServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("GET /api/v1/models", s.modelsHandler.HandleList)
	mux.HandleFunc("POST /api/v1/runs", s.runsHandler.HandleStart)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.runsHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/runs/{id}/save", s.runsHandler.HandleSave)
	mux.HandleFunc("GET /api/v1/runs/{id}/ws", s.runsHandler.HandleStream)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger, s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.apiManager = server.NewManager("api", handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.apiManager.Start(); err != nil {
		return err
	}

	s.logger.Info("API server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.apiManager != nil {
		s.apiManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 API 服务器（停止接受新请求；进行中的运行继续写入存储）
	if s.apiManager != nil {
		if err := s.apiManager.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Redis 连接
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Store shutdown error", zap.Error(err))
		}
	}

	// 6. 关闭遥测
	if s.otelProviders != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := s.otelProviders.Shutdown(flushCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
