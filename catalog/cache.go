package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/taskrunner"
)

// modelsCacheKey 是 task-runner 可用模型列表在 Redis 中的缓存键。
const modelsCacheKey = "dataforge:available_models"

// CacheConfig Redis 缓存配置
type CacheConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 模型列表的缓存过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     "localhost:6379",
		DB:       0,
		TTL:      5 * time.Minute,
		PoolSize: 10,
	}
}

// NewRedisClient 创建并验证 Redis 连接。
func NewRedisClient(cfg CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// ModelLister lists the models the task-runner reports as available.
// *taskrunner.Client satisfies this interface.
type ModelLister interface {
	ListModels(ctx context.Context) ([]taskrunner.RemoteModel, error)
}

// CacheMetrics 记录缓存命中情况。*metrics.Collector 满足该接口。
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// cacheType 是模型列表缓存的指标标签。
const cacheType = "models"

// Service serves the model catalog: the static built-in list plus the
// task-runner's runtime list, cached in Redis with a TTL. The cache is
// best-effort — Redis failures fall through to the task-runner.
type Service struct {
	lister  ModelLister
	redis   *redis.Client
	ttl     time.Duration
	metrics CacheMetrics
	logger  *zap.Logger
}

// NewService creates a catalog service. redis may be nil to disable caching.
func NewService(lister ModelLister, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		lister: lister,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "catalog")),
	}
}

// WithMetrics 设置缓存命中指标记录器
func (s *Service) WithMetrics(m CacheMetrics) *Service {
	s.metrics = m
	return s
}

// AvailableModels returns the task-runner's model list, served from the
// Redis cache when fresh.
func (s *Service) AvailableModels(ctx context.Context) ([]taskrunner.RemoteModel, error) {
	if s.redis != nil {
		data, err := s.redis.Get(ctx, modelsCacheKey).Bytes()
		if err == nil {
			var models []taskrunner.RemoteModel
			if jsonErr := json.Unmarshal(data, &models); jsonErr == nil {
				s.recordHit()
				s.logger.Debug("model list served from cache", zap.Int("models", len(models)))
				return models, nil
			}
			// 缓存内容损坏：删除并回源
			s.redis.Del(ctx, modelsCacheKey)
		} else if err != redis.Nil {
			s.logger.Warn("model cache read failed", zap.Error(err))
		}
		s.recordMiss()
	}

	models, err := s.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(models); err == nil {
			if err := s.redis.Set(ctx, modelsCacheKey, data, s.ttl).Err(); err != nil {
				s.logger.Warn("model cache write failed", zap.Error(err))
			}
		}
	}
	return models, nil
}

func (s *Service) recordHit() {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(cacheType)
	}
}

func (s *Service) recordMiss() {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(cacheType)
	}
}

// Invalidate drops the cached model list.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, modelsCacheKey).Err(); err != nil {
		s.logger.Warn("model cache invalidation failed", zap.Error(err))
	}
}
