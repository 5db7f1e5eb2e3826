package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dataforge-ai/dataforge/types"
)

// =============================================================================
// 🗄️ 存储层
// =============================================================================

// saveBatchSize 批量写入样本时每个事务的行数上限。
const saveBatchSize = 200

// Config 存储配置
type Config struct {
	// 驱动: sqlite 或 postgres
	Driver string `yaml:"driver" json:"driver"`

	// 连接串。sqlite 为文件路径（:memory: 表示内存库）
	DSN string `yaml:"dsn" json:"dsn"`

	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "dataforge.db",
		MaxIdleConns:    5,
		MaxOpenConns:    25,
		ConnMaxLifetime: time.Hour,
	}
}

// Store 封装运行与样本的持久化操作
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开数据库连接并自动迁移表结构。
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "store"))

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 自动迁移所有表格
	if err := db.AutoMigrate(&Run{}, &RunOutcome{}, &SavedSample{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("database opened",
		zap.String("driver", cfg.Driver),
		zap.String("dsn", cfg.DSN))

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB 用现有的 gorm.DB 构建 Store（测试用）。
func NewWithDB(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck 验证数据库连接可用。
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateRun 创建运行记录。
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return types.NewError(types.ErrStorage, "failed to create run").WithCause(err)
	}
	return nil
}

// FinishRun 在批次结束时回填状态与统计。
func (s *Store) FinishRun(ctx context.Context, id, status string, total, succeeded int) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(map[string]any{
		"status":      status,
		"total":       total,
		"succeeded":   succeeded,
		"finished_at": &now,
	})
	if res.Error != nil {
		return types.NewError(types.ErrStorage, "failed to finish run").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("run %s not found", id))
	}
	return nil
}

// RecordOutcome 追加单个主题的生成结果。
func (s *Store) RecordOutcome(ctx context.Context, outcome *RunOutcome) error {
	if err := s.db.WithContext(ctx).Create(outcome).Error; err != nil {
		return types.NewError(types.ErrStorage, "failed to record outcome").WithCause(err)
	}
	return nil
}

// GetRun 按 ID 查询运行及其主题结果。
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Preload("Outcomes").First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("run %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to load run").WithCause(err)
	}
	return &run, nil
}

// ListRuns 按创建时间倒序返回最近的运行。
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to list runs").WithCause(err)
	}
	return runs, nil
}

// SaveSamples 批量写入已确认的样本。大批次拆块并发写入，
// 任一块失败则整体报错（已写入的块不回滚，调用方可重试）。
func (s *Store) SaveSamples(ctx context.Context, samples []SavedSample) error {
	if len(samples) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(samples); start += saveBatchSize {
		end := start + saveBatchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[start:end]
		g.Go(func() error {
			return s.db.WithContext(ctx).Create(&batch).Error
		})
	}

	if err := g.Wait(); err != nil {
		return types.NewError(types.ErrStorage, "failed to save samples").WithCause(err)
	}
	s.logger.Info("samples saved", zap.Int("count", len(samples)))
	return nil
}

// SamplesForRun 返回某次运行已保存的样本。
func (s *Store) SamplesForRun(ctx context.Context, runID string) ([]SavedSample, error) {
	var samples []SavedSample
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("created_at ASC").Find(&samples).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to load samples").WithCause(err)
	}
	return samples, nil
}
