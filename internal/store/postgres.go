package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/config"
	"github.com/castreel/api/internal/model"
)

// NewPostgresDB opens a PostgreSQL connection pool using GORM.
func NewPostgresDB(cfg *config.StoreConfig, env string, logger *zap.Logger) (*gorm.DB, error) {
	gormLog := gormlogger.Default.LogMode(gormlogger.Warn)
	if env == "production" {
		gormLog = gormlogger.Default.LogMode(gormlogger.Error)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&model.CompositeVideo{}, &model.Clip{}); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	logger.Info("database connected", zap.Bool("auto_migrate", cfg.AutoMigrate))
	return db, nil
}

// CloseDB closes the underlying connection pool.
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database object: %w", err)
	}
	return sqlDB.Close()
}

// PostgresStore keeps jobs and clips in two tables.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, job *model.CompositeVideo) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// clips are inserted explicitly below
		if err := tx.Omit("Clips").Create(job).Error; err != nil {
			return err
		}
		if len(job.Clips) == 0 {
			return nil
		}
		return tx.Create(&job.Clips).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("job already exists")
		}
		return apperr.Persistence("create job", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.CompositeVideo, error) {
	var job model.CompositeVideo
	err := s.db.WithContext(ctx).
		Preload("Clips", func(db *gorm.DB) *gorm.DB {
			return db.Order(`"index" ASC`)
		}).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("job")
		}
		return nil, apperr.Persistence("get job", err)
	}
	return &job, nil
}

// SaveJob updates every job column except the cancel flag, which only RequestCancel sets.
func (s *PostgresStore) SaveJob(ctx context.Context, job *model.CompositeVideo) error {
	res := s.db.WithContext(ctx).
		Model(&model.CompositeVideo{ID: job.ID}).
		Select("*").
		Omit("ID", "CreatedAt", "CancelRequested", "Clips").
		Updates(job)
	if res.Error != nil {
		return apperr.Persistence("save job", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Persistence("save job", apperr.NotFound("job"))
	}
	return nil
}

func (s *PostgresStore) SaveClip(ctx context.Context, clip *model.Clip) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "composite_id"}, {Name: "index"}},
			UpdateAll: true,
		}).
		Create(clip).Error
	if err != nil {
		return apperr.Persistence("save clip", err)
	}
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Model(&model.CompositeVideo{}).
		Where("id = ?", id).
		Update("cancel_requested", true)
	if res.Error != nil {
		return apperr.Persistence("request cancel", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("job")
	}
	return nil
}

func (s *PostgresStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var job model.CompositeVideo
	err := s.db.WithContext(ctx).Select("cancel_requested").Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperr.NotFound("job")
		}
		return false, apperr.Persistence("read cancel flag", err)
	}
	return job.CancelRequested, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Persistence("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Persistence("ping", err)
	}
	return nil
}
