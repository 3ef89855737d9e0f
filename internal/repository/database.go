package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/config"
	"github.com/apk-analysis/dexkit-bridge/internal/domain"
	"github.com/apk-analysis/dexkit-bridge/internal/retry"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
func InitDB(cfg *config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	inMemory := false

	switch cfg.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	default:
		// SQLite (fallback)
		path := cfg.Path
		if path == "" {
			path = "./data/dexkit.db"
		}
		if path == ":memory:" {
			// 每个连接都是独立的内存库，只保留一个且不回收
			maxOpen, maxIdle = 1, 1
			inMemory = true
		} else {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	}

	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 关闭 SQL 日志
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	// MySQL 可能晚于本服务就绪，连接失败时退避重试；SQLite 只尝试一次
	policy := retry.DefaultPolicy()
	if cfg.Type != "mysql" {
		policy.MaxAttempts = 1
	} else if cfg.ConnectRetries > 0 {
		policy.MaxAttempts = cfg.ConnectRetries
	}

	var db *gorm.DB
	err := retry.Do(context.Background(), policy, log.WithField("db_type", cfg.Type), func(ctx context.Context) error {
		conn, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return retry.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Type, err)
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if !inMemory {
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := autoMigrate(db, log); err != nil {
		return nil, err
	}
	return db, nil
}

// autoMigrate 自动迁移数据库表结构
func autoMigrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	if err := db.AutoMigrate(&domain.LoadRecord{}); err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}
