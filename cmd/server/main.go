package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/api"
	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/bridge"
	"github.com/apk-analysis/dexkit-bridge/internal/config"
	"github.com/apk-analysis/dexkit-bridge/internal/engine"
	"github.com/apk-analysis/dexkit-bridge/internal/metrics"
	"github.com/apk-analysis/dexkit-bridge/internal/repository"
	"github.com/apk-analysis/dexkit-bridge/internal/watcher"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("DexKit Bridge\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting DexKit Bridge %s", Version)
	if configPath == "" {
		logger.Info("No config file found, using defaults")
	} else {
		logger.Infof("Config loaded from: %s", configPath)
	}

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")
	history := repository.NewLoadRecordRepository(db, logger)

	// 5. Prometheus 指标
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(logger, cfg.Metrics.Namespace, nil)
		logger.Info("Prometheus metrics enabled at /metrics")
	}

	// 6. 构造分发器
	walker := art.NewWalker(nil, nil, cfg.Bridge.Layout(), logger)
	dispatcher := bridge.New(engine.NewFactory(cfg.Bridge.ThreadNum), walker, logger, collector, history)

	// 7. 目录监控
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dexWatcher *watcher.DexWatcher
	if cfg.Watcher.Enabled {
		dexWatcher, err = watcher.NewDexWatcher(watcher.Options{
			Dir:          cfg.Watcher.Dir,
			Patterns:     cfg.Watcher.Patterns,
			Debounce:     cfg.Watcher.Debounce,
			Workers:      cfg.Watcher.Workers,
			ScanExisting: true,
		}, dispatcher, logger)
		if err != nil {
			logger.Fatalf("Failed to create dex watcher: %v", err)
		}
		if err := dexWatcher.Start(ctx); err != nil {
			logger.Fatalf("Failed to start dex watcher: %v", err)
		}
	} else {
		logger.Info("Dex watcher disabled")
	}

	// 8. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, dispatcher, history, collector)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 9. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	if dexWatcher != nil {
		if err := dexWatcher.Stop(); err != nil {
			logger.WithError(err).Warn("Dex watcher stop error")
		}
	}
	cancel()

	// 释放全部引擎句柄
	dispatcher.Close()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}
