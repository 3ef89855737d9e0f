package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type         string `mapstructure:"type"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"db_name"`
	Path         string `mapstructure:"path"` // sqlite 文件路径，":memory:" 为内存库
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`

	ConnectRetries int `mapstructure:"connect_retries"` // MySQL 启动期连接重试次数
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// BridgeConfig 构造桥配置
type BridgeConfig struct {
	ThreadNum  int              `mapstructure:"thread_num"` // 新引擎默认线程数，<=0 时使用 CPU 数
	Descriptor DescriptorConfig `mapstructure:"descriptor"`
}

// DescriptorConfig 运行时 DexFile 描述符布局（字节偏移）
type DescriptorConfig struct {
	BeginOffset int `mapstructure:"begin_offset"`
	SizeOffset  int `mapstructure:"size_offset"`
}

// MetricsConfig Prometheus 配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// WatcherConfig 目录监听配置
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Patterns []string      `mapstructure:"patterns"` // glob，匹配文件名
	Debounce time.Duration `mapstructure:"debounce"`
	Workers  int           `mapstructure:"workers"` // 并发构造数
}

// Layout 转换为描述符布局
func (c BridgeConfig) Layout() art.DescriptorLayout {
	return art.DescriptorLayout{
		BeginOffset: uintptr(c.Descriptor.BeginOffset),
		SizeOffset:  uintptr(c.Descriptor.SizeOffset),
	}
}

// Validate 检查配置的基本合法性
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}
	d := c.Bridge.Descriptor
	if d.BeginOffset < 0 || d.SizeOffset < 0 {
		return fmt.Errorf("descriptor offsets must be non-negative")
	}
	// 两个字段都按指针宽度读取
	if gap := d.BeginOffset - d.SizeOffset; gap > -memory.WordSize && gap < memory.WordSize {
		return fmt.Errorf("descriptor begin_offset (%d) and size_offset (%d) overlap", d.BeginOffset, d.SizeOffset)
	}
	if c.Watcher.Enabled && c.Watcher.Dir == "" {
		return fmt.Errorf("watcher enabled without dir")
	}
	return nil
}

// Default 返回无配置文件时使用的默认配置
func Default() *Config {
	layout := art.DefaultDescriptorLayout()
	return &Config{
		Server: ServerConfig{Port: 8080, Mode: "release"},
		Database: DatabaseConfig{
			Type:         "sqlite",
			Path:         "./data/dexkit.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,

			ConnectRetries: 5,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Bridge: BridgeConfig{
			Descriptor: DescriptorConfig{
				BeginOffset: int(layout.BeginOffset),
				SizeOffset:  int(layout.SizeOffset),
			},
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "dexkit"},
		Watcher: WatcherConfig{
			Patterns: []string{"*.apk", "*.dex"},
			Debounce: 2 * time.Second,
			Workers:  2,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.connect_retries", d.Database.ConnectRetries)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("bridge.thread_num", d.Bridge.ThreadNum)
	v.SetDefault("bridge.descriptor.begin_offset", d.Bridge.Descriptor.BeginOffset)
	v.SetDefault("bridge.descriptor.size_offset", d.Bridge.Descriptor.SizeOffset)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("watcher.enabled", d.Watcher.Enabled)
	v.SetDefault("watcher.patterns", d.Watcher.Patterns)
	v.SetDefault("watcher.debounce", d.Watcher.Debounce)
	v.SetDefault("watcher.workers", d.Watcher.Workers)
}

// Load 读取 YAML 配置；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	// 环境变量覆盖（支持嵌套配置），例如 DEXKIT_SERVER_PORT
	v.SetEnvPrefix("DEXKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Database
	v.BindEnv("database.host", "DEXKIT_DB_HOST")
	v.BindEnv("database.port", "DEXKIT_DB_PORT")
	v.BindEnv("database.user", "DEXKIT_DB_USER")
	v.BindEnv("database.password", "DEXKIT_DB_PASS")
	v.BindEnv("database.db_name", "DEXKIT_DB_NAME")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
