package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// TestLoad_Defaults 无配置文件时使用默认值
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "dexkit", cfg.Metrics.Namespace)
	assert.Equal(t, []string{"*.apk", "*.dex"}, cfg.Watcher.Patterns)
	assert.Equal(t, 2*time.Second, cfg.Watcher.Debounce)
	assert.Equal(t, 2, cfg.Watcher.Workers)
	assert.Equal(t, art.DefaultDescriptorLayout(), cfg.Bridge.Layout())
}

// TestLoad_File 读取 YAML
func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  mode: debug
database:
  type: mysql
  host: db.local
  db_name: dexkit
log:
  level: debug
  format: json
bridge:
  thread_num: 4
  descriptor:
    begin_offset: 16
    size_offset: 24
watcher:
  enabled: true
  dir: /data/incoming
  debounce: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "db.local", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 4, cfg.Bridge.ThreadNum)
	assert.Equal(t, art.DescriptorLayout{BeginOffset: 16, SizeOffset: 24}, cfg.Bridge.Layout())
	assert.True(t, cfg.Watcher.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
}

// TestLoad_EnvOverride 环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DEXKIT_DB_HOST", "env-host")
	t.Setenv("DEXKIT_SERVER_PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
}

// TestLoad_Invalid 非法配置
func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, "database:\n  type: postgres\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "unsupported database type")

	path = writeConfig(t, "bridge:\n  descriptor:\n    begin_offset: 8\n    size_offset: 8\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "overlap")

	for _, off := range [][2]int{{0, memory.WordSize - 1}, {memory.WordSize - 1, 0}, {16, 16 + memory.WordSize/2}} {
		path = writeConfig(t, fmt.Sprintf("bridge:\n  descriptor:\n    begin_offset: %d\n    size_offset: %d\n", off[0], off[1]))
		_, err = Load(path)
		assert.ErrorContains(t, err, "overlap", "offsets %v", off)
	}

	path = writeConfig(t, fmt.Sprintf("bridge:\n  descriptor:\n    begin_offset: 0\n    size_offset: %d\n", memory.WordSize))
	_, err = Load(path)
	assert.NoError(t, err, "adjacent words do not overlap")

	path = writeConfig(t, "watcher:\n  enabled: true\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "watcher enabled without dir")
}

// TestNewLogger 测试日志器
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LogConfig{Level: "warn", Format: "json"}, &buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	fallback := NewLogger(&LogConfig{Level: "bogus"}, &buf)
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
	_, ok := fallback.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
