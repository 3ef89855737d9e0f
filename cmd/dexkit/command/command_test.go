package command

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("DEXKIT_DATABASE_TYPE", "sqlite")
	t.Setenv("DEXKIT_DATABASE_PATH", filepath.Join(t.TempDir(), "dexkit.db"))
}

func writeAPK(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.apk")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	zw := zip.NewWriter(file)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("dex\n035\x00"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func writeDex(t *testing.T) string {
	t.Helper()
	b := make([]byte, dexfile.HeaderSize)
	copy(b, "dex\n039\x00")
	binary.LittleEndian.PutUint32(b[32:], dexfile.HeaderSize)
	binary.LittleEndian.PutUint32(b[36:], dexfile.HeaderSize)
	binary.LittleEndian.PutUint32(b[40:], 0x12345678)
	binary.LittleEndian.PutUint32(b[96:], 4) // class_defs_size

	path := filepath.Join(t.TempDir(), "classes.dex")
	require.NoError(t, os.WriteFile(path, b, 0644))
	return path
}

// TestInspect_APK 测试 APK 检查
func TestInspect_APK(t *testing.T) {
	useTempDB(t)
	apk := writeAPK(t, "classes.dex", "classes2.dex", "res/raw/a.dex")

	out, err := run(t, "inspect", apk, "--threads", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "dex_num:    2")
	assert.Contains(t, out, "thread_num: 3")
	assert.NotContains(t, out, "version:")
}

// TestInspect_DexJSON 测试 DEX 文件 JSON 输出
func TestInspect_DexJSON(t *testing.T) {
	useTempDB(t)
	dex := writeDex(t)

	out, err := run(t, "inspect", dex, "--json")
	require.NoError(t, err)

	var res inspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.DexNum)
	require.NotNil(t, res.Header)
	assert.Equal(t, "039", res.Header.Version)
	assert.Equal(t, uint32(4), res.Header.Classes)
}

// TestInspect_Failure 构造失败返回错误
func TestInspect_Failure(t *testing.T) {
	useTempDB(t)

	_, err := run(t, "inspect", filepath.Join(t.TempDir(), "missing.apk"))
	assert.ErrorContains(t, err, "engine construction failed")

	_, err = run(t, "inspect")
	assert.Error(t, err)
}

// TestHistory_RecordedInspect inspect --record 之后 history 可见
func TestHistory_RecordedInspect(t *testing.T) {
	useTempDB(t)
	apk := writeAPK(t, "classes.dex")

	_, err := run(t, "inspect", apk, "--record")
	require.NoError(t, err)
	_, err = run(t, "inspect", filepath.Join(t.TempDir(), "gone.apk"), "--record")
	require.Error(t, err)

	out, err := run(t, "history", "--json")
	require.NoError(t, err)
	var records []*domain.LoadRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)

	modes := []domain.LoadMode{records[0].Mode, records[1].Mode}
	assert.ElementsMatch(t, []domain.LoadMode{domain.LoadModePath, domain.LoadModeFailed}, modes)

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "HANDLE")
	assert.Contains(t, out, apk)

	out, err = run(t, "history", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 2")
	assert.Contains(t, out, "failed: 1")
	assert.Contains(t, out, "released: 1")
}
