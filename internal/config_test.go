package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-collab-mindmap/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig 測試配置載入
func TestLoadConfig(t *testing.T) {
	t.Run("空路徑使用預設值", func(t *testing.T) {
		cfg, err := internal.LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, internal.DefaultHeartbeatInterval, cfg.Heartbeat.Interval)
		assert.Equal(t, internal.DefaultConnectionTimeout, cfg.Heartbeat.ConnectionTimeout)
		assert.Equal(t, internal.DefaultStaleTimeout, cfg.Room.StaleTimeout)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("檔案覆蓋部分欄位其餘保留預設", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server:
  port: 9090
heartbeat:
  interval: 10s
log:
  format: json
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
		assert.Equal(t, "json", cfg.Log.Format)

		// 未出現的欄位保留預設
		assert.Equal(t, internal.DefaultConnectionTimeout, cfg.Heartbeat.ConnectionTimeout)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("檔案不存在回傳錯誤", func(t *testing.T) {
		_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("畸形 YAML 回傳錯誤", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))

		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})
}
