package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Heartbeat struct {
		Interval          time.Duration `yaml:"interval"`
		ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	} `yaml:"heartbeat"`

	Room struct {
		StaleTimeout time.Duration `yaml:"stale_timeout"`
	} `yaml:"room"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Heartbeat.Interval = DefaultHeartbeatInterval
	cfg.Heartbeat.ConnectionTimeout = DefaultConnectionTimeout
	cfg.Room.StaleTimeout = DefaultStaleTimeout
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 載入 YAML 配置檔
//
// path 為空時直接使用預設值；檔案中未出現的欄位保留預設。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	return cfg, nil
}
