package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keylol/steambot/pkg/logger"
)

// CoordinatorConfig 协调器接入配置
type CoordinatorConfig struct {
	URL      string `yaml:"url"`      // RPC 基地址，如 http://coordinator:8080
	PushURL  string `yaml:"push_url"` // 下行通道地址；为空时从 URL 推导
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config 机器人进程配置
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	DataDir     string            `yaml:"data_dir"` // 授权产物目录
	Log         logger.Config     `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			URL:      "http://127.0.0.1:8080",
			Username: "keylol-bot",
		},
		DataDir: "data/steambot",
		Log: logger.Config{
			Level:      "info",
			OutputFile: "logs/steambot.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load 读取 YAML 配置（path 可为空），环境变量覆盖文件值
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	applyEnv(cfg)
	if cfg.Coordinator.PushURL == "" {
		cfg.Coordinator.PushURL = derivePushURL(cfg.Coordinator.URL)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STEAMBOT_COORDINATOR_URL"); v != "" {
		cfg.Coordinator.URL = v
	}
	if v := os.Getenv("STEAMBOT_COORDINATOR_PUSH_URL"); v != "" {
		cfg.Coordinator.PushURL = v
	}
	if v := os.Getenv("STEAMBOT_COORDINATOR_USERNAME"); v != "" {
		cfg.Coordinator.Username = v
	}
	if v := os.Getenv("STEAMBOT_COORDINATOR_PASSWORD"); v != "" {
		cfg.Coordinator.Password = v
	}
	if v := os.Getenv("STEAMBOT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STEAMBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STEAMBOT_LOG_FILE"); v != "" {
		cfg.Log.OutputFile = v
	}
}

// derivePushURL http(s) 基地址换成 ws(s)，挂上下行通道路径
func derivePushURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/bot/channel"
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Coordinator.URL) == "" {
		return fmt.Errorf("coordinator.url 不能为空")
	}
	if strings.TrimSpace(c.Coordinator.Password) == "" {
		return fmt.Errorf("coordinator.password 不能为空")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir 不能为空")
	}
	return nil
}
