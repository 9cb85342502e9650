package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  url: https://coordinator.example.com
  username: bot-7
  password: secret
data_dir: /var/lib/steambot
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Coordinator.URL != "https://coordinator.example.com" {
		t.Fatalf("URL 错误: %s", cfg.Coordinator.URL)
	}
	if cfg.Coordinator.Username != "bot-7" {
		t.Fatalf("用户名未覆盖默认值: %s", cfg.Coordinator.Username)
	}
	if cfg.DataDir != "/var/lib/steambot" {
		t.Fatalf("数据目录错误: %s", cfg.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("日志级别错误: %s", cfg.Log.Level)
	}
	// 未显式配置的字段保留默认值
	if cfg.Log.MaxBackups != 3 {
		t.Fatalf("日志默认值丢失: MaxBackups=%d", cfg.Log.MaxBackups)
	}
}

func TestPushURLDerivedFromBaseURL(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  url: https://coordinator.example.com/
  password: secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Coordinator.PushURL != "wss://coordinator.example.com/bot/channel" {
		t.Fatalf("推导的下行通道地址错误: %s", cfg.Coordinator.PushURL)
	}

	path = writeConfig(t, `
coordinator:
  url: http://127.0.0.1:8080
  password: secret
`)
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Coordinator.PushURL != "ws://127.0.0.1:8080/bot/channel" {
		t.Fatalf("推导的下行通道地址错误: %s", cfg.Coordinator.PushURL)
	}
}

func TestExplicitPushURLWins(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  url: http://127.0.0.1:8080
  push_url: ws://other-host:9090/bot/channel
  password: secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Coordinator.PushURL != "ws://other-host:9090/bot/channel" {
		t.Fatalf("显式配置的下行通道地址被覆盖: %s", cfg.Coordinator.PushURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  url: http://file-host:8080
  password: file-pass
`)
	t.Setenv("STEAMBOT_COORDINATOR_URL", "http://env-host:8080")
	t.Setenv("STEAMBOT_COORDINATOR_PASSWORD", "env-pass")
	t.Setenv("STEAMBOT_DATA_DIR", "/env/data")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Coordinator.URL != "http://env-host:8080" {
		t.Fatalf("环境变量应覆盖文件值: %s", cfg.Coordinator.URL)
	}
	if cfg.Coordinator.Password != "env-pass" {
		t.Fatal("环境变量应覆盖文件中的密码")
	}
	if cfg.DataDir != "/env/data" {
		t.Fatalf("环境变量应覆盖数据目录: %s", cfg.DataDir)
	}
}

func TestValidateRejectsMissingPassword(t *testing.T) {
	path := writeConfig(t, `
coordinator:
  url: http://127.0.0.1:8080
`)
	if _, err := Load(path); err == nil {
		t.Fatal("缺少协调器密码应报错")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "no-such.yaml")); err == nil {
		t.Fatal("配置文件不存在应报错")
	}
}
