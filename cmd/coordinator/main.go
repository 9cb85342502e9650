package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/keylol/steambot/internal/coordinator/server"
	"github.com/keylol/steambot/pkg/logger"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// 尽力加载 .env，缺失时回退到真实环境变量
	_ = godotenv.Load()

	var (
		listenAddr  = flag.String("listen", getenv("COORDINATOR_LISTEN", ":8080"), "HTTP 监听地址")
		dbPath      = flag.String("db", getenv("COORDINATOR_DB", "data/coordinator.db"), "SQLite 数据库路径")
		secretsPath = flag.String("secrets", getenv("COORDINATOR_SECRETS", "data/secrets"), "凭证 secretstore 目录")
		username    = flag.String("username", getenv("COORDINATOR_USERNAME", "keylol-bot"), "机器人接入用户名")
		password    = flag.String("password", getenv("COORDINATOR_PASSWORD", ""), "机器人接入密码")
	)
	flag.Parse()

	if err := logger.Init(logger.Config{Level: "info"}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	// 可选：badger 静态加密 key（hex 编码 32 字节）
	var secretsKey []byte
	if raw := os.Getenv("COORDINATOR_SECRETS_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			logrus.Fatalf("COORDINATOR_SECRETS_KEY 必须是 hex 编码的 32 字节")
		}
		secretsKey = key
	}

	srv, err := server.New(server.Config{
		DBPath:      *dbPath,
		SecretsPath: *secretsPath,
		SecretsKey:  secretsKey,
		Username:    *username,
		Password:    *password,
	})
	if err != nil {
		logrus.Fatalf("初始化协调器失败: %v", err)
	}
	defer func() { _ = srv.Close() }()

	httpSrv := &http.Server{
		Addr:              *listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("协调器监听于 %s", *listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("HTTP 服务错误: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("正在停机...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}
