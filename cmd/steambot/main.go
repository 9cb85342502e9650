package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/keylol/steambot/internal/bot"
	"github.com/keylol/steambot/internal/config"
	"github.com/keylol/steambot/internal/coordinator"
	"github.com/keylol/steambot/internal/ledger"
	"github.com/keylol/steambot/internal/steam"
	"github.com/keylol/steambot/pkg/logger"
	"github.com/keylol/steambot/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（YAML）")
	attended := flag.Bool("attended", false, "有人值守模式：控制台交互，回车或 q 触发有序停机")
	flag.Parse()

	// 尽力加载 .env，缺失时回退到真实环境变量
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logrus.Infof("协调器地址: %s", cfg.Coordinator.URL)

	led, err := ledger.New(cfg.DataDir)
	if err != nil {
		logrus.Fatalf("初始化授权产物目录失败: %v", err)
	}

	coordClient := coordinator.New(coordinator.Config{
		BaseURL:  cfg.Coordinator.URL,
		Username: cfg.Coordinator.Username,
		Password: cfg.Coordinator.Password,
	})
	push := coordinator.NewPushChannel(cfg.Coordinator.PushURL, cfg.Coordinator.Username, cfg.Coordinator.Password)

	fleet := bot.NewFleet(coordClient, func() steam.Client { return steam.NewGoSteamClient() }, led)

	// 有人值守模式：控制台输入既用于停机，也用于设备授权码交互
	prompt := &consolePrompt{}
	lines := make(chan string)
	if *attended {
		fleet.SetAuthCodePrompt(prompt.Prompt)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := fleet.Start(runCtx); err != nil {
		logrus.Fatalf("启动机器人集群失败: %v", err)
	}
	push.OnRemoveFriend(fleet.HandleRemoveFriend)
	go push.Run(runCtx)

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context) {
		cancelRun()
		push.Close()
		fleet.Stop(ctx)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if *attended {
		logrus.Info("有人值守模式运行中，回车或输入 q 停止")
	}

loop:
	for {
		select {
		case s := <-sig:
			logrus.Infof("收到信号 %v，开始停机", s)
			break loop
		case line, ok := <-lines:
			if !ok {
				// stdin 关闭（非交互环境），只等信号
				<-sig
				break loop
			}
			// 有等待中的授权码请求时，本行优先交给它
			if prompt.Feed(line) {
				continue
			}
			if line == "" || strings.EqualFold(strings.TrimSpace(line), "q") {
				logrus.Info("收到控制台停机指令")
				break loop
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
}
