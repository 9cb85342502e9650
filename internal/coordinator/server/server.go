package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/keylol/steambot/pkg/secretstore"
)

var srvLog = logrus.WithField("component", "coordinator_server")

// Config 开发用协调器配置
type Config struct {
	DBPath      string
	SecretsPath string // badger 目录，存机器人账号凭证
	SecretsKey  []byte // 可选：badger 静态加密 key（32 字节）
	Username    string // 机器人接入的 basic auth
	Password    string
}

// Server 实现协调器 RPC 契约的服务端（开发/联调用）。
// 绑定与用户在 sqlite，机器人账号凭证在 badger secretstore，
// 下行指令走 WebSocket 推送。
type Server struct {
	cfg     Config
	db      *sql.DB
	secrets *secretstore.Store
	hub     *hub
}

// New 打开存储并建表
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	if cfg.SecretsPath == "" {
		return nil, errors.New("secrets path is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("auth password is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite：单连接更稳定
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretsPath,
		EncryptionKey: cfg.SecretsKey,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open secretstore: %w", err)
	}

	s := &Server{cfg: cfg, db: db, secrets: secrets, hub: newHub()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = secrets.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			steam_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'normal',
			display_name TEXT NOT NULL DEFAULT '',
			avatar_fingerprint TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS binding_codes (
			code TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			account_id TEXT NOT NULL DEFAULT '',
			steam_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS login_codes (
			code TEXT NOT NULL,
			user_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bot_health (
			account_id TEXT PRIMARY KEY,
			online INTEGER NOT NULL,
			friend_count INTEGER NOT NULL DEFAULT 0,
			steam_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close 关闭存储与推送通道
func (s *Server) Close() error {
	s.hub.closeAll()
	if s.secrets != nil {
		_ = s.secrets.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Router 组装路由；/bot 与 /user /token 走机器人 basic auth，/admin 同账号复用
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	authed := r.Group("/", gin.BasicAuth(gin.Accounts{s.cfg.Username: s.cfg.Password}))

	authed.POST("/bot/allocate", s.handleAllocate)
	authed.POST("/bot/health", s.handleHealth)
	authed.POST("/bot/friend-request", s.handleFriendRequestNotice)
	authed.GET("/bot/channel", s.handleChannel)

	authed.GET("/user/by-steam-id", s.handleLookup)
	authed.POST("/user/by-steam-ids", s.handleLookupBatch)
	authed.POST("/user/status", s.handleSetStatus)

	authed.POST("/token/binding/consume", s.handleConsumeBindingCode)
	authed.POST("/token/login/consume", s.handleConsumeLoginCode)
	authed.DELETE("/token/binding", s.handleClearBindingToken)

	authed.POST("/admin/accounts", s.handleAdminAddAccount)
	authed.POST("/admin/binding-codes", s.handleAdminAddBindingCode)
	authed.POST("/admin/login-codes", s.handleAdminAddLoginCode)
	authed.POST("/admin/remove-friend", s.handleAdminRemoveFriend)

	return r
}
