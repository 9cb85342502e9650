package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var pushLog = logrus.WithField("component", "coordinator_push")

// RemoveFriendHandler 处理协调器下发的移除好友指令
type RemoveFriendHandler func(accountID, steamID string)

// PushChannel 协调器下行指令通道。
// 由本端主动拨出 WebSocket（协调器在公网，机器人进程往往在 NAT 后），
// 断开后按固定延迟重连，指令按到达顺序派发到注册的 handler。
type PushChannel struct {
	url            string
	username       string
	password       string
	instanceID     string
	reconnectDelay time.Duration

	mu       sync.Mutex
	handlers []RemoveFriendHandler
	conn     *websocket.Conn
}

// NewPushChannel 创建下行通道；url 形如 ws://coordinator:8080/bot/channel
func NewPushChannel(url, username, password string) *PushChannel {
	return &PushChannel{
		url:            url,
		username:       username,
		password:       password,
		instanceID:     uuid.NewString(),
		reconnectDelay: 5 * time.Second,
	}
}

// OnRemoveFriend 注册移除好友指令的处理函数
func (p *PushChannel) OnRemoveFriend(handler RemoveFriendHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Run 维持下行通道直到 ctx 取消（阻塞调用，通常放在独立 goroutine）
func (p *PushChannel) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.connectAndRead(ctx); err != nil {
			pushLog.Warnf("下行通道断开: %v，%s 后重连", err, p.reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *PushChannel) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	auth := base64.StdEncoding.EncodeToString([]byte(p.username + ":" + p.password))
	header.Set("Authorization", "Basic "+auth)
	header.Set("X-Instance-Id", p.instanceID)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, header)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	pushLog.Infof("下行通道已连接: %s", p.url)

	// ctx 取消时关闭连接，解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.dispatch(data)
	}
}

func (p *PushChannel) dispatch(data []byte) {
	var cmd RemoveFriendCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		pushLog.Warnf("下行指令解析失败: %v", err)
		return
	}
	if !strings.EqualFold(cmd.Op, opRemoveFriend) {
		pushLog.Debugf("忽略未知指令: %s", cmd.Op)
		return
	}
	p.mu.Lock()
	handlers := make([]RemoveFriendHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()
	for _, h := range handlers {
		h(cmd.AccountID, cmd.SteamID)
	}
}

// Close 主动关闭当前连接（Run 由 ctx 取消退出）
func (p *PushChannel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
