package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/keylol/steambot/internal/coordinator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 机器人进程直连，无浏览器跨域问题
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub 维护已接入的机器人进程下行连接
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	_ = conn.Close()
}

// broadcast 向所有在线机器人进程推送一条指令
func (h *hub) broadcast(data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			srvLog.Warnf("下行推送失败: %v", err)
			delete(h.conns, conn)
			_ = conn.Close()
			continue
		}
		sent++
	}
	return sent
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// handleChannel 升级为 WebSocket 并保持连接；机器人进程只收不发
func (s *Server) handleChannel(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		srvLog.Warnf("下行通道升级失败: %v", err)
		return
	}
	instance := c.GetHeader("X-Instance-Id")
	srvLog.Infof("机器人进程已接入下行通道: instance=%s", instance)
	s.hub.add(conn)
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				srvLog.Infof("下行通道断开: instance=%s", instance)
				return
			}
		}
	}()
}

// PushRemoveFriend 把移除好友指令推给所有机器人进程；由持有对应账号的进程执行
func (s *Server) PushRemoveFriend(accountID, steamID string) int {
	cmd := coordinator.RemoveFriendCommand{
		Op:        "remove_friend",
		AccountID: accountID,
		SteamID:   steamID,
	}
	data, _ := json.Marshal(cmd)
	return s.hub.broadcast(data)
}
