package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keylol/steambot/internal/coordinator"
)

const dbTimeout = 3 * time.Second

func dbCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), dbTimeout)
}

// handleAllocate 从 secretstore 取出全部机器人账号凭证
func (s *Server) handleAllocate(c *gin.Context) {
	vals, err := s.secrets.ListPrefix("account:")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	creds := make([]coordinator.AccountCredential, 0, len(vals))
	for _, v := range vals {
		var cred coordinator.AccountCredential
		if err := json.Unmarshal(v, &cred); err != nil {
			srvLog.Warnf("凭证解析失败: %v", err)
			continue
		}
		creds = append(creds, cred)
	}
	srvLog.Infof("分配 %d 个机器人账号", len(creds))
	c.JSON(http.StatusOK, creds)
}

func (s *Server) handleHealth(c *gin.Context) {
	var snapshots []coordinator.HealthSnapshot
	if err := c.ShouldBindJSON(&snapshots); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, snap := range snapshots {
		online := 0
		if snap.Online {
			online = 1
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO bot_health (account_id, online, friend_count, steam_id, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(account_id) DO UPDATE SET
			   online=excluded.online, friend_count=excluded.friend_count,
			   steam_id=excluded.steam_id, updated_at=excluded.updated_at`,
			snap.AccountID, online, snap.FriendCount, snap.SteamID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleFriendRequestNotice(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	// fire-and-forget 广播钩子：开发协调器只记日志
	srvLog.Infof("账号 %s 收到好友请求", req.AccountID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) lookupOne(ctx context.Context, steamID string) (*coordinator.BindingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT steam_id, user_id, account_id, status FROM users WHERE steam_id = ?`, steamID)
	var rec coordinator.BindingRecord
	if err := row.Scan(&rec.SteamID, &rec.UserID, &rec.AccountID, &rec.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Server) handleLookup(c *gin.Context) {
	steamID := c.Query("steam_id")
	if steamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "steam_id is required"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	rec, err := s.lookupOne(ctx, steamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleLookupBatch(c *gin.Context) {
	var req struct {
		SteamIDs []string `json:"steam_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	records := make([]coordinator.BindingRecord, 0, len(req.SteamIDs))
	for _, id := range req.SteamIDs {
		rec, err := s.lookupOne(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req struct {
		SteamID string `json:"steam_id"`
		Status  string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if req.Status != string(coordinator.UserStatusNormal) && req.Status != string(coordinator.UserStatusProbationary) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE steam_id = ?`,
		req.Status, time.Now().UTC().Format(time.RFC3339), req.SteamID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleConsumeBindingCode 一次性绑定验证码：命中则原子建立绑定并删除验证码
func (s *Server) handleConsumeBindingCode(c *gin.Context) {
	var req struct {
		Code              string `json:"code"`
		AccountID         string `json:"account_id"`
		SteamID           string `json:"steam_id"`
		DisplayName       string `json:"display_name"`
		AvatarFingerprint string `json:"avatar_fingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM binding_codes WHERE code = ?`, req.Code).Scan(&userID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM binding_codes WHERE code = ?`, req.Code); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (steam_id, user_id, account_id, status, display_name, avatar_fingerprint, updated_at)
		 VALUES (?, ?, ?, 'normal', ?, ?, ?)
		 ON CONFLICT(steam_id) DO UPDATE SET
		   user_id=excluded.user_id, account_id=excluded.account_id, status='normal',
		   display_name=excluded.display_name, avatar_fingerprint=excluded.avatar_fingerprint,
		   updated_at=excluded.updated_at`,
		req.SteamID, userID, req.AccountID, req.DisplayName, req.AvatarFingerprint,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	srvLog.Infof("绑定成功: steam_id=%s user=%s account=%s", req.SteamID, userID, req.AccountID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleConsumeLoginCode 一次性登录验证码：按已绑定用户校验并消费
func (s *Server) handleConsumeLoginCode(c *gin.Context) {
	var req struct {
		SteamID string `json:"steam_id"`
		Code    string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()

	rec, err := s.lookupOne(ctx, req.SteamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_codes WHERE user_id = ? AND code = ?`, rec.UserID, req.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	n, _ := res.RowsAffected()
	c.JSON(http.StatusOK, gin.H{"ok": n > 0})
}

func (s *Server) handleClearBindingToken(c *gin.Context) {
	accountID := c.Query("account_id")
	steamID := c.Query("steam_id")
	ctx, cancel := dbCtx(c)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM binding_codes WHERE account_id = ? AND steam_id = ?`,
		accountID, steamID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAdminAddAccount(c *gin.Context) {
	var cred coordinator.AccountCredential
	if err := c.ShouldBindJSON(&cred); err != nil || cred.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account"})
		return
	}
	data, _ := json.Marshal(cred)
	if err := s.secrets.SetBytes("account:"+cred.AccountID, data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

// handleAdminAddBindingCode 生成待消费的绑定验证码
// account_id/steam_id 在好友流程开始后由 web 侧补写，这里允许为空
func (s *Server) handleAdminAddBindingCode(c *gin.Context) {
	var req struct {
		Code      string `json:"code"`
		UserID    string `json:"user_id"`
		AccountID string `json:"account_id"`
		SteamID   string `json:"steam_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and user_id are required"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO binding_codes (code, user_id, account_id, steam_id) VALUES (?, ?, ?, ?)`,
		req.Code, req.UserID, req.AccountID, req.SteamID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (s *Server) handleAdminAddLoginCode(c *gin.Context) {
	var req struct {
		Code   string `json:"code"`
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and user_id are required"})
		return
	}
	ctx, cancel := dbCtx(c)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO login_codes (code, user_id) VALUES (?, ?)`, req.Code, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (s *Server) handleAdminRemoveFriend(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id"`
		SteamID   string `json:"steam_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	sent := s.PushRemoveFriend(req.AccountID, req.SteamID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "pushed": sent})
}
