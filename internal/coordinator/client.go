package coordinator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var clientLog = logrus.WithField("component", "coordinator_client")

// ErrUnavailable 传输层错误（连接失败、超时、非预期状态码）。
// 与领域层的否定答案（绑定不存在、验证码无效）严格区分：后者不是 error。
var ErrUnavailable = errors.New("coordinator unavailable")

// IsUnavailable 判断是否传输层错误
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Config 协调器客户端配置
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client 协调器 RPC 客户端（认证 HTTP JSON 通道）
type Client struct {
	rc *resty.Client
}

// New 创建协调器客户端
func New(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)
	return &Client{rc: rc}
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(endpoint)
	if err != nil {
		clientLog.Debugf("post %s 传输失败: %v", endpoint, err)
		return errors.Wrapf(ErrUnavailable, "post %s: %v", endpoint, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return errors.Wrapf(ErrUnavailable, "post %s: http %d", endpoint, resp.StatusCode())
	}
	return nil
}

// AllocateAccounts 请求分配机器人账号凭证
func (c *Client) AllocateAccounts(ctx context.Context) ([]AccountCredential, error) {
	var creds []AccountCredential
	if err := c.post(ctx, "/bot/allocate", nil, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// SubmitHealth 批量上报健康快照
func (c *Client) SubmitHealth(ctx context.Context, snapshots []HealthSnapshot) error {
	return c.post(ctx, "/bot/health", snapshots, nil)
}

// LookupByIdentity 查询单个 Steam 身份的绑定记录；未绑定返回 (nil, nil)
func (c *Client) LookupByIdentity(ctx context.Context, steamID string) (*BindingRecord, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("steam_id", steamID).
		SetResult(&BindingRecord{}).
		Get("/user/by-steam-id")
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "lookup %s: %v", steamID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Wrapf(ErrUnavailable, "lookup %s: http %d", steamID, resp.StatusCode())
	}
	rec, ok := resp.Result().(*BindingRecord)
	if !ok {
		return nil, errors.Wrap(ErrUnavailable, "lookup: unexpected body")
	}
	return rec, nil
}

// LookupByIdentities 批量查询绑定记录（全量好友对账用）
func (c *Client) LookupByIdentities(ctx context.Context, steamIDs []string) ([]BindingRecord, error) {
	var records []BindingRecord
	body := map[string][]string{"steam_ids": steamIDs}
	if err := c.post(ctx, "/user/by-steam-ids", body, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ConsumeBindingCode 消费一次性绑定验证码，原子地把身份绑定到账号
func (c *Client) ConsumeBindingCode(ctx context.Context, code, accountID, steamID, displayName, avatarFingerprint string) (bool, error) {
	var result struct {
		OK bool `json:"ok"`
	}
	body := map[string]string{
		"code":               code,
		"account_id":         accountID,
		"steam_id":           steamID,
		"display_name":       displayName,
		"avatar_fingerprint": avatarFingerprint,
	}
	if err := c.post(ctx, "/token/binding/consume", body, &result); err != nil {
		return false, err
	}
	return result.OK, nil
}

// ConsumeLoginCode 消费一次性登录验证码
func (c *Client) ConsumeLoginCode(ctx context.Context, steamID, code string) (bool, error) {
	var result struct {
		OK bool `json:"ok"`
	}
	body := map[string]string{
		"steam_id": steamID,
		"code":     code,
	}
	if err := c.post(ctx, "/token/login/consume", body, &result); err != nil {
		return false, err
	}
	return result.OK, nil
}

// SetUserStatus 设置被绑定用户的状态（normal / probationary）
func (c *Client) SetUserStatus(ctx context.Context, steamID string, status UserStatus) error {
	body := map[string]string{
		"steam_id": steamID,
		"status":   string(status),
	}
	return c.post(ctx, "/user/status", body, nil)
}

// ClearBindingToken 清除身份的未完成绑定 token（验证超时或对方解除好友时）
func (c *Client) ClearBindingToken(ctx context.Context, accountID, steamID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("account_id", accountID).
		SetQueryParam("steam_id", steamID).
		Delete("/token/binding")
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "clear binding token: %v", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return errors.Wrapf(ErrUnavailable, "clear binding token: http %d", resp.StatusCode())
	}
	return nil
}

// NotifyFriendRequestReceived 广播「收到好友请求」（fire-and-forget 挂钩）
func (c *Client) NotifyFriendRequestReceived(ctx context.Context, accountID string) error {
	body := map[string]string{"account_id": accountID}
	return c.post(ctx, "/bot/friend-request", body, nil)
}
