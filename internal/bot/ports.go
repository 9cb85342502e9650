package bot

import (
	"context"

	"github.com/keylol/steambot/internal/coordinator"
)

// Coordinator 是会话与机器人集群依赖的协调器端口。
// 实现必须可被多个会话并发调用；查询未命中返回 (nil, nil)，
// 传输层错误以 error 返回（调用方降级处理，不改变会话状态）。
type Coordinator interface {
	AllocateAccounts(ctx context.Context) ([]coordinator.AccountCredential, error)
	SubmitHealth(ctx context.Context, snapshots []coordinator.HealthSnapshot) error
	LookupByIdentity(ctx context.Context, steamID string) (*coordinator.BindingRecord, error)
	LookupByIdentities(ctx context.Context, steamIDs []string) ([]coordinator.BindingRecord, error)
	ConsumeBindingCode(ctx context.Context, code, accountID, steamID, displayName, avatarFingerprint string) (bool, error)
	ConsumeLoginCode(ctx context.Context, steamID, code string) (bool, error)
	SetUserStatus(ctx context.Context, steamID string, status coordinator.UserStatus) error
	ClearBindingToken(ctx context.Context, accountID, steamID string) error
	NotifyFriendRequestReceived(ctx context.Context, accountID string) error
}
