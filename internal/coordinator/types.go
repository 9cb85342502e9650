package coordinator

// AccountCredential 协调器分配的机器人账号凭证；AccountID 是全局稳定主键
type AccountCredential struct {
	AccountID string `json:"account_id"`
	LoginName string `json:"login_name"`
	Secret    string `json:"secret"`
}

// HealthSnapshot 会话健康快照；Online 为 false 时不带 FriendCount/SteamID
type HealthSnapshot struct {
	AccountID   string `json:"account_id"`
	Online      bool   `json:"online"`
	FriendCount int    `json:"friend_count,omitempty"`
	SteamID     string `json:"steam_id,omitempty"`
}

// BindingRecord 协调器侧的绑定记录：一个 Steam 身份同一时间只属于一个账号
type BindingRecord struct {
	SteamID   string `json:"steam_id"`
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

// UserStatus 平台用户状态
type UserStatus string

const (
	UserStatusNormal       UserStatus = "normal"
	UserStatusProbationary UserStatus = "probationary"
)

// RemoveFriendCommand 协调器下发的移除好友指令
type RemoveFriendCommand struct {
	Op        string `json:"op"`
	AccountID string `json:"account_id"`
	SteamID   string `json:"steam_id"`
}

const opRemoveFriend = "remove_friend"
