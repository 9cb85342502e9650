package steam

import "time"

// LogOnDetails 登录凭证；SentryFileHash 为缓存的设备授权哈希（可为 nil）
type LogOnDetails struct {
	Username       string
	Password       string
	AuthCode       string
	SentryFileHash []byte
}

// MachineAuthResponse 对设备授权挑战的应答，回显哈希与挑战元数据
type MachineAuthResponse struct {
	FileName        string
	Offset          int
	FileSize        int
	BytesWritten    int
	SentryFileHash  []byte
	OneTimePassword bool
	JobID           uint64
	Result          Result
}

// Client 是 Steam 厂商库的边界接口。
// 实现必须保证：Poll 只被会话自己的分发循环调用；其余方法可被任意 goroutine 并发调用
// （厂商库本身是线程安全的）。Connect/LogOn 为发起即返回，结果以事件形式到达。
type Client interface {
	Connect()
	Disconnect()
	LogOn(details LogOnDetails)

	// Poll 等待下一个事件，最多阻塞 wait；超时返回 nil
	Poll(wait time.Duration) Event

	SteamID() SteamID
	SetPersonaName(name string)
	SetPersonaState(state PersonaState)

	AddFriend(id SteamID)
	RemoveFriend(id SteamID)
	Relationship(id SteamID) Relationship
	FriendCount() int
	PersonaName(id SteamID) string
	AvatarHash(id SteamID) []byte

	SendMessage(id SteamID, entryType ChatEntryType, message string)
	SendMachineAuthResponse(resp MachineAuthResponse)
}
