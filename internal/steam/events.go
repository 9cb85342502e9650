package steam

// SteamID 是好友/机器人在 Steam 网络上的稳定标识（steam3 渲染形式，如 [U:1:123456]）
type SteamID string

// Result 登录/连接结果（对应 SteamKit EResult 的子集）
type Result int

const (
	ResultOK Result = iota
	ResultFail
	ResultAccountLogonDenied
	ResultInvalidLoginAuthCode
	ResultServiceUnavailable
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultFail:
		return "Fail"
	case ResultAccountLogonDenied:
		return "AccountLogonDenied"
	case ResultInvalidLoginAuthCode:
		return "InvalidLoginAuthCode"
	case ResultServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "Unknown"
	}
}

// Relationship 好友关系（封闭策略：只显式处理 None/RequestRecipient/Friend）
type Relationship int

const (
	RelationshipNone Relationship = iota
	RelationshipBlocked
	RelationshipRequestRecipient
	RelationshipFriend
	RelationshipRequestInitiator
	RelationshipIgnored
)

// PersonaState 在线状态
type PersonaState int

const (
	PersonaStateOffline PersonaState = iota
	PersonaStateOnline
)

// ChatEntryType 聊天条目类型；非 ChatMsg 一律忽略
type ChatEntryType int

const (
	ChatEntryTypeChatMsg ChatEntryType = iota
	ChatEntryTypeTyping
	ChatEntryTypeInviteGame
	ChatEntryTypeLeftConversation
)

// Event 是 Steam 网络回调的统一事件类型（封闭 tagged union）
// 厂商库的各类回调被归一成单一事件流，由会话的分发循环按到达顺序消费。
type Event interface {
	steamEvent()
}

// ConnectedEvent 连接建立
type ConnectedEvent struct {
	Result Result
}

// DisconnectedEvent 连接断开；SelfInitiated 表示断开由本端 Disconnect() 触发
type DisconnectedEvent struct {
	SelfInitiated bool
}

// LoggedOnEvent 登录结果
type LoggedOnEvent struct {
	Result Result
}

// MachineAuthEvent 设备授权挑战：Data 是需要持久化的 sentry 材料。
// PreHashed 表示厂商库已经算好 SHA-1，Data 即最终哈希，持久化时不得再哈希一次。
type MachineAuthEvent struct {
	Data            []byte
	PreHashed       bool
	FileName        string
	Offset          int
	BytesToWrite    int
	OneTimePassword bool
	JobID           uint64
}

// PersonaStateEvent 某个账号（包括机器人自己）的在线状态变化
type PersonaStateEvent struct {
	FriendID SteamID
	State    PersonaState
}

// FriendEntry 好友列表中的一项
type FriendEntry struct {
	ID           SteamID
	Relationship Relationship
	Individual   bool // 是否个人账号（群组/Clan 不处理）
}

// FriendsListEvent 好友列表更新；Incremental=false 表示全量刷新，需要做对账
type FriendsListEvent struct {
	Incremental bool
	Entries     []FriendEntry
}

// FriendMessageEvent 好友消息
type FriendMessageEvent struct {
	Sender    SteamID
	EntryType ChatEntryType
	Message   string
}

func (ConnectedEvent) steamEvent()     {}
func (DisconnectedEvent) steamEvent()  {}
func (LoggedOnEvent) steamEvent()      {}
func (MachineAuthEvent) steamEvent()   {}
func (PersonaStateEvent) steamEvent()  {}
func (FriendsListEvent) steamEvent()   {}
func (FriendMessageEvent) steamEvent() {}
