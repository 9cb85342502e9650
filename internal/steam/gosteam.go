package steam

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gosteam "github.com/Philipp15b/go-steam/v3"
	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
	"github.com/Philipp15b/go-steam/v3/steamid"
)

// GoSteamClient 把 go-steam 的回调流适配成统一的 Event 联合类型。
// go-steam 自身通过 channel 投递事件，Poll 只是对该 channel 的有界等待。
type GoSteamClient struct {
	client *gosteam.Client

	mu             sync.Mutex
	selfDisconnect bool
}

// NewGoSteamClient 创建厂商库适配器
func NewGoSteamClient() *GoSteamClient {
	return &GoSteamClient{
		client: gosteam.NewClient(),
	}
}

func (c *GoSteamClient) Connect() {
	c.mu.Lock()
	c.selfDisconnect = false
	c.mu.Unlock()
	c.client.Connect()
}

func (c *GoSteamClient) Disconnect() {
	c.mu.Lock()
	c.selfDisconnect = true
	c.mu.Unlock()
	c.client.Disconnect()
}

func (c *GoSteamClient) LogOn(details LogOnDetails) {
	d := &gosteam.LogOnDetails{
		Username: details.Username,
		Password: details.Password,
		AuthCode: details.AuthCode,
	}
	if len(details.SentryFileHash) > 0 {
		d.SentryFileHash = details.SentryFileHash
	}
	c.client.Auth.LogOn(d)
}

// Poll 等待下一个事件，最多阻塞 wait；超时或遇到无需上抛的事件时返回 nil
func (c *GoSteamClient) Poll(wait time.Duration) Event {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ev, ok := <-c.client.Events():
		if !ok {
			return nil
		}
		return c.translate(ev)
	case <-timer.C:
		return nil
	}
}

func (c *GoSteamClient) translate(ev interface{}) Event {
	switch e := ev.(type) {
	case *gosteam.ConnectedEvent:
		return ConnectedEvent{Result: ResultOK}
	case *gosteam.DisconnectedEvent:
		c.mu.Lock()
		self := c.selfDisconnect
		c.mu.Unlock()
		return DisconnectedEvent{SelfInitiated: self}
	case *gosteam.LoggedOnEvent:
		return LoggedOnEvent{Result: fromEResult(e.Result)}
	case *gosteam.LogOnFailedEvent:
		// go-steam 只在成功时发 LoggedOnEvent；被拒（含需要设备授权码）走这条路径
		return LoggedOnEvent{Result: fromEResult(e.Result)}
	case *gosteam.MachineAuthUpdateEvent:
		// go-steam 已对挑战本身作了应答，Hash 是它算好的 SHA-1，
		// 直接交给会话持久化，登录时原样回传
		return MachineAuthEvent{Data: e.Hash, PreHashed: true, FileName: "sentry"}
	case *gosteam.PersonaStateEvent:
		return PersonaStateEvent{
			FriendID: renderSteamID(e.FriendId),
			State:    fromEPersonaState(e.State),
		}
	case *gosteam.FriendsListEvent:
		// go-steam 在全量列表就绪后发出该事件，内容在 social cache 里
		return FriendsListEvent{Incremental: false, Entries: c.snapshotFriends()}
	case *gosteam.FriendStateEvent:
		return FriendsListEvent{
			Incremental: true,
			Entries: []FriendEntry{{
				ID:           renderSteamID(e.SteamId),
				Relationship: fromEFriendRelationship(e.Relationship),
				Individual:   true,
			}},
		}
	case *gosteam.ChatMsgEvent:
		return FriendMessageEvent{
			Sender:    renderSteamID(e.ChatterId),
			EntryType: fromEChatEntryType(e.EntryType),
			Message:   e.Message,
		}
	default:
		return nil
	}
}

func (c *GoSteamClient) snapshotFriends() []FriendEntry {
	friends := c.client.Social.Friends.GetCopy()
	entries := make([]FriendEntry, 0, len(friends))
	for id, friend := range friends {
		entries = append(entries, FriendEntry{
			ID:           renderSteamID(id),
			Relationship: fromEFriendRelationship(friend.Relationship),
			// social cache 只收录个人账号
			Individual: true,
		})
	}
	return entries
}

func (c *GoSteamClient) SteamID() SteamID {
	return renderSteamID(c.client.SteamId())
}

func (c *GoSteamClient) SetPersonaName(name string) {
	c.client.Social.SetPersonaName(name)
}

func (c *GoSteamClient) SetPersonaState(state PersonaState) {
	if state == PersonaStateOnline {
		c.client.Social.SetPersonaState(steamlang.EPersonaState_Online)
	} else {
		c.client.Social.SetPersonaState(steamlang.EPersonaState_Offline)
	}
}

func (c *GoSteamClient) AddFriend(id SteamID) {
	c.client.Social.AddFriend(parseSteamID(id))
}

func (c *GoSteamClient) RemoveFriend(id SteamID) {
	c.client.Social.RemoveFriend(parseSteamID(id))
}

func (c *GoSteamClient) Relationship(id SteamID) Relationship {
	friends := c.client.Social.Friends.GetCopy()
	friend, ok := friends[parseSteamID(id)]
	if !ok {
		return RelationshipNone
	}
	return fromEFriendRelationship(friend.Relationship)
}

func (c *GoSteamClient) FriendCount() int {
	return len(c.client.Social.Friends.GetCopy())
}

func (c *GoSteamClient) PersonaName(id SteamID) string {
	friends := c.client.Social.Friends.GetCopy()
	friend, ok := friends[parseSteamID(id)]
	if !ok {
		return ""
	}
	return friend.Name
}

func (c *GoSteamClient) AvatarHash(id SteamID) []byte {
	friends := c.client.Social.Friends.GetCopy()
	friend, ok := friends[parseSteamID(id)]
	if !ok {
		return nil
	}
	return friend.Avatar
}

func (c *GoSteamClient) SendMessage(id SteamID, entryType ChatEntryType, message string) {
	c.client.Social.SendMessage(parseSteamID(id), toEChatEntryType(entryType), message)
}

// SendMachineAuthResponse go-steam 在库内部完成挑战应答，这里无需再发
func (c *GoSteamClient) SendMachineAuthResponse(resp MachineAuthResponse) {}

// renderSteamID 渲染 steam3 个人账号形式 [U:1:accountid]
func renderSteamID(id steamid.SteamId) SteamID {
	return SteamID(fmt.Sprintf("[U:1:%d]", uint32(uint64(id))))
}

// parseSteamID 从 [U:1:accountid] 还原 64 位 SteamId（公网 universe、个人账号、默认实例）
func parseSteamID(id SteamID) steamid.SteamId {
	s := strings.TrimSuffix(strings.TrimPrefix(string(id), "[U:1:"), "]")
	acct, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return steamid.SteamId(0)
	}
	return steamid.SteamId(acct | 0x0110000100000000)
}

func fromEResult(r steamlang.EResult) Result {
	switch r {
	case steamlang.EResult_OK:
		return ResultOK
	case steamlang.EResult_AccountLogonDenied:
		return ResultAccountLogonDenied
	case steamlang.EResult_InvalidLoginAuthCode:
		return ResultInvalidLoginAuthCode
	case steamlang.EResult_ServiceUnavailable:
		return ResultServiceUnavailable
	default:
		return ResultFail
	}
}

func fromEPersonaState(s steamlang.EPersonaState) PersonaState {
	if s == steamlang.EPersonaState_Offline {
		return PersonaStateOffline
	}
	return PersonaStateOnline
}

func fromEFriendRelationship(r steamlang.EFriendRelationship) Relationship {
	switch r {
	case steamlang.EFriendRelationship_None:
		return RelationshipNone
	case steamlang.EFriendRelationship_Blocked:
		return RelationshipBlocked
	case steamlang.EFriendRelationship_RequestRecipient:
		return RelationshipRequestRecipient
	case steamlang.EFriendRelationship_Friend:
		return RelationshipFriend
	case steamlang.EFriendRelationship_RequestInitiator:
		return RelationshipRequestInitiator
	default:
		return RelationshipIgnored
	}
}

func fromEChatEntryType(t steamlang.EChatEntryType) ChatEntryType {
	switch t {
	case steamlang.EChatEntryType_ChatMsg:
		return ChatEntryTypeChatMsg
	case steamlang.EChatEntryType_Typing:
		return ChatEntryTypeTyping
	case steamlang.EChatEntryType_InviteGame:
		return ChatEntryTypeInviteGame
	default:
		return ChatEntryTypeLeftConversation
	}
}

func toEChatEntryType(t ChatEntryType) steamlang.EChatEntryType {
	switch t {
	case ChatEntryTypeChatMsg:
		return steamlang.EChatEntryType_ChatMsg
	case ChatEntryTypeTyping:
		return steamlang.EChatEntryType_Typing
	default:
		return steamlang.EChatEntryType_ChatMsg
	}
}
