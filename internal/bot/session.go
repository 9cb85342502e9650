package bot

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keylol/steambot/internal/coordinator"
	"github.com/keylol/steambot/internal/ledger"
	"github.com/keylol/steambot/internal/steam"
)

// SessionState 会话状态机
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnectedNotLoggedOn
	StateMachineAuthPending
	StateLoggedOnNotOnline
	StateLoggedOnOnline
	StateDisposing
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnectedNotLoggedOn:
		return "ConnectedNotLoggedOn"
	case StateMachineAuthPending:
		return "MachineAuthPending"
	case StateLoggedOnNotOnline:
		return "LoggedOnNotOnline"
	case StateLoggedOnOnline:
		return "LoggedOnOnline"
	case StateDisposing:
		return "Disposing"
	default:
		return "Unknown"
	}
}

const (
	defaultPollWait       = 500 * time.Millisecond
	defaultReconnectDelay = 2 * time.Second
	defaultVerifyWindow   = 5 * time.Minute
	rpcTimeout            = 15 * time.Second

	personaName = "其乐机器人"

	msgBindPrompt    = "请输入您的绑定验证码"
	msgBindOK        = "绑定成功"
	msgCodeInvalid   = "验证码无效"
	msgLoginOK       = "登录成功"
	msgVerifyTimeout = "本次操作超时"
)

// AuthCodePrompt 在有人值守模式下向操作员索取设备授权码；无人值守时为 nil
type AuthCodePrompt func(accountID string) (string, error)

// 定时器以 tick 事件的形式进入与网络事件相同的分发点，保持会话内严格有序
type reconnectTick struct{}
type verifyTick struct{ id steam.SteamID }

// Session 驱动一个账号：连接 → 登录 → 在线运行。
// 分发循环是会话对 transport 的唯一执行线；需要调用协调器的 handler
// 以独立 goroutine 延续执行，绝不阻塞轮询。
type Session struct {
	cred   coordinator.AccountCredential
	client steam.Client
	ledger *ledger.Ledger
	coord  Coordinator
	log    *logrus.Entry

	onOnline       func()
	promptAuthCode AuthCodePrompt

	pollWait       time.Duration
	reconnectDelay time.Duration
	verifyWindow   time.Duration

	mu          sync.Mutex
	state       SessionState
	sentry      []byte
	authCode    string
	pending     map[steam.SteamID]time.Time
	reconnectAt time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewSession 创建会话；若 ledger 中存在该账号的授权哈希则预载，冷启动跳过重复授权
func NewSession(cred coordinator.AccountCredential, client steam.Client, led *ledger.Ledger, coord Coordinator) *Session {
	s := &Session{
		cred:           cred,
		client:         client,
		ledger:         led,
		coord:          coord,
		log:            logrus.WithField("component", "bot_session").WithField("account", cred.AccountID),
		pollWait:       defaultPollWait,
		reconnectDelay: defaultReconnectDelay,
		verifyWindow:   defaultVerifyWindow,
		state:          StateDisconnected,
		pending:        make(map[steam.SteamID]time.Time),
		done:           make(chan struct{}),
	}
	if led != nil {
		if blob, ok, err := led.Get(cred.AccountID); err != nil {
			s.log.Warnf("读取授权产物失败: %v", err)
		} else if ok {
			s.sentry = blob
			s.log.Infof("使用缓存的 sentry hash（%d 字节）", len(blob))
		}
	}
	return s
}

// SetOnOnline 注册进入 LoggedOnOnline 时的回调（触发即时健康上报）
func (s *Session) SetOnOnline(fn func()) { s.onOnline = fn }

// SetAuthCodePrompt 注册授权码交互入口（有人值守模式）
func (s *Session) SetAuthCodePrompt(fn AuthCodePrompt) { s.promptAuthCode = fn }

// Start 启动会话（幂等）
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Done 在事件泵退出后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Shutdown 请求关闭：终止事件泵、断开连接；幂等，可从任意 goroutine 调用
func (s *Session) Shutdown() {
	s.stopOnce.Do(func() {
		s.setState(StateDisposing)
		s.log.Info("会话关闭中...")
		s.client.Disconnect()
	})
}

// State 返回当前状态
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReportHealth 生成健康快照；只有 LoggedOnOnline 才报告在线
func (s *Session) ReportHealth() coordinator.HealthSnapshot {
	snap := coordinator.HealthSnapshot{AccountID: s.cred.AccountID}
	if s.State() == StateLoggedOnOnline {
		snap.Online = true
		snap.FriendCount = s.client.FriendCount()
		snap.SteamID = string(s.client.SteamID())
	}
	return snap
}

// RemoveFriend 移除好友（协调器下发指令的入口）
func (s *Session) RemoveFriend(steamID string) {
	s.client.RemoveFriend(steam.SteamID(steamID))
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return
	}
	if s.state == StateDisposing {
		// Disposing 是终态
		return
	}
	s.log.Infof("状态变化: %s -> %s", s.state, next)
	s.state = next
}

func (s *Session) disposing() bool {
	return s.State() == StateDisposing
}

// run 是会话的事件泵：有界等待轮询 transport，事件按到达顺序同步分发；
// 每次轮询边界检查到期的定时器并以 tick 事件派发
func (s *Session) run() {
	defer close(s.done)
	s.log.Info("会话启动，开始连接")
	s.client.Connect()
	for !s.disposing() {
		if ev := s.client.Poll(s.pollWait); ev != nil {
			s.dispatch(ev)
		}
		for _, tick := range s.dueTicks(time.Now()) {
			s.dispatch(tick)
		}
	}
	s.log.Info("事件泵已停止")
}

// dueTicks 取出所有到期的定时器事件；pending 项在取出时即删除，保证不泄漏
func (s *Session) dueTicks(now time.Time) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ticks []any
	if !s.reconnectAt.IsZero() && !now.Before(s.reconnectAt) {
		s.reconnectAt = time.Time{}
		ticks = append(ticks, reconnectTick{})
	}
	for id, deadline := range s.pending {
		if !now.Before(deadline) {
			delete(s.pending, id)
			ticks = append(ticks, verifyTick{id: id})
		}
	}
	return ticks
}

// dispatch 单一分发点；handler 内 panic 不终止事件泵
func (s *Session) dispatch(ev any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("事件处理 panic: %v", r)
		}
	}()
	switch e := ev.(type) {
	case steam.ConnectedEvent:
		s.onConnected(e)
	case steam.DisconnectedEvent:
		s.onDisconnected(e)
	case steam.LoggedOnEvent:
		s.onLoggedOn(e)
	case steam.MachineAuthEvent:
		s.onMachineAuth(e)
	case steam.PersonaStateEvent:
		s.onPersonaState(e)
	case steam.FriendsListEvent:
		// 协调器调用放在独立延续里，不阻塞事件泵
		s.continuation("好友列表", func() { s.handleFriendsList(e) })
	case steam.FriendMessageEvent:
		if e.EntryType != steam.ChatEntryTypeChatMsg {
			return
		}
		s.continuation("好友消息", func() { s.handleFriendMessage(e) })
	case reconnectTick:
		s.onReconnectTick()
	case verifyTick:
		id := e.id
		s.continuation("验证超时", func() { s.handleVerifyTimeout(id) })
	}
}

// continuation 在独立 goroutine 中执行 handler；延续里的 panic 同样不得波及进程
func (s *Session) continuation(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("%s处理 panic: %v", name, r)
			}
		}()
		fn()
	}()
}

func (s *Session) onConnected(e steam.ConnectedEvent) {
	if e.Result != steam.ResultOK {
		s.log.Errorf("连接失败: %s", e.Result)
		return
	}
	s.setState(StateConnectedNotLoggedOn)
	s.log.Info("已连接，提交登录凭证")
	s.mu.Lock()
	details := steam.LogOnDetails{
		Username:       s.cred.LoginName,
		Password:       s.cred.Secret,
		AuthCode:       s.authCode,
		SentryFileHash: s.sentry,
	}
	s.mu.Unlock()
	s.client.LogOn(details)
}

func (s *Session) onDisconnected(e steam.DisconnectedEvent) {
	if s.disposing() {
		return
	}
	s.setState(StateDisconnected)
	if e.SelfInitiated {
		s.log.Info("本端主动断开，不重连")
		return
	}
	s.log.Warnf("连接断开，%s 后重连", s.reconnectDelay)
	s.mu.Lock()
	s.reconnectAt = time.Now().Add(s.reconnectDelay)
	s.mu.Unlock()
}

func (s *Session) onReconnectTick() {
	if s.disposing() {
		return
	}
	s.log.Info("重新连接...")
	s.client.Connect()
}

func (s *Session) onLoggedOn(e steam.LoggedOnEvent) {
	switch e.Result {
	case steam.ResultOK:
		s.setState(StateLoggedOnNotOnline)
		s.client.SetPersonaName(personaName)
		s.client.SetPersonaState(steam.PersonaStateOnline)

	case steam.ResultAccountLogonDenied, steam.ResultInvalidLoginAuthCode:
		s.setState(StateMachineAuthPending)
		s.log.Errorf("登录需要设备授权码")
		if s.promptAuthCode == nil {
			// 无人值守没有自动恢复路径，停在这里等运维介入
			s.log.Errorf("无人值守模式无法获取授权码，需要运维介入")
			return
		}
		code, err := s.promptAuthCode(s.cred.AccountID)
		if err != nil || strings.TrimSpace(code) == "" {
			s.log.Errorf("读取授权码失败: %v", err)
			return
		}
		s.mu.Lock()
		s.authCode = strings.TrimSpace(code)
		s.mu.Unlock()

	default:
		// 其他登录失败只记录，留在断开/失败状态；重连走标准断开路径
		s.log.Errorf("登录失败: %s", e.Result)
	}
}

// onMachineAuth 持久化授权材料的稳定哈希并回显应答；
// 厂商库已经哈希过的材料原样保存，重复哈希会让下次登录被拒
func (s *Session) onMachineAuth(e steam.MachineAuthEvent) {
	hash := e.Data
	if !e.PreHashed {
		sum := sha1.Sum(e.Data)
		hash = sum[:]
	}

	if s.ledger != nil {
		if err := s.ledger.Put(s.cred.AccountID, hash); err != nil {
			s.log.Errorf("持久化 sentry hash 失败: %v", err)
		} else {
			s.log.Info("sentry hash 已持久化")
		}
	}
	s.mu.Lock()
	s.sentry = hash
	s.mu.Unlock()

	s.client.SendMachineAuthResponse(steam.MachineAuthResponse{
		FileName:        e.FileName,
		Offset:          e.Offset,
		FileSize:        e.BytesToWrite,
		BytesWritten:    e.BytesToWrite,
		SentryFileHash:  hash,
		OneTimePassword: e.OneTimePassword,
		JobID:           e.JobID,
		Result:          steam.ResultOK,
	})
}

func (s *Session) onPersonaState(e steam.PersonaStateEvent) {
	if e.FriendID != s.client.SteamID() || e.State != steam.PersonaStateOnline {
		return
	}
	// 只有登录与上线都在本次连接内成功才算在线
	if s.State() != StateLoggedOnNotOnline {
		return
	}
	s.setState(StateLoggedOnOnline)
	s.log.Info("登录成功，已上线")
	if s.onOnline != nil {
		s.onOnline()
	}
}

func (s *Session) handleFriendsList(e steam.FriendsListEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	if !e.Incremental {
		s.reconcile(ctx, e.Entries)
	}
	for _, entry := range e.Entries {
		if !entry.Individual {
			continue
		}
		switch entry.Relationship {
		case steam.RelationshipRequestRecipient:
			s.handleFriendRequest(ctx, entry.ID)
		case steam.RelationshipFriend:
			// 已是好友，无需处理
		case steam.RelationshipNone:
			s.handleFriendGone(ctx, entry.ID)
		default:
			// 封闭策略：未显式处理的关系一律移除
			s.log.Infof("未处理的好友关系 %d，移除 %s", entry.Relationship, entry.ID)
			s.client.RemoveFriend(entry.ID)
		}
	}
}

// reconcile 全量刷新时对账：已接受的好友若绑定在其他账号上则移除，
// 修复崩溃或协调器侧改绑造成的漂移
func (s *Session) reconcile(ctx context.Context, entries []steam.FriendEntry) {
	var friends []steam.SteamID
	var ids []string
	for _, entry := range entries {
		if entry.Individual && entry.Relationship == steam.RelationshipFriend {
			friends = append(friends, entry.ID)
			ids = append(ids, string(entry.ID))
		}
	}
	if len(friends) == 0 {
		return
	}
	records, err := s.coord.LookupByIdentities(ctx, ids)
	if err != nil {
		s.log.Warnf("好友对账查询失败: %v", err)
		return
	}
	owner := make(map[string]string, len(records))
	for _, rec := range records {
		owner[rec.SteamID] = rec.AccountID
	}
	for _, id := range friends {
		acct, bound := owner[string(id)]
		if bound && acct != s.cred.AccountID {
			s.log.Infof("对账：%s 绑定在账号 %s 上，移除", id, acct)
			s.client.RemoveFriend(id)
		}
	}
}

func (s *Session) handleFriendRequest(ctx context.Context, id steam.SteamID) {
	rec, err := s.coord.LookupByIdentity(ctx, string(id))
	if err != nil {
		// 协调器不可用时的安全默认：跳过本次请求，不接受也不移除
		s.log.Warnf("查询绑定失败，跳过好友请求 %s: %v", id, err)
		return
	}
	switch {
	case rec == nil:
		// 未绑定：接受请求，发送验证提示，开 5 分钟验证窗口
		s.client.AddFriend(id)
		s.client.SendMessage(id, steam.ChatEntryTypeChatMsg, msgBindPrompt)
		if err := s.coord.NotifyFriendRequestReceived(ctx, s.cred.AccountID); err != nil {
			s.log.Debugf("好友请求广播失败: %v", err)
		}
		s.addPending(id)

	case rec.AccountID == s.cred.AccountID:
		s.client.AddFriend(id)
		if err := s.coord.SetUserStatus(ctx, string(id), coordinator.UserStatusNormal); err != nil {
			s.log.Warnf("设置用户状态失败 %s: %v", id, err)
		}

	default:
		// 一个身份同一时间只能是一个账号的好友
		s.log.Infof("%s 已绑定在账号 %s 上，拒绝好友请求", id, rec.AccountID)
		s.client.RemoveFriend(id)
	}
}

func (s *Session) handleFriendGone(ctx context.Context, id steam.SteamID) {
	s.removePending(id)
	rec, err := s.coord.LookupByIdentity(ctx, string(id))
	if err != nil {
		s.log.Warnf("查询绑定失败 %s: %v", id, err)
		return
	}
	if rec == nil {
		if err := s.coord.ClearBindingToken(ctx, s.cred.AccountID, string(id)); err != nil {
			s.log.Warnf("清除绑定 token 失败 %s: %v", id, err)
		}
		return
	}
	if rec.AccountID == s.cred.AccountID {
		if err := s.coord.SetUserStatus(ctx, string(id), coordinator.UserStatusProbationary); err != nil {
			s.log.Warnf("降级用户状态失败 %s: %v", id, err)
		}
	}
}

// handleVerifyTimeout 验证窗口到期：仍是好友且仍未绑定时移除并通知
func (s *Session) handleVerifyTimeout(id steam.SteamID) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	if s.client.Relationship(id) != steam.RelationshipFriend {
		return
	}
	rec, err := s.coord.LookupByIdentity(ctx, string(id))
	if err != nil {
		s.log.Warnf("验证超时查询失败 %s: %v", id, err)
		return
	}
	if rec != nil {
		// 窗口内完成了绑定
		return
	}
	s.log.Infof("验证超时，移除好友 %s", id)
	s.client.SendMessage(id, steam.ChatEntryTypeChatMsg, msgVerifyTimeout)
	s.client.RemoveFriend(id)
	if err := s.coord.ClearBindingToken(ctx, s.cred.AccountID, string(id)); err != nil {
		s.log.Warnf("通知绑定超时失败 %s: %v", id, err)
	}
}

func (s *Session) handleFriendMessage(e steam.FriendMessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	rec, err := s.coord.LookupByIdentity(ctx, string(e.Sender))
	if err != nil {
		// 协调器失败对远端表现为验证码无效，绝不静默丢弃
		s.log.Warnf("查询绑定失败 %s: %v", e.Sender, err)
		s.client.SendMessage(e.Sender, steam.ChatEntryTypeChatMsg, msgCodeInvalid)
		return
	}
	if rec == nil {
		// 未绑定：消息体按一次性绑定验证码处理
		name := s.client.PersonaName(e.Sender)
		avatar := strings.ToLower(hex.EncodeToString(s.client.AvatarHash(e.Sender)))
		ok, err := s.coord.ConsumeBindingCode(ctx, e.Message, s.cred.AccountID, string(e.Sender), name, avatar)
		if err == nil && ok {
			s.removePending(e.Sender)
			s.client.SendMessage(e.Sender, steam.ChatEntryTypeChatMsg, msgBindOK)
		} else {
			if err != nil {
				s.log.Warnf("消费绑定验证码失败 %s: %v", e.Sender, err)
			}
			s.client.SendMessage(e.Sender, steam.ChatEntryTypeChatMsg, msgCodeInvalid)
		}
		return
	}
	// 已绑定：消息体按一次性登录验证码处理
	ok, err := s.coord.ConsumeLoginCode(ctx, string(e.Sender), e.Message)
	if err == nil && ok {
		s.client.SendMessage(e.Sender, steam.ChatEntryTypeChatMsg, msgLoginOK)
	} else {
		if err != nil {
			s.log.Warnf("消费登录验证码失败 %s: %v", e.Sender, err)
		}
		s.client.SendMessage(e.Sender, steam.ChatEntryTypeChatMsg, msgCodeInvalid)
	}
}

// addPending 登记验证窗口；同一身份同一时间至多一个
func (s *Session) addPending(id steam.SteamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[id]; !exists {
		s.pending[id] = time.Now().Add(s.verifyWindow)
	}
}

func (s *Session) removePending(id steam.SteamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
