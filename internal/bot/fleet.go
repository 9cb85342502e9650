package bot

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keylol/steambot/internal/coordinator"
	"github.com/keylol/steambot/internal/ledger"
	"github.com/keylol/steambot/internal/steam"
	"github.com/keylol/steambot/pkg/sigchan"
	"github.com/keylol/steambot/pkg/syncgroup"
)

const (
	defaultHealthInterval = 60 * time.Second
	healthSubmitTimeout   = 30 * time.Second
)

// Fleet 启动并监管全部机器人会话。
// sessions/byID 只在 Start 时写入一次，之后只读；各会话的状态变化由会话自身持锁。
type Fleet struct {
	coord     Coordinator
	newClient func() steam.Client
	ledger    *ledger.Ledger
	prompt    AuthCodePrompt
	log       *logrus.Entry

	healthInterval time.Duration

	sessions []*Session
	byID     map[string]*Session

	reportNow *sigchan.Chan
	group     *syncgroup.SyncGroup
	cancel    context.CancelFunc
}

// NewFleet 创建集群管理器；newClient 为每个账号构造一个厂商客户端
func NewFleet(coord Coordinator, newClient func() steam.Client, led *ledger.Ledger) *Fleet {
	return &Fleet{
		coord:          coord,
		newClient:      newClient,
		ledger:         led,
		log:            logrus.WithField("component", "fleet"),
		healthInterval: defaultHealthInterval,
		byID:           make(map[string]*Session),
		reportNow:      sigchan.New(1),
		group:          syncgroup.NewSyncGroup(),
	}
}

// SetAuthCodePrompt 注册授权码交互入口，透传给每个会话
func (f *Fleet) SetAuthCodePrompt(p AuthCodePrompt) { f.prompt = p }

// Start 请求账号分配并逐一启动会话，然后开始健康上报周期。
// 分配失败是致命错误：没有凭证就没有会话。
func (f *Fleet) Start(ctx context.Context) error {
	creds, err := f.coord.AllocateAccounts(ctx)
	if err != nil {
		return errors.Wrap(err, "分配机器人账号失败")
	}
	if len(creds) == 0 {
		return errors.New("协调器未分配任何机器人账号")
	}
	f.log.Infof("已分配 %d 个机器人账号", len(creds))

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	for _, cred := range creds {
		s := NewSession(cred, f.newClient(), f.ledger, f.coord)
		s.SetOnOnline(f.reportNow.Emit)
		if f.prompt != nil {
			s.SetAuthCodePrompt(f.prompt)
		}
		f.sessions = append(f.sessions, s)
		f.byID[cred.AccountID] = s
	}
	for _, s := range f.sessions {
		s.Start()
	}

	f.group.Go(func() { f.healthLoop(runCtx) })
	return nil
}

// healthLoop 单发定时器：上报完成后才重置，集群级同一时刻至多一次提交在途；
// 会话上线信号（reportNow）触发提前上报
func (f *Fleet) healthLoop(ctx context.Context) {
	timer := time.NewTimer(f.healthInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-f.reportNow.C():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		f.report(ctx)
		timer.Reset(f.healthInterval)
	}
}

func (f *Fleet) report(ctx context.Context) {
	snapshots := make([]coordinator.HealthSnapshot, 0, len(f.sessions))
	for _, s := range f.sessions {
		snapshots = append(snapshots, s.ReportHealth())
	}
	rctx, cancel := context.WithTimeout(ctx, healthSubmitTimeout)
	defer cancel()
	if err := f.coord.SubmitHealth(rctx, snapshots); err != nil {
		f.log.Warnf("健康上报失败: %v", err)
	}
}

// HandleRemoveFriend 路由协调器下发的移除好友指令；账号未知或不在线时记录并跳过
func (f *Fleet) HandleRemoveFriend(accountID, steamID string) {
	s := f.byID[accountID]
	if s == nil {
		f.log.Warnf("收到未知账号的移除好友指令: account=%s", accountID)
		return
	}
	if s.State() != StateLoggedOnOnline {
		f.log.Warnf("账号 %s 不在线，忽略移除好友指令 steam_id=%s", accountID, steamID)
		return
	}
	f.log.Infof("执行协调器指令：移除好友 account=%s steam_id=%s", accountID, steamID)
	s.RemoveFriend(steamID)
}

// Stop 停止健康周期并关闭所有会话；返回前等待（或在 ctx 超时内尽量等待）
// 所有事件泵退出，保证之后不再有会话碰网络 I/O
func (f *Fleet) Stop(ctx context.Context) {
	if f.cancel != nil {
		f.cancel()
	}
	for _, s := range f.sessions {
		s.Shutdown()
	}
	for _, s := range f.sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			f.log.Warnf("等待会话退出超时: %v", ctx.Err())
			return
		}
	}
	select {
	case <-f.group.WaitChan():
	case <-ctx.Done():
		f.log.Warnf("等待健康周期退出超时: %v", ctx.Err())
		return
	}
	f.log.Info("所有会话已停止")
}
