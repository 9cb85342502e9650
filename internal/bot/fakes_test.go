package bot

import (
	"context"
	"sync"
	"time"

	"github.com/keylol/steambot/internal/coordinator"
	"github.com/keylol/steambot/internal/steam"
)

// fakeClient 脚本化的厂商客户端：测试往 events 里注入事件，动作被全部记录
type fakeClient struct {
	events chan steam.Event

	mu              sync.Mutex
	selfID          steam.SteamID
	relationships   map[steam.SteamID]steam.Relationship
	names           map[steam.SteamID]string
	avatars         map[steam.SteamID][]byte
	friendCount     int
	connectCalls    int
	disconnectCalls int
	logOns          []steam.LogOnDetails
	added           []steam.SteamID
	removed         []steam.SteamID
	messages        []fakeMessage
	authResponses   []steam.MachineAuthResponse
}

type fakeMessage struct {
	To   steam.SteamID
	Text string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:        make(chan steam.Event, 64),
		selfID:        steam.SteamID("[U:1:1]"),
		relationships: make(map[steam.SteamID]steam.Relationship),
		names:         make(map[steam.SteamID]string),
		avatars:       make(map[steam.SteamID][]byte),
	}
}

func (f *fakeClient) push(ev steam.Event) { f.events <- ev }

func (f *fakeClient) setRelationship(id steam.SteamID, rel steam.Relationship) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationships[id] = rel
}

func (f *fakeClient) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
}

func (f *fakeClient) LogOn(details steam.LogOnDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logOns = append(f.logOns, details)
}

func (f *fakeClient) Poll(wait time.Duration) steam.Event {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ev := <-f.events:
		return ev
	case <-timer.C:
		return nil
	}
}

func (f *fakeClient) SteamID() steam.SteamID { return f.selfID }

func (f *fakeClient) SetPersonaName(name string) {}

func (f *fakeClient) SetPersonaState(state steam.PersonaState) {}

func (f *fakeClient) AddFriend(id steam.SteamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, id)
	f.relationships[id] = steam.RelationshipFriend
}

func (f *fakeClient) RemoveFriend(id steam.SteamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	f.relationships[id] = steam.RelationshipNone
}

func (f *fakeClient) Relationship(id steam.SteamID) steam.Relationship {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relationships[id]
}

func (f *fakeClient) FriendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friendCount
}

func (f *fakeClient) PersonaName(id steam.SteamID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[id]
}

func (f *fakeClient) AvatarHash(id steam.SteamID) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avatars[id]
}

func (f *fakeClient) SendMessage(id steam.SteamID, entryType steam.ChatEntryType, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, fakeMessage{To: id, Text: message})
}

func (f *fakeClient) SendMachineAuthResponse(resp steam.MachineAuthResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authResponses = append(f.authResponses, resp)
}

func (f *fakeClient) snapshot() (connects, disconnects int, logOns []steam.LogOnDetails, added, removed []steam.SteamID, messages []fakeMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	logOns = append(logOns, f.logOns...)
	added = append(added, f.added...)
	removed = append(removed, f.removed...)
	messages = append(messages, f.messages...)
	return f.connectCalls, f.disconnectCalls, logOns, added, removed, messages
}

// fakeCoordinator 内存协调器，记录所有交互
type fakeCoordinator struct {
	mu            sync.Mutex
	creds         []coordinator.AccountCredential
	allocErr      error
	records       map[string]*coordinator.BindingRecord
	bindingCodes  map[string]bool
	loginCodes    map[string]bool
	lookupErr     error
	lookupPanic   bool
	consumeErr    error
	healthBatches [][]coordinator.HealthSnapshot
	healthDelay   time.Duration
	inflight      int
	maxInflight   int
	statusSet     map[string]coordinator.UserStatus
	cleared       []string
	notified      []string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		records:      make(map[string]*coordinator.BindingRecord),
		bindingCodes: make(map[string]bool),
		loginCodes:   make(map[string]bool),
		statusSet:    make(map[string]coordinator.UserStatus),
	}
}

func (f *fakeCoordinator) bind(steamID, userID, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[steamID] = &coordinator.BindingRecord{
		SteamID: steamID, UserID: userID, AccountID: accountID, Status: "normal",
	}
}

func (f *fakeCoordinator) AllocateAccounts(ctx context.Context) ([]coordinator.AccountCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	return f.creds, nil
}

func (f *fakeCoordinator) SubmitHealth(ctx context.Context, snapshots []coordinator.HealthSnapshot) error {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.healthDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inflight--
	f.healthBatches = append(f.healthBatches, snapshots)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoordinator) LookupByIdentity(ctx context.Context, steamID string) (*coordinator.BindingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupPanic {
		panic("lookup exploded")
	}
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	rec, ok := f.records[steamID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeCoordinator) LookupByIdentities(ctx context.Context, steamIDs []string) ([]coordinator.BindingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []coordinator.BindingRecord
	for _, id := range steamIDs {
		if rec, ok := f.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeCoordinator) ConsumeBindingCode(ctx context.Context, code, accountID, steamID, displayName, avatarFingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	if !f.bindingCodes[code] {
		return false, nil
	}
	delete(f.bindingCodes, code)
	f.records[steamID] = &coordinator.BindingRecord{
		SteamID: steamID, UserID: "user-" + code, AccountID: accountID, Status: "normal",
	}
	return true, nil
}

func (f *fakeCoordinator) ConsumeLoginCode(ctx context.Context, steamID, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	if !f.loginCodes[steamID+":"+code] {
		return false, nil
	}
	delete(f.loginCodes, steamID+":"+code)
	return true, nil
}

func (f *fakeCoordinator) SetUserStatus(ctx context.Context, steamID string, status coordinator.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusSet[steamID] = status
	return nil
}

func (f *fakeCoordinator) ClearBindingToken(ctx context.Context, accountID, steamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, accountID+"/"+steamID)
	return nil
}

func (f *fakeCoordinator) NotifyFriendRequestReceived(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, accountID)
	return nil
}
