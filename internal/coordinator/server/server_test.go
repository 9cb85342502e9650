package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keylol/steambot/internal/coordinator"
)

const (
	testUser = "bot"
	testPass = "pw"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *coordinator.Client) {
	t.Helper()
	dir := t.TempDir()
	srv, err := New(Config{
		DBPath:      filepath.Join(dir, "coordinator.db"),
		SecretsPath: filepath.Join(dir, "secrets"),
		Username:    testUser,
		Password:    testPass,
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Close()
	})

	client := coordinator.New(coordinator.Config{
		BaseURL:  hs.URL,
		Username: testUser,
		Password: testPass,
		Timeout:  3 * time.Second,
	})
	return srv, hs, client
}

func adminPost(t *testing.T, baseURL, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.SetBasicAuth(testUser, testPass)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRejectsUnauthenticatedRequests(t *testing.T) {
	_, hs, _ := newTestServer(t)

	resp, err := http.Post(hs.URL+"/bot/allocate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccountAllocationFromSecretStore(t *testing.T) {
	_, hs, client := newTestServer(t)

	resp := adminPost(t, hs.URL, "/admin/accounts", coordinator.AccountCredential{
		AccountID: "a1", LoginName: "bot1", Secret: "s1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = adminPost(t, hs.URL, "/admin/accounts", coordinator.AccountCredential{
		AccountID: "a2", LoginName: "bot2", Secret: "s2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	creds, err := client.AllocateAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 2)
	ids := []string{creds[0].AccountID, creds[1].AccountID}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}

func TestBindingCodeLifecycle(t *testing.T) {
	_, hs, client := newTestServer(t)
	ctx := context.Background()

	// 未绑定身份的查询返回领域层否定答案
	rec, err := client.LookupByIdentity(ctx, "[U:1:42]")
	require.NoError(t, err)
	require.Nil(t, rec)

	resp := adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{
		"code": "BIND-1", "user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// 错误的验证码不消费任何东西
	ok, err := client.ConsumeBindingCode(ctx, "WRONG", "a1", "[U:1:42]", "访客", "ff00")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.ConsumeBindingCode(ctx, "BIND-1", "a1", "[U:1:42]", "访客", "ff00")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err = client.LookupByIdentity(ctx, "[U:1:42]")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "a1", rec.AccountID)
	assert.Equal(t, "normal", rec.Status)

	// 一次性：消费后即失效
	ok, err = client.ConsumeBindingCode(ctx, "BIND-1", "a1", "[U:1:43]", "访客", "ff00")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoginCodeLifecycle(t *testing.T) {
	_, hs, client := newTestServer(t)
	ctx := context.Background()

	adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{"code": "BIND-1", "user_id": "u1"})
	ok, err := client.ConsumeBindingCode(ctx, "BIND-1", "a1", "[U:1:42]", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	adminPost(t, hs.URL, "/admin/login-codes", map[string]string{"code": "LOG-1", "user_id": "u1"})

	// 未绑定身份不能消费登录验证码
	ok, err = client.ConsumeLoginCode(ctx, "[U:1:99]", "LOG-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = client.ConsumeLoginCode(ctx, "[U:1:42]", "LOG-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.ConsumeLoginCode(ctx, "[U:1:42]", "LOG-1")
	require.NoError(t, err)
	assert.False(t, ok, "登录验证码应是一次性的")
}

func TestSetUserStatusRoundTrip(t *testing.T) {
	_, hs, client := newTestServer(t)
	ctx := context.Background()

	adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{"code": "BIND-1", "user_id": "u1"})
	_, err := client.ConsumeBindingCode(ctx, "BIND-1", "a1", "[U:1:42]", "", "")
	require.NoError(t, err)

	require.NoError(t, client.SetUserStatus(ctx, "[U:1:42]", coordinator.UserStatusProbationary))
	rec, err := client.LookupByIdentity(ctx, "[U:1:42]")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "probationary", rec.Status)

	require.NoError(t, client.SetUserStatus(ctx, "[U:1:42]", coordinator.UserStatusNormal))
	rec, err = client.LookupByIdentity(ctx, "[U:1:42]")
	require.NoError(t, err)
	assert.Equal(t, "normal", rec.Status)
}

func TestClearBindingTokenRemovesPendingCode(t *testing.T) {
	_, hs, client := newTestServer(t)
	ctx := context.Background()

	adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{
		"code": "BIND-1", "user_id": "u1", "account_id": "a1", "steam_id": "[U:1:42]",
	})

	require.NoError(t, client.ClearBindingToken(ctx, "a1", "[U:1:42]"))

	ok, err := client.ConsumeBindingCode(ctx, "BIND-1", "a1", "[U:1:42]", "", "")
	require.NoError(t, err)
	assert.False(t, ok, "被清除的绑定 token 不应再可消费")
}

func TestHealthSubmissionAndBatchLookup(t *testing.T) {
	_, hs, client := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, client.SubmitHealth(ctx, []coordinator.HealthSnapshot{
		{AccountID: "a1", Online: true, FriendCount: 3, SteamID: "[U:1:1]"},
		{AccountID: "a2"},
	}))
	// 幂等 upsert
	require.NoError(t, client.SubmitHealth(ctx, []coordinator.HealthSnapshot{
		{AccountID: "a1", Online: false},
	}))

	adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{"code": "B1", "user_id": "u1"})
	adminPost(t, hs.URL, "/admin/binding-codes", map[string]string{"code": "B2", "user_id": "u2"})
	_, err := client.ConsumeBindingCode(ctx, "B1", "a1", "[U:1:10]", "", "")
	require.NoError(t, err)
	_, err = client.ConsumeBindingCode(ctx, "B2", "a2", "[U:1:11]", "", "")
	require.NoError(t, err)

	records, err := client.LookupByIdentities(ctx, []string{"[U:1:10]", "[U:1:11]", "[U:1:12]"})
	require.NoError(t, err)
	require.Len(t, records, 2, "批量查询只返回命中的记录")
}

func TestRemoveFriendPushReachesChannel(t *testing.T) {
	_, hs, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http")
	type received struct{ account, steamID string }
	got := make(chan received, 4)

	p := coordinator.NewPushChannel(wsURL+"/bot/channel", testUser, testPass)
	p.OnRemoveFriend(func(accountID, steamID string) {
		got <- received{accountID, steamID}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// 等通道接入后下发指令；接入前 pushed 为 0
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := adminPost(t, hs.URL, "/admin/remove-friend", map[string]string{
			"account_id": "a1", "steam_id": "[U:1:42]",
		})
		var body struct {
			Pushed int `json:"pushed"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		if body.Pushed > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("下行通道未接入")
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case r := <-got:
		assert.Equal(t, "a1", r.account)
		assert.Equal(t, "[U:1:42]", r.steamID)
	case <-time.After(2 * time.Second):
		t.Fatal("指令未到达机器人进程")
	}
}
