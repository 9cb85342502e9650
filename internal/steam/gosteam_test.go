package steam

import (
	"testing"

	gosteam "github.com/Philipp15b/go-steam/v3"
	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
	"github.com/Philipp15b/go-steam/v3/steamid"
)

func TestTranslateLogOnFailed(t *testing.T) {
	c := &GoSteamClient{}

	cases := []struct {
		in   steamlang.EResult
		want Result
	}{
		{steamlang.EResult_AccountLogonDenied, ResultAccountLogonDenied},
		{steamlang.EResult_InvalidLoginAuthCode, ResultInvalidLoginAuthCode},
		{steamlang.EResult_ServiceUnavailable, ResultServiceUnavailable},
	}
	for _, tc := range cases {
		ev := c.translate(&gosteam.LogOnFailedEvent{Result: tc.in})
		if ev == nil {
			t.Fatalf("登录失败事件不能被丢弃: %v", tc.in)
		}
		logOn, ok := ev.(LoggedOnEvent)
		if !ok {
			t.Fatalf("登录失败应映射为 LoggedOnEvent，实际 %T", ev)
		}
		if logOn.Result != tc.want {
			t.Fatalf("结果映射错误: %s != %s", logOn.Result, tc.want)
		}
	}
}

func TestTranslateMachineAuthPreHashed(t *testing.T) {
	c := &GoSteamClient{}
	hash := []byte{1, 2, 3}
	ev := c.translate(&gosteam.MachineAuthUpdateEvent{Hash: hash})
	ma, ok := ev.(MachineAuthEvent)
	if !ok {
		t.Fatalf("设备授权事件映射错误: %T", ev)
	}
	if !ma.PreHashed {
		t.Fatal("go-steam 给出的已是 SHA-1，事件必须标记 PreHashed")
	}
	if string(ma.Data) != string(hash) {
		t.Fatalf("哈希内容不一致: %x", ma.Data)
	}
}

func TestSteamIDRenderParseRoundTrip(t *testing.T) {
	cases := []uint32{1, 42, 76561197, 4294967295}
	for _, acct := range cases {
		raw := steamid.SteamId(uint64(acct) | 0x0110000100000000)
		rendered := renderSteamID(raw)
		back := parseSteamID(rendered)
		if back != raw {
			t.Fatalf("账号 %d 往返不一致: %d -> %s -> %d", acct, uint64(raw), rendered, uint64(back))
		}
	}
}

func TestRenderSteamIDFormat(t *testing.T) {
	raw := steamid.SteamId(uint64(42) | 0x0110000100000000)
	if got := renderSteamID(raw); got != "[U:1:42]" {
		t.Fatalf("steam3 文本格式错误: %s", got)
	}
}

func TestParseSteamIDInvalid(t *testing.T) {
	if got := parseSteamID("garbage"); got != 0 {
		t.Fatalf("无法解析的身份应返回 0，实际 %d", uint64(got))
	}
}
