package main

import (
	"sync"
	"testing"
	"time"
)

func TestPromptFeedRoundTrip(t *testing.T) {
	p := &consolePrompt{}

	got := make(chan string, 1)
	go func() {
		code, err := p.Prompt("acct-1")
		if err != nil {
			t.Errorf("Prompt 返回错误: %v", err)
		}
		got <- code
	}()

	// 等到有等待者后再喂入输入
	deadline := time.Now().Add(time.Second)
	for !p.Feed("  ABC12  ") {
		if time.Now().After(deadline) {
			t.Fatal("Prompt 未注册等待者")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case code := <-got:
		if code != "ABC12" {
			t.Fatalf("授权码应去除首尾空白，实际 %q", code)
		}
	case <-time.After(time.Second):
		t.Fatal("Prompt 未返回")
	}
}

func TestFeedWithoutWaiter(t *testing.T) {
	p := &consolePrompt{}
	if p.Feed("stray input") {
		t.Fatal("没有等待者时 Feed 应返回 false")
	}
}

func TestConcurrentPromptsAllServed(t *testing.T) {
	p := &consolePrompt{}

	// 多个会话同时进入设备授权：必须逐个提示、逐个收到输入，谁都不能被饿死
	const n = 3
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := p.Prompt("acct")
			if err != nil {
				t.Errorf("Prompt 返回错误: %v", err)
				return
			}
			codes <- code
		}()
	}

	fed := 0
	deadline := time.Now().Add(3 * time.Second)
	for fed < n {
		if p.Feed("CODE") {
			fed++
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("只有 %d/%d 个等待者收到输入", fed, n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("并发 Prompt 未全部返回，存在被覆盖的等待者")
	}
	if len(codes) != n {
		t.Fatalf("应收到 %d 个授权码，实际 %d", n, len(codes))
	}
}
