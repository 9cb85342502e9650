package main

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// consolePrompt 把控制台输入按序交给等待授权码的会话。
// serial 保证同一时间只有一个会话占用控制台：多个会话同时进入设备授权时
// 逐个提示、逐个等待，后来者排队而不是覆盖前者的等待通道。
type consolePrompt struct {
	serial sync.Mutex

	mu     sync.Mutex
	waiter chan string
}

// Prompt 提示操作员输入指定账号的设备授权码并阻塞等待下一行输入
func (p *consolePrompt) Prompt(accountID string) (string, error) {
	p.serial.Lock()
	defer p.serial.Unlock()

	ch := make(chan string, 1)
	p.mu.Lock()
	p.waiter = ch
	p.mu.Unlock()

	logrus.Warnf("请输入账号 %s 的设备授权码并回车:", accountID)
	return <-ch, nil
}

// Feed 把一行控制台输入交给当前等待中的会话；没有等待者时返回 false
func (p *consolePrompt) Feed(line string) bool {
	p.mu.Lock()
	w := p.waiter
	p.waiter = nil
	p.mu.Unlock()
	if w == nil {
		return false
	}
	w <- strings.TrimSpace(line)
	return true
}
