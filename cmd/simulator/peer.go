package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// 模拟的客户端类型
const (
	modeModern = "modern" // 上报协议标签并应答服务端 ping
	modeLegacy = "legacy" // 不上报标签，按周期主动 ping
	modeSilent = "silent" // 上报标签但从不应答，用于验证超时断开
)

type peer struct {
	mode      string
	namespace string
	tag       string
}

func newPeer(mode, namespace, tag string) (peer, error) {
	switch mode {
	case modeModern, modeLegacy, modeSilent:
	default:
		return peer{}, fmt.Errorf("unknown mode %q", mode)
	}
	if namespace == "" {
		namespace = heartbeat.DefaultNamespace
	}
	return peer{mode: mode, namespace: namespace, tag: tag}, nil
}

// greeting 连接建立后立即发送的报文
func (p peer) greeting() []string {
	if p.mode == modeLegacy || p.tag == "" {
		return nil
	}
	return []string{p.namespace + "::configure::" + p.tag}
}

// legacyPing 旧版客户端周期发送的 ping
func (p peer) legacyPing(now time.Time) string {
	return heartbeat.PingMessage(p.namespace, now)
}

// reply 处理一行服务端报文，返回需要回写的内容，ended 表示服务端要求断开。
func (p peer) reply(line string) (out string, ended bool) {
	if strings.HasPrefix(line, p.namespace+"::end") {
		return "", true
	}
	sig, err := heartbeat.ParseSignal(p.namespace, line)
	if err != nil {
		return "", false
	}
	// 服务端 ping 对端侧解析为 SignalLegacyPing
	if sig.Kind == heartbeat.SignalLegacyPing && p.mode == modeModern {
		return heartbeat.PongMessage(p.namespace, sig.Timestamp), false
	}
	return "", false
}
