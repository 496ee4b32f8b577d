package heartbeat

import (
	"strconv"
	"strings"
	"time"
)

const separator = "::"

// SignalKind 入站心跳报文类型。
type SignalKind int

const (
	SignalPong SignalKind = iota + 1
	SignalLegacyPing
)

func (k SignalKind) String() string {
	switch k {
	case SignalPong:
		return "pong"
	case SignalLegacyPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Signal 解析后的入站心跳报文，Timestamp 保留对端原样的关联字段。
type Signal struct {
	Kind      SignalKind
	Timestamp string
}

// PingMessage 构造服务端主动 ping："<ns>::ping::<毫秒时间戳>"。
func PingMessage(namespace string, at time.Time) string {
	return namespace + separator + "ping" + separator + strconv.FormatInt(at.UnixMilli(), 10)
}

// PongMessage 构造 pong 应答，timestamp 原样回填。
func PongMessage(namespace, timestamp string) string {
	return namespace + separator + "pong" + separator + timestamp
}

// IsHeartbeat 判断一行报文是否属于心跳子协议。
func IsHeartbeat(namespace, message string) bool {
	_, err := ParseSignal(namespace, message)
	return err == nil
}

// ParseSignal 解析 "<ns>::pong::<ts>" 与 "<ns>::ping::<ts>"。
// 关联字段取第三段，旧版客户端可能在其后附加更多内容。
func ParseSignal(namespace, message string) (Signal, error) {
	parts := strings.Split(strings.TrimSpace(message), separator)
	if len(parts) < 3 || parts[0] != namespace {
		return Signal{}, ErrNotHeartbeat
	}
	switch parts[1] {
	case "pong":
		return Signal{Kind: SignalPong, Timestamp: parts[2]}, nil
	case "ping":
		return Signal{Kind: SignalLegacyPing, Timestamp: parts[2]}, nil
	}
	return Signal{}, ErrNotHeartbeat
}

// ParseTimestamp 将关联字段解析为时间，仅用于日志与延迟统计。
func (s Signal) ParseTimestamp() (time.Time, bool) {
	ms, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
