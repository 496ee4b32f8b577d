package events

import (
	"encoding/json"

	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// EventType 事件类型，同时作为路由键使用。
type EventType string

const (
	EventTypeConnected    EventType = "spark.connected"
	EventTypeConfigured   EventType = "spark.configured"
	EventTypeClosed       EventType = "spark.closed"
	EventTypeHeartbeat    EventType = "spark.heartbeat"
	EventTypeUnresponsive EventType = "spark.unresponsive"
	EventTypeOutgoingPing EventType = "spark.ping"
	EventTypeEnd          EventType = "spark.end"
)

// TypeOf 将心跳通知映射为事件类型。
func TypeOf(kind heartbeat.EventKind) (EventType, bool) {
	switch kind {
	case heartbeat.EventHeartbeat:
		return EventTypeHeartbeat, true
	case heartbeat.EventUnresponsive:
		return EventTypeUnresponsive, true
	case heartbeat.EventOutgoingPing:
		return EventTypeOutgoingPing, true
	case heartbeat.EventEnd:
		return EventTypeEnd, true
	}
	return "", false
}

// Event 事件基础结构
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp string          `json:"timestamp"`
	SparkID   string          `json:"spark_id"`
	Data      json.RawMessage `json:"data"`
}

// HeartbeatEventData 心跳相关事件数据
type HeartbeatEventData struct {
	Class         string `json:"class"`
	Skipped       int    `json:"skipped,omitempty"`
	PingTimestamp int64  `json:"ping_timestamp,omitempty"`
	At            string `json:"at"`
}

// ConnectedEventData 连接建立事件数据
type ConnectedEventData struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// ConfiguredEventData 会话配置事件数据
type ConfiguredEventData struct {
	ProtocolTag string `json:"protocol_tag"`
	Class       string `json:"class"`
	Version     int    `json:"version,omitempty"`
}

// ClosedEventData 连接关闭事件数据
type ClosedEventData struct {
	Reason string `json:"reason"`
}
