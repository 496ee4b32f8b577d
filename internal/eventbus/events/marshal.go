package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// MarshalHeartbeat 序列化心跳通知
func MarshalHeartbeat(e heartbeat.Event) (EventType, []byte, error) {
	eventType, ok := TypeOf(e.Kind)
	if !ok {
		return "", nil, fmt.Errorf("unsupported heartbeat event %q", e.Kind)
	}
	data := HeartbeatEventData{
		Class:         e.Class.String(),
		Skipped:       e.Skipped,
		PingTimestamp: e.Timestamp,
		At:            e.At.Format(time.RFC3339Nano),
	}
	return marshalEvent(eventType, e.SparkID, data)
}

// MarshalConnected 序列化连接建立事件
func MarshalConnected(sparkID, remoteAddr string) (EventType, []byte, error) {
	return marshalEvent(EventTypeConnected, sparkID, ConnectedEventData{RemoteAddr: remoteAddr})
}

// MarshalConfigured 序列化会话配置事件
func MarshalConfigured(sparkID, tag string, cls heartbeat.Classification) (EventType, []byte, error) {
	data := ConfiguredEventData{
		ProtocolTag: tag,
		Class:       cls.Class.String(),
		Version:     cls.Version,
	}
	return marshalEvent(EventTypeConfigured, sparkID, data)
}

// MarshalClosed 序列化连接关闭事件
func MarshalClosed(sparkID, reason string) (EventType, []byte, error) {
	return marshalEvent(EventTypeClosed, sparkID, ClosedEventData{Reason: reason})
}

// marshalEvent 通用事件序列化
func marshalEvent(eventType EventType, sparkID string, data interface{}) (EventType, []byte, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return "", nil, fmt.Errorf("marshal data: %w", err)
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().Format(time.RFC3339),
		SparkID:   sparkID,
		Data:      dataBytes,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}

	return eventType, eventBytes, nil
}
