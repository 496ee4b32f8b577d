package eventbus

import (
	"log/slog"

	"github.com/zboyco/sparkbeat/internal/eventbus/events"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// Forwarder 将心跳通知发布到事件总线，实现 heartbeat.Notifier。
type Forwarder struct {
	bus    EventBus
	logger *slog.Logger
	// skip 中的事件不发布，默认跳过高频的 outgoing::ping 与 heartbeat
	skip map[heartbeat.EventKind]bool
}

// NewForwarder 创建转发器，verbose 为 true 时发布全部事件。
func NewForwarder(bus EventBus, verbose bool, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{bus: bus, logger: logger, skip: map[heartbeat.EventKind]bool{}}
	if !verbose {
		f.skip[heartbeat.EventOutgoingPing] = true
		f.skip[heartbeat.EventHeartbeat] = true
	}
	return f
}

func (f *Forwarder) Notify(e heartbeat.Event) {
	if f.skip[e.Kind] {
		return
	}
	eventType, data, err := events.MarshalHeartbeat(e)
	if err != nil {
		f.logger.Warn("marshal heartbeat event failed", "spark", e.SparkID, "kind", e.Kind, "err", err)
		return
	}
	f.bus.PublishAsync(eventType, data)
}

// PublishConnected 发布连接建立事件
func (f *Forwarder) PublishConnected(sparkID, remoteAddr string) {
	f.publish(events.MarshalConnected(sparkID, remoteAddr))
}

// PublishConfigured 发布会话配置事件
func (f *Forwarder) PublishConfigured(sparkID, tag string, cls heartbeat.Classification) {
	f.publish(events.MarshalConfigured(sparkID, tag, cls))
}

// PublishClosed 发布连接关闭事件
func (f *Forwarder) PublishClosed(sparkID, reason string) {
	f.publish(events.MarshalClosed(sparkID, reason))
}

func (f *Forwarder) publish(eventType events.EventType, data []byte, err error) {
	if err != nil {
		f.logger.Warn("marshal event failed", "type", eventType, "err", err)
		return
	}
	f.bus.PublishAsync(eventType, data)
}
