package heartbeat

import "time"

// EventKind 本地通知名称，与原有事件名保持一致。
type EventKind string

const (
	EventUnresponsive EventKind = "unresponsive"
	EventOutgoingPing EventKind = "outgoing::ping"
	EventHeartbeat    EventKind = "heartbeat"
	EventEnd          EventKind = "end"
)

// Event 监视器发出的一次通知。
type Event struct {
	SparkID string
	Kind    EventKind
	At      time.Time
	Class   Class
	Skipped int
	// Timestamp 为 outgoing::ping 写出的毫秒时间戳，其它事件为 0。
	Timestamp int64
}

// Notifier 接收监视器通知，实现方不得阻塞。
type Notifier interface {
	Notify(Event)
}

// NotifierFunc 函数适配器。
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Notifiers 依次转发给多个接收方。
type Notifiers []Notifier

func (ns Notifiers) Notify(e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(e)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
