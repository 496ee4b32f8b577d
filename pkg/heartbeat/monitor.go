// Package heartbeat 实现 spark 连接的存活检测：协议版本判定、ping/pong 交换、
// 漏跳容忍以及对失联连接的强制关闭。
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Spark 监视器依赖的最小连接接口，由连接框架提供。
type Spark interface {
	ID() string
	// Write 异步写出一行报文，不得阻塞。
	Write(payload string) error
	// End 强制关闭连接，reconnect 为提示对端重连的标记。
	End(reconnect bool) error
}

// State 单个连接的存活状态，由监视器独占。
// LegacySignalled 仅在收到对端旧版 ping 时置位，LastLegacyPing 也可能只是首次 tick 的计时起点。
type State struct {
	ConnectedAt     time.Time `json:"connected_at"`
	ProtocolTag     string    `json:"protocol_tag,omitempty"`
	TagSet          bool      `json:"tag_set"`
	Alive           bool      `json:"alive"`
	LastLegacyPing  time.Time `json:"last_legacy_ping,omitempty"`
	LegacySignalled bool      `json:"legacy_signalled"`
	Skipped         int       `json:"skipped"`
	Closed          bool      `json:"closed"`
}

// TickState 一次 tick 结束后所处的状态。
type TickState int

const (
	StateAwaitingClassification TickState = iota
	StateLegacyWait
	StateLegacyDead
	StateModernArmed
	StateModernUnresponsive
	StateClosed
)

func (s TickState) String() string {
	switch s {
	case StateAwaitingClassification:
		return "awaiting_classification"
	case StateLegacyWait:
		return "legacy_wait"
	case StateLegacyDead:
		return "legacy_dead"
	case StateModernArmed:
		return "modern_armed"
	case StateModernUnresponsive:
		return "modern_unresponsive"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options 构造监视器的可选参数。
type Options struct {
	Policy   Policy
	Notifier Notifier
	Logger   *slog.Logger
}

// Monitor 与连接一一对应的心跳状态机。
// OnTick、OnPeerSignal 等入口在同一把锁内串行执行。
type Monitor struct {
	spark    Spark
	policy   Policy
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	state State

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewMonitor 为连接创建监视器，connectedAt 为连接建立时间。
func NewMonitor(spark Spark, connectedAt time.Time, opts Options) (*Monitor, error) {
	if spark == nil {
		return nil, ErrMissingSpark
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		spark:    spark,
		policy:   opts.Policy.Resolve(),
		notifier: notifier,
		logger:   logger.With("spark", spark.ID()),
		state: State{
			ConnectedAt: connectedAt,
			Alive:       true,
		},
		done: make(chan struct{}),
	}, nil
}

// ID 返回所监视连接的标识。
func (m *Monitor) ID() string { return m.spark.ID() }

// Policy 返回已补齐默认值的策略。
func (m *Monitor) Policy() Policy { return m.policy }

// Snapshot 返回当前状态副本。
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Closed = m.closed.Load()
	return s
}

// Classification 返回当前协议分类。
func (m *Monitor) Classification() Classification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Classify(m.state, m.policy)
}

// SetProtocolTag 记录对端在会话配置阶段声明的协议标识，只允许设置一次。
func (m *Monitor) SetProtocolTag(tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.TagSet {
		return ErrProtocolTagSet
	}
	m.state.ProtocolTag = tag
	m.state.TagSet = true
	m.logger.Debug("protocol tag configured", "tag", tag, "class", Classify(m.state, m.policy).Class)
	return nil
}

// OnTick 处理一次心跳定时，返回处理后的状态。
func (m *Monitor) OnTick(now time.Time) TickState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return StateClosed
	}

	cls := Classify(m.state, m.policy)

	// 新连接在窗口内等待对端完成协议配置
	if cls.Class == ClassUnknown && now.Sub(m.state.ConnectedAt) <= m.policy.Grace() {
		return StateAwaitingClassification
	}

	if !m.state.Alive {
		m.endUnresponsiveLocked(now, cls.Class)
		if cls.Class == ClassModern {
			return StateModernUnresponsive
		}
		return StateLegacyDead
	}

	if cls.Class != ClassModern {
		return m.legacyTickLocked(now, cls.Class)
	}

	m.state.Skipped = 0
	m.state.Alive = false
	m.notifier.Notify(Event{
		SparkID:   m.spark.ID(),
		Kind:      EventOutgoingPing,
		At:        now,
		Class:     ClassModern,
		Timestamp: now.UnixMilli(),
	})
	if err := m.spark.Write(PingMessage(m.policy.Namespace, now)); err != nil {
		m.logger.Warn("write ping failed", "err", err)
	}
	return StateModernArmed
}

// legacyTickLocked 旧版客户端只做静默超时判断，服务端从不主动 ping。
func (m *Monitor) legacyTickLocked(now time.Time, class Class) TickState {
	if m.state.LastLegacyPing.IsZero() {
		m.state.LastLegacyPing = now
		return StateLegacyWait
	}
	threshold := m.policy.LegacyThreshold()
	if elapsed := now.Sub(m.state.LastLegacyPing); elapsed > threshold {
		m.state.Alive = false
		m.logger.Warn("legacy client unresponsive", "elapsed", elapsed, "threshold", threshold)
		m.endUnresponsiveLocked(now, class)
		return StateLegacyDead
	}
	return StateLegacyWait
}

// EndUnresponsive 记录一次无响应，超出容忍次数后强制关闭连接。
// 返回 true 表示本次调用关闭了连接。
func (m *Monitor) EndUnresponsive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endUnresponsiveLocked(now, Classify(m.state, m.policy).Class)
}

func (m *Monitor) endUnresponsiveLocked(now time.Time, class Class) bool {
	m.state.Skipped++
	m.notifier.Notify(Event{
		SparkID: m.spark.ID(),
		Kind:    EventUnresponsive,
		At:      now,
		Class:   class,
		Skipped: m.state.Skipped,
	})
	if m.state.Skipped <= m.policy.AllowedSkippedBeats {
		m.logger.Debug("heartbeat skipped", "skipped", m.state.Skipped, "allowed", m.policy.AllowedSkippedBeats)
		return false
	}
	if !m.markClosed() {
		return false
	}
	m.logger.Info("ending unresponsive spark", "skipped", m.state.Skipped, "class", class)
	if err := m.spark.End(true); err != nil {
		m.logger.Warn("end spark failed", "err", err)
	}
	m.notifier.Notify(Event{
		SparkID: m.spark.ID(),
		Kind:    EventEnd,
		At:      now,
		Class:   class,
		Skipped: m.state.Skipped,
	})
	return true
}

// OnPeerSignal 处理入站心跳报文：pong 或旧版客户端的 ping。
func (m *Monitor) OnPeerSignal(message string, now time.Time) (Signal, error) {
	sig, err := ParseSignal(m.policy.Namespace, message)
	if err != nil {
		return Signal{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return sig, ErrMonitorClosed
	}

	switch sig.Kind {
	case SignalPong:
		m.state.Alive = true
		m.state.Skipped = 0
	case SignalLegacyPing:
		if now.After(m.state.LastLegacyPing) {
			m.state.LastLegacyPing = now
		}
		m.state.LegacySignalled = true
		m.state.Alive = true
		m.state.Skipped = 0
		if err := m.spark.Write(PongMessage(m.policy.Namespace, sig.Timestamp)); err != nil {
			m.logger.Warn("write legacy pong failed", "err", err)
		}
	}

	m.notifier.Notify(Event{
		SparkID: m.spark.ID(),
		Kind:    EventHeartbeat,
		At:      now,
		Class:   Classify(m.state, m.policy).Class,
	})
	return sig, nil
}

// Run 按策略周期驱动 OnTick，直到 ctx 结束或监视器关闭。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case now := <-ticker.C:
			if m.OnTick(now) == StateClosed {
				return
			}
		}
	}
}

// Close 停止监视，可重复调用。不会关闭底层连接。
func (m *Monitor) Close() {
	m.markClosed()
}

// Done 在监视器关闭后可读。
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Closed 报告监视器是否已关闭。
func (m *Monitor) Closed() bool { return m.closed.Load() }

// markClosed 返回 true 表示本次调用完成了关闭。
func (m *Monitor) markClosed() bool {
	first := false
	m.closeOnce.Do(func() {
		first = true
		m.closed.Store(true)
		close(m.done)
	})
	return first
}
