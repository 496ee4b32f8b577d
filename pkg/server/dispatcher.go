package server

import (
	"log/slog"

	"github.com/panjf2000/ants/v2"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// Callbacks 业务回调，均在协程池中异步执行，不得假设调用顺序。
type Callbacks struct {
	// OnConnect 新连接通过准入
	OnConnect func(sparkID, remoteIP string)
	// OnConfigured 对端上报协议标签
	OnConfigured func(sparkID, tag string, cls heartbeat.Classification)
	// OnMessage 非心跳、非配置的业务行，payload 为独立副本
	OnMessage func(sparkID string, payload []byte)
	// OnHeartbeatEvent 心跳状态机的全部通知
	OnHeartbeatEvent func(e heartbeat.Event)
	// OnClosed 连接关闭
	OnClosed func(sparkID, reason string)
}

// dispatcher 基于 ants 协程池执行回调，池满时丢弃并记录日志。
type dispatcher struct {
	pool   *ants.Pool
	logger *slog.Logger
}

func newDispatcher(size int, logger *slog.Logger) (*dispatcher, error) {
	if size <= 0 {
		size = ants.DefaultAntsPoolSize
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("callback panic", "panic", p)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &dispatcher{pool: pool, logger: logger}, nil
}

func (d *dispatcher) Go(name string, fn func()) {
	if err := d.pool.Submit(fn); err != nil {
		d.logger.Warn("drop callback", "callback", name, "err", err)
	}
}

func (d *dispatcher) Running() int { return d.pool.Running() }

func (d *dispatcher) Closed() bool { return d.pool.IsClosed() }

func (d *dispatcher) Release() { d.pool.Release() }
