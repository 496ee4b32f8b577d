package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Snapshot 对外展示的单个连接存活状态。
type Snapshot struct {
	SparkID string `json:"spark_id"`
	Class   string `json:"class"`
	Version int    `json:"version,omitempty"`
	State
}

// Registry 按连接标识维护监视器，并为每个监视器启动独立定时器。
type Registry struct {
	ctx      context.Context
	policy   Policy
	notifier Notifier
	logger   *slog.Logger
	monitors cmap.ConcurrentMap[string, *Monitor]
}

// NewRegistry 创建注册表，ctx 结束时所有定时器随之退出。
func NewRegistry(ctx context.Context, policy Policy, notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ctx:      ctx,
		policy:   policy.Resolve(),
		notifier: notifier,
		logger:   logger,
		monitors: cmap.New[*Monitor](),
	}
}

// Policy 返回注册表使用的策略。
func (r *Registry) Policy() Policy { return r.policy }

// Register 为新连接创建监视器并启动定时器。
func (r *Registry) Register(spark Spark, connectedAt time.Time) (*Monitor, error) {
	m, err := NewMonitor(spark, connectedAt, Options{
		Policy:   r.policy,
		Notifier: r.notifier,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}
	if !r.monitors.SetIfAbsent(spark.ID(), m) {
		return nil, fmt.Errorf("register %s: %w", spark.ID(), ErrSparkExists)
	}
	if !r.policy.Disabled {
		go func() {
			m.Run(r.ctx)
			// 监视器自行结束连接后从注册表摘除
			if m.Closed() {
				r.monitors.RemoveCb(spark.ID(), func(_ string, v *Monitor, exists bool) bool {
					return exists && v == m
				})
			}
		}()
	}
	return m, nil
}

// Get 按连接标识查找监视器。
func (r *Registry) Get(id string) (*Monitor, bool) {
	return r.monitors.Get(id)
}

// Remove 关闭并移除监视器，连接关闭时调用。
func (r *Registry) Remove(id string) bool {
	m, ok := r.monitors.Pop(id)
	if !ok {
		return false
	}
	m.Close()
	return true
}

// Len 当前注册的连接数。
func (r *Registry) Len() int { return r.monitors.Count() }

// Snapshots 返回按连接标识排序的状态快照。
func (r *Registry) Snapshots() []Snapshot {
	items := r.monitors.Items()
	out := make([]Snapshot, 0, len(items))
	for id, m := range items {
		st := m.Snapshot()
		cls := Classify(st, m.Policy())
		out = append(out, Snapshot{
			SparkID: id,
			Class:   cls.Class.String(),
			Version: cls.Version,
			State:   st,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SparkID < out[j].SparkID })
	return out
}

// Close 关闭全部监视器。
func (r *Registry) Close() {
	for _, id := range r.monitors.Keys() {
		r.Remove(id)
	}
}
