// Package metrics 将心跳通知转换为 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

const namespace = "sparkbeat"

// Collector 实现 heartbeat.Notifier，按事件类型累计计数。
type Collector struct {
	events      *prometheus.CounterVec
	skipped     prometheus.Histogram
	sparks      prometheus.GaugeFunc
	connections *prometheus.CounterVec
	messages    *prometheus.CounterVec
}

// New 创建并注册指标，reg 为 nil 时使用默认注册表。
// sparkCount 用于实时读取在线连接数，可为 nil。
func New(reg prometheus.Registerer, sparkCount func() int) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if sparkCount == nil {
		sparkCount = func() int { return 0 }
	}
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_events_total",
			Help:      "Heartbeat notifications by kind and protocol class.",
		}, []string{"kind", "class"}),
		skipped: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_skipped_beats",
			Help:      "Consecutive skipped beats observed on each unresponsive tick.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		sparks: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sparks",
			Help:      "Sparks currently tracked by the heartbeat registry.",
		}, func() float64 { return float64(sparkCount()) }),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Inbound connections by admission result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound lines by route.",
		}, []string{"route"}),
	}
	for _, col := range []prometheus.Collector{c.events, c.skipped, c.sparks, c.connections, c.messages} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Notify 记录一次心跳通知。
func (c *Collector) Notify(e heartbeat.Event) {
	c.events.WithLabelValues(string(e.Kind), e.Class.String()).Inc()
	if e.Kind == heartbeat.EventUnresponsive {
		c.skipped.Observe(float64(e.Skipped))
	}
}

// Connection 记录一次连接准入结果，result 取 accepted、rejected。
func (c *Collector) Connection(result string) {
	c.connections.WithLabelValues(result).Inc()
}

// MessageRouted 按路由记录入站报文，route 取 heartbeat、configure、data 等。
func (c *Collector) MessageRouted(route string) {
	c.messages.WithLabelValues(route).Inc()
}
