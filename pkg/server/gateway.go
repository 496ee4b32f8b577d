package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goserver "github.com/zboyco/go-server"
	"github.com/zboyco/sparkbeat/internal/metrics"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// ErrMultiLinePayload 下发内容含换行，会被对端拆成多条报文。
var ErrMultiLinePayload = errors.New("payload must be a single line")

// Gateway 承载 spark 长连接：按行分帧，路由心跳、配置与业务报文，并为每个连接维护心跳监视器。
type Gateway struct {
	cfg    Config
	policy heartbeat.Policy
	logger *slog.Logger

	// ctx 控制全部监视器定时器，Stop 时取消
	ctx    context.Context
	cancel context.CancelFunc

	// accepted 已准入且尚未关闭的连接，保证关闭回调每个连接只触发一次
	accepted cmap.ConcurrentMap[string, struct{}]

	registry   *heartbeat.Registry
	promReg    *prometheus.Registry
	metrics    *metrics.Collector
	dispatcher *dispatcher
	health     healthcheck.Handler

	// 以下字段需在 Start 之前设置
	callbacks *Callbacks
	notifiers heartbeat.Notifiers

	srv     *goserver.Server
	httpSrv *http.Server
	ready   atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewGateway 校验配置并初始化注册表、指标与回调协程池，不监听端口。
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := cfg.Heartbeat.Policy()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		policy:   policy,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		accepted: cmap.New[struct{}](),
		promReg:  prometheus.NewRegistry(),
		health:   healthcheck.NewHandler(),
	}
	g.registry = heartbeat.NewRegistry(ctx, policy, g, logger)

	g.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if g.metrics, err = metrics.New(g.promReg, g.registry.Len); err != nil {
		cancel()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if g.dispatcher, err = newDispatcher(cfg.WorkerPoolSize, logger); err != nil {
		cancel()
		return nil, fmt.Errorf("init callback pool: %w", err)
	}
	g.initHealthChecks()

	printStartupInfo(logger, cfg, policy)
	return g, nil
}

// SetCallbacks 设置回调函数，用于在连接生命周期事件上执行自定义业务逻辑
func (g *Gateway) SetCallbacks(callbacks *Callbacks) {
	g.callbacks = callbacks
}

// AddNotifier 追加心跳通知订阅者，例如事件总线转发器。
func (g *Gateway) AddNotifier(n heartbeat.Notifier) {
	if n != nil {
		g.notifiers = append(g.notifiers, n)
	}
}

// Registry 返回心跳注册表。
func (g *Gateway) Registry() *heartbeat.Registry { return g.registry }

// Start 启动 TCP 与 HTTP 服务，并阻塞直至 ctx 结束。
func (g *Gateway) Start(ctx context.Context) error {
	var startErr error
	g.startOnce.Do(func() {
		if err := g.initServer(); err != nil {
			startErr = err
			return
		}
		go g.srv.Start()
		g.ready.Store(true)
		g.startHTTPServer()
		go g.statsLoop(ctx)
	})
	if startErr != nil {
		return startErr
	}
	<-ctx.Done()
	g.logger.Info("gateway shutting down", "reason", ctx.Err())
	g.Stop()
	return nil
}

// Stop 停止全部监视器、HTTP 服务与回调协程池，可重复调用。
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.ready.Store(false)
		g.cancel()
		g.registry.Close()
		if g.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.httpSrv.Shutdown(shutdownCtx); err != nil {
				g.logger.Warn("http server shutdown failed", "err", err)
			}
		}
		g.dispatcher.Release()
	})
}

func (g *Gateway) initServer() error {
	host, port, err := normalizeHostPort(g.cfg.Listen)
	if err != nil {
		return fmt.Errorf("parse listen: %w", err)
	}
	g.srv = goserver.NewTCP(host, port)

	if g.cfg.IdleTimeout > 0 {
		g.srv.IdleSessionTimeOut = int(g.cfg.IdleTimeout.Seconds())
	} else {
		g.srv.IdleSessionTimeOut = 0
	}

	if err := g.srv.SetSplitFunc(bufio.ScanLines); err != nil {
		return err
	}
	if err := g.srv.SetOnMessage(g.handleMessage); err != nil {
		return err
	}
	_ = g.srv.SetOnError(func(err error) {
		g.logger.Error("spark link error", "err", err)
	})
	_ = g.srv.SetOnSessionClosed(g.onSessionClosed)
	_ = g.srv.SetOnNewSessionRegister(g.onNewSession)
	return nil
}

func (g *Gateway) onNewSession(session *goserver.AppSession) {
	ip := g.getClientIP(session)
	if !isIPAllowed(ip, g.cfg.AllowIPs) {
		g.metrics.Connection("rejected")
		g.logger.Warn("spark rejected", "session", session.ID, "remote_ip", ip)
		session.Close("ip not allowed")
		return
	}
	if err := g.register(newSessionSpark(session, g.policy.Namespace), ip, time.Now()); err != nil {
		g.logger.Error("register spark failed", "session", session.ID, "err", err)
		session.Close("register failed")
	}
}

// register 为已准入的连接建立监视器并触发连接回调。
func (g *Gateway) register(spark heartbeat.Spark, remoteIP string, now time.Time) error {
	if _, err := g.registry.Register(spark, now); err != nil {
		return err
	}
	g.accepted.Set(spark.ID(), struct{}{})
	g.metrics.Connection("accepted")
	g.logger.Info("spark connected", "spark", spark.ID(), "remote_ip", remoteIP)
	if cb := g.callbacks; cb != nil && cb.OnConnect != nil {
		id := spark.ID()
		g.dispatcher.Go("OnConnect", func() { cb.OnConnect(id, remoteIP) })
	}
	return nil
}

func (g *Gateway) onSessionClosed(session *goserver.AppSession, reason string) {
	g.unregister(session.ID, reason)
}

// unregister 会话关闭时移除监视器。监视器可能已因心跳超时自行摘除。
// 框架对服务端主动关闭的会话会重复回调，未准入的连接也会回调，两者都不触发 OnClosed。
func (g *Gateway) unregister(id, reason string) {
	g.registry.Remove(id)
	if _, ok := g.accepted.Pop(id); !ok {
		return
	}
	g.logger.Info("spark closed", "spark", id, "reason", reason)
	if cb := g.callbacks; cb != nil && cb.OnClosed != nil {
		g.dispatcher.Go("OnClosed", func() { cb.OnClosed(id, reason) })
	}
}

// handleMessage 处理单行报文，配置请求的应答直接由框架写回。
func (g *Gateway) handleMessage(session *goserver.AppSession, payload []byte) ([]byte, error) {
	reply, err := g.handleLine(session.ID, string(payload), time.Now())
	if err != nil {
		g.logger.Warn("handle line failed", "session", session.ID, "err", err)
		return nil, nil
	}
	if reply == "" {
		return nil, nil
	}
	return []byte(reply + "\n"), nil
}

// handleLine 按前缀路由：心跳交给监视器，配置设置协议标签，其余交给业务回调。
// 返回值为需要回写给对端的报文，空串表示无需应答。
func (g *Gateway) handleLine(id, line string, now time.Time) (string, error) {
	if line == "" {
		return "", nil
	}
	m, ok := g.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("route line from %s: %w", id, heartbeat.ErrSparkNotFound)
	}
	ns := g.policy.Namespace

	if heartbeat.IsHeartbeat(ns, line) {
		g.metrics.MessageRouted(routeHeartbeat)
		if _, err := m.OnPeerSignal(line, now); err != nil {
			return "", err
		}
		return "", nil
	}

	if tag, ok := parseConfigure(ns, line); ok {
		g.metrics.MessageRouted(routeConfigure)
		if err := m.SetProtocolTag(tag); err != nil {
			return "", err
		}
		cls := m.Classification()
		g.logger.Info("spark configured", "spark", id, "tag", tag, "class", cls.Class, "version", cls.Version)
		if cb := g.callbacks; cb != nil && cb.OnConfigured != nil {
			g.dispatcher.Go("OnConfigured", func() { cb.OnConfigured(id, tag, cls) })
		}
		return configuredMessage(ns, tag), nil
	}

	g.metrics.MessageRouted(routeData)
	if cb := g.callbacks; cb != nil && cb.OnMessage != nil {
		payload := []byte(line)
		g.dispatcher.Go("OnMessage", func() { cb.OnMessage(id, payload) })
	}
	return "", nil
}

// Notify 实现 heartbeat.Notifier，在监视器锁内被调用，不得阻塞。
func (g *Gateway) Notify(e heartbeat.Event) {
	g.metrics.Notify(e)
	g.notifiers.Notify(e)
	switch e.Kind {
	case heartbeat.EventUnresponsive:
		g.logger.Debug("spark unresponsive", "spark", e.SparkID, "class", e.Class, "skipped", e.Skipped)
	case heartbeat.EventEnd:
		g.logger.Warn("spark ended by heartbeat", "spark", e.SparkID, "class", e.Class, "skipped", e.Skipped)
	}
	if cb := g.callbacks; cb != nil && cb.OnHeartbeatEvent != nil {
		g.dispatcher.Go("OnHeartbeatEvent", func() { cb.OnHeartbeatEvent(e) })
	}
}

// Send 向指定连接写入一行业务报文。
func (g *Gateway) Send(id, payload string) error {
	if strings.ContainsAny(payload, "\r\n") {
		return ErrMultiLinePayload
	}
	if g.srv == nil {
		return errors.New("gateway not started")
	}
	session, err := g.srv.GetSessionByID(id)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", id, heartbeat.ErrSparkNotFound)
	}
	return newSessionSpark(session, g.policy.Namespace).Write(payload)
}

// Disconnect 主动结束连接，reconnect 决定对端是否应重连。
func (g *Gateway) Disconnect(id string, reconnect bool) error {
	if g.srv == nil {
		return errors.New("gateway not started")
	}
	session, err := g.srv.GetSessionByID(id)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", id, heartbeat.ErrSparkNotFound)
	}
	return newSessionSpark(session, g.policy.Namespace).End(reconnect)
}

func (g *Gateway) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.logger.Info("gateway stats", "sparks", g.registry.Len(), "callbacks_running", g.dispatcher.Running())
		}
	}
}

func (g *Gateway) getClientIP(session *goserver.AppSession) string {
	addr := session.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}

func printStartupInfo(logger *slog.Logger, cfg Config, policy heartbeat.Policy) {
	logger.Info("gateway configured",
		"listen", cfg.Listen,
		"http", cfg.HTTPListen,
		"allow_ips", cfg.AllowIPs,
		"interval", policy.Interval,
		"allowed_skipped_beats", policy.AllowedSkippedBeats,
		"legacy_threshold", policy.LegacyThreshold(),
		"grace", policy.Grace(),
		"namespace", policy.Namespace,
		"heartbeat_disabled", policy.Disabled,
	)
}
