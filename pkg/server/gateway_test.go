package server

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSpark struct {
	id string

	mu     sync.Mutex
	writes []string
	ends   []bool
}

func (s *fakeSpark) ID() string { return s.id }

func (s *fakeSpark) Write(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, payload)
	return nil
}

func (s *fakeSpark) End(reconnect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, reconnect)
	return nil
}

func (s *fakeSpark) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *fakeSpark) Ends() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.ends...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.HTTPListen = ""
	cfg.WorkerPoolSize = 4
	cfg.Heartbeat.Interval = time.Hour
	return cfg
}

func newTestGateway(t *testing.T, cb *Callbacks) *Gateway {
	t.Helper()
	g, err := NewGateway(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	g.SetCallbacks(cb)
	t.Cleanup(g.Stop)
	return g
}

func registerFake(t *testing.T, g *Gateway, id string) (*fakeSpark, *heartbeat.Monitor) {
	t.Helper()
	spark := &fakeSpark{id: id}
	require.NoError(t, g.register(spark, "127.0.0.1", epoch))
	m, ok := g.registry.Get(id)
	require.True(t, ok)
	return spark, m
}

func TestNewGatewayRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Listen = ""
	_, err := NewGateway(cfg, nil)
	assert.Error(t, err)
}

func TestRegisterFiresOnConnect(t *testing.T) {
	connected := make(chan string, 1)
	g := newTestGateway(t, &Callbacks{
		OnConnect: func(sparkID, remoteIP string) { connected <- sparkID + "@" + remoteIP },
	})
	registerFake(t, g, "s1")

	select {
	case got := <-connected:
		assert.Equal(t, "s1@127.0.0.1", got)
	case <-time.After(time.Second):
		t.Fatal("OnConnect not called")
	}

	err := g.register(&fakeSpark{id: "s1"}, "127.0.0.1", epoch)
	assert.ErrorIs(t, err, heartbeat.ErrSparkExists)
}

func TestHandleLineConfigure(t *testing.T) {
	configured := make(chan heartbeat.Classification, 1)
	g := newTestGateway(t, &Callbacks{
		OnConfigured: func(_, _ string, cls heartbeat.Classification) { configured <- cls },
	})
	_, m := registerFake(t, g, "s1")

	reply, err := g.handleLine("s1", "primus::configure::happn_4", epoch)
	require.NoError(t, err)
	assert.Equal(t, "primus::configured::happn_4", reply)
	assert.Equal(t, heartbeat.Classification{Class: heartbeat.ClassModern, Version: 4}, m.Classification())

	select {
	case cls := <-configured:
		assert.Equal(t, heartbeat.ClassModern, cls.Class)
	case <-time.After(time.Second):
		t.Fatal("OnConfigured not called")
	}

	_, err = g.handleLine("s1", "primus::configure::happn_5", epoch)
	assert.ErrorIs(t, err, heartbeat.ErrProtocolTagSet)
}

func TestHandleLineLegacyPing(t *testing.T) {
	g := newTestGateway(t, nil)
	spark, m := registerFake(t, g, "s1")

	reply, err := g.handleLine("s1", "primus::ping::1700000000000", epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, reply, "pong is written by the monitor")
	assert.Equal(t, []string{"primus::pong::1700000000000"}, spark.Writes())
	assert.Equal(t, heartbeat.ClassLegacy, m.Classification().Class)
	assert.Equal(t, epoch.Add(time.Second), m.Snapshot().LastLegacyPing)
}

func TestHandleLinePongRestoresLiveness(t *testing.T) {
	g := newTestGateway(t, nil)
	_, m := registerFake(t, g, "s1")
	_, err := g.handleLine("s1", "primus::configure::happn_4", epoch)
	require.NoError(t, err)

	// 越过宽限窗口后首次定时触发发送 ping 并置为未响应
	now := epoch.Add(2 * time.Hour)
	assert.Equal(t, heartbeat.StateModernArmed, m.OnTick(now))
	assert.False(t, m.Snapshot().Alive)

	_, err = g.handleLine("s1", "primus::pong::1", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, m.Snapshot().Alive)
	assert.Zero(t, m.Snapshot().Skipped)
}

func TestHandleLineData(t *testing.T) {
	messages := make(chan string, 1)
	g := newTestGateway(t, &Callbacks{
		OnMessage: func(sparkID string, payload []byte) { messages <- sparkID + ":" + string(payload) },
	})
	registerFake(t, g, "s1")

	reply, err := g.handleLine("s1", `{"op":"set","path":"/a"}`, epoch)
	require.NoError(t, err)
	assert.Empty(t, reply)

	select {
	case got := <-messages:
		assert.Equal(t, `s1:{"op":"set","path":"/a"}`, got)
	case <-time.After(time.Second):
		t.Fatal("OnMessage not called")
	}

	reply, err = g.handleLine("s1", "", epoch)
	assert.NoError(t, err)
	assert.Empty(t, reply)
}

func TestHandleLineUnknownSpark(t *testing.T) {
	g := newTestGateway(t, nil)
	_, err := g.handleLine("ghost", "primus::pong::1", epoch)
	assert.ErrorIs(t, err, heartbeat.ErrSparkNotFound)
}

func TestUnregister(t *testing.T) {
	closed := make(chan string, 1)
	g := newTestGateway(t, &Callbacks{
		OnClosed: func(sparkID, reason string) { closed <- sparkID + ":" + reason },
	})
	_, m := registerFake(t, g, "s1")

	g.unregister("s1", "peer reset")
	assert.Zero(t, g.registry.Len())
	assert.True(t, m.Closed())

	select {
	case got := <-closed:
		assert.Equal(t, "s1:peer reset", got)
	case <-time.After(time.Second):
		t.Fatal("OnClosed not called")
	}

	// 已摘除的连接再次关闭不报错
	g.unregister("s1", "peer reset")
}

func TestUnregisterFiresOnClosedOnce(t *testing.T) {
	var closedCount atomic.Int32
	closed := make(chan string, 4)
	g := newTestGateway(t, &Callbacks{
		OnClosed: func(sparkID, reason string) {
			closedCount.Add(1)
			closed <- sparkID
		},
	})
	spark, m := registerFake(t, g, "s1")

	// 心跳超时：监视器先自行摘除，框架随后对同一会话回调两次
	assert.False(t, m.EndUnresponsive(epoch.Add(time.Second)))
	require.True(t, m.EndUnresponsive(epoch.Add(2*time.Second)))
	require.Equal(t, []bool{true}, spark.Ends())
	require.Eventually(t, func() bool { return g.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
	g.unregister("s1", "heartbeat timeout")
	g.unregister("s1", "heartbeat timeout")

	// 被 IP 白名单拒绝的会话从未准入
	g.unregister("rejected", "ip not allowed")

	select {
	case got := <-closed:
		assert.Equal(t, "s1", got)
	case <-time.After(time.Second):
		t.Fatal("OnClosed not called")
	}
	assert.Never(t, func() bool { return closedCount.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestHeartbeatEndReachesNotifiers(t *testing.T) {
	events := make(chan heartbeat.EventKind, 8)
	var mu sync.Mutex
	var forwarded []heartbeat.EventKind

	g := newTestGateway(t, &Callbacks{
		OnHeartbeatEvent: func(e heartbeat.Event) { events <- e.Kind },
	})
	g.AddNotifier(heartbeat.NotifierFunc(func(e heartbeat.Event) {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, e.Kind)
	}))
	spark, m := registerFake(t, g, "s1")

	assert.False(t, m.EndUnresponsive(epoch))
	assert.True(t, m.EndUnresponsive(epoch))
	assert.Equal(t, []bool{true}, spark.Ends())

	mu.Lock()
	assert.Equal(t, []heartbeat.EventKind{
		heartbeat.EventUnresponsive,
		heartbeat.EventUnresponsive,
		heartbeat.EventEnd,
	}, forwarded)
	mu.Unlock()

	require.Eventually(t, func() bool { return g.registry.Len() == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(events) == 3 }, time.Second, 10*time.Millisecond)
}

func TestSendBeforeStart(t *testing.T) {
	g := newTestGateway(t, nil)
	assert.Error(t, g.Send("s1", "hello"))
	assert.Error(t, g.Disconnect("s1", true))
}
