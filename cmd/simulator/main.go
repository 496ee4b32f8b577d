package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	goserver "github.com/zboyco/go-server"
	"github.com/zboyco/go-server/client"
)

var (
	serverAddr = flag.String("addr", "127.0.0.1:7070", "Gateway Address")
	mode       = flag.String("mode", modeModern, "Peer Mode (modern, legacy, silent)")
	tag        = flag.String("tag", "happn_4", "Protocol Tag sent by modern/silent peers")
	namespace  = flag.String("ns", "primus", "Heartbeat Namespace")
	pingEvery  = flag.Duration("ping", 25*time.Second, "Legacy Ping Interval")
	dataEvery  = flag.Duration("data", 0, "Business Line Interval (0=disabled)")
	peers      = flag.Int("n", 1, "Concurrent Peers")
	reconnect  = flag.Bool("reconnect", true, "Reconnect after the gateway ends the session")
)

var errEnded = errors.New("session ended by gateway")

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	p, err := newPeer(*mode, *namespace, *tag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	host, portStr, err := net.SplitHostPort(*serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse addr: %v\n", err)
		os.Exit(2)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse port: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *peers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runPeer(ctx, p, host, port, logger.With("peer", id, "mode", p.mode))
		}(i)
	}
	wg.Wait()
}

// runPeer 断线后按指数退避重连，直到 ctx 结束。
func runPeer(ctx context.Context, p peer, host string, port int, logger *slog.Logger) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := session(ctx, p, host, port, b, logger)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, errEnded) && !*reconnect {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("session lost, reconnecting", "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && ctx.Err() == nil {
		logger.Info("peer stopped", "err", err)
	}
}

// session 维持一次连接，返回值总是非 nil，描述连接结束的原因。
func session(ctx context.Context, p peer, host string, port int, b backoff.BackOff, logger *slog.Logger) error {
	c := client.NewSimpleClient(goserver.TCP, host, port)
	c.SetScannerSplitFunc(bufio.ScanLines)
	if err := c.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	b.Reset()
	logger.Info("connected", "addr", net.JoinHostPort(host, strconv.Itoa(port)))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	send := func(line string) error {
		mu.Lock()
		defer mu.Unlock()
		logger.Debug("send", "line", line)
		return c.Send([]byte(line + "\n"))
	}

	// 启用一个 goroutine 监听 context 取消，关闭连接以中断 Receive() 调用
	go func() {
		<-sessCtx.Done()
		c.Close()
	}()

	for _, line := range p.greeting() {
		if err := send(line); err != nil {
			return fmt.Errorf("send greeting: %w", err)
		}
	}
	if p.mode == modeLegacy {
		go every(sessCtx, *pingEvery, func(now time.Time) error { return send(p.legacyPing(now)) }, cancel, logger)
	}
	if *dataEvery > 0 {
		go every(sessCtx, *dataEvery, func(now time.Time) error {
			return send(fmt.Sprintf(`{"op":"tick","at":%d}`, now.UnixMilli()))
		}, cancel, logger)
	}

	for {
		data, err := c.Receive()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		line := string(data)
		logger.Debug("recv", "line", line)
		out, ended := p.reply(line)
		if ended {
			logger.Warn("gateway ended session", "line", line)
			return errEnded
		}
		if out == "" {
			continue
		}
		if err := send(out); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
}

func every(ctx context.Context, interval time.Duration, fn func(time.Time) error, onFail context.CancelFunc, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := fn(now); err != nil {
				logger.Warn("periodic send failed", "err", err)
				onFail()
				return
			}
		}
	}
}
