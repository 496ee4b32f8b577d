package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrChannelNotReady 连接尚未建立或正在重连。
var ErrChannelNotReady = errors.New("rabbitmq channel not ready")

// Client RabbitMQ 客户端，封装连接管理和自动重连
type Client struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel

	connMu    sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

// NewClient 创建新的 RabbitMQ 客户端
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Connect 连接到 RabbitMQ 服务器并声明交换机
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Vhost:     c.cfg.VHost,
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.cfg.ExchangeName,
		c.cfg.ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = channel
	go c.monitorConnection(ctx, conn)

	c.logger.Info("rabbitmq connected", "url", c.cfg.URL, "exchange", c.cfg.ExchangeName)
	return nil
}

// monitorConnection 监控连接状态，断开后触发重连
func (c *Client) monitorConnection(ctx context.Context, conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-closed:
		if err != nil {
			c.logger.Warn("rabbitmq connection closed", "err", err)
			c.reconnect(ctx)
		}
	case <-ctx.Done():
	case <-c.done:
	}
}

// reconnect 按指数退避重连，MaxReconnect > 0 时限制次数
// 新连接的监控沿用 ctx，retryCtx 只约束本轮退避。
func (c *Client) reconnect(ctx context.Context) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-retryCtx.Done():
		}
	}()

	var b backoff.BackOff = c.reconnectBackOff()
	if c.cfg.MaxReconnect > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.cfg.MaxReconnect))
	}
	b = backoff.WithContext(b, retryCtx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		c.logger.Info("attempting to reconnect", "attempt", attempt)
		return c.Connect(ctx)
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("reconnect failed", "attempt", attempt, "next", wait, "err", err)
	})
	if err != nil {
		c.logger.Error("rabbitmq reconnect abandoned", "attempts", attempt, "err", err)
		return
	}
	c.logger.Info("reconnect success", "attempt", attempt)
}

func (c *Client) reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectDelay > 0 {
		b.InitialInterval = c.cfg.ReconnectDelay
	}
	b.MaxInterval = 10 * b.InitialInterval
	b.MaxElapsedTime = 0
	return b
}

// PublishWithContext 发布消息
func (c *Client) PublishWithContext(ctx context.Context, routingKey string, data []byte) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.channel == nil || c.channel.IsClosed() {
		return ErrChannelNotReady
	}

	return c.channel.PublishWithContext(
		ctx,
		c.cfg.ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: c.cfg.DeliveryMode,
			Body:         data,
			Timestamp:    time.Now(),
		},
	)
}

// Close 关闭连接，可重复调用
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
