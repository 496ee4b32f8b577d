// Package natsbus 通过 NATS 发布事件。
package natsbus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrClosed 连接已关闭
var ErrClosed = errors.New("nats connection closed")

// Config NATS 连接配置
type Config struct {
	URL           string        `toml:"url"`
	Name          string        `toml:"name"`
	Token         string        `toml:"token"`
	User          string        `toml:"user"`
	Password      string        `toml:"password"`
	SubjectPrefix string        `toml:"subject_prefix"`
	ReconnectWait time.Duration `toml:"reconnect_wait"`
	// MaxReconnects -1 表示无限重连
	MaxReconnects  int           `toml:"max_reconnects"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "sparkbeat",
		SubjectPrefix:  "sparkbeat",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Publisher NATS 事件发布器
type Publisher struct {
	conn   *nats.Conn
	cfg    Config
	logger *slog.Logger
}

// Connect 建立连接
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, buildOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("nats connected", "url", cfg.URL)
	return &Publisher{conn: conn, cfg: cfg, logger: logger}, nil
}

func buildOptions(cfg Config, logger *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Subject 拼接带前缀的主题
func Subject(prefix, routingKey string) string {
	if prefix == "" {
		return routingKey
	}
	return prefix + "." + routingKey
}

// Publish 发布事件，routingKey 作为主题后缀
func (p *Publisher) Publish(routingKey string, data []byte) error {
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if err := p.conn.Publish(Subject(p.cfg.SubjectPrefix, routingKey), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close 刷新缓冲并关闭连接
func (p *Publisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
