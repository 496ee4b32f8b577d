package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zboyco/sparkbeat/internal/eventbus/natsbus"
	"github.com/zboyco/sparkbeat/internal/eventbus/rabbitmq"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

// Config 保存服务运行参数。
type Config struct {
	Listen     string `toml:"listen"`
	HTTPListen string `toml:"http_listen"`

	IdleTimeout    time.Duration `toml:"idle_timeout"`
	AllowIPs       []string      `toml:"allow_ips"`
	WorkerPoolSize int           `toml:"worker_pool_size"`
	MaxGoroutines  int           `toml:"max_goroutines"`

	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Events    EventsConfig    `toml:"events"`
}

// HeartbeatConfig 心跳策略的配置文件形式。
type HeartbeatConfig struct {
	Interval              time.Duration `toml:"interval"`
	AllowedSkippedBeats   int           `toml:"allowed_skipped_beats"`
	LegacyGraceMultiplier int           `toml:"legacy_grace_multiplier"`
	GraceMode             string        `toml:"grace_mode"`
	GraceWindow           time.Duration `toml:"grace_window"`
	ProtocolMarker        string        `toml:"protocol_marker"`
	ModernVersion         int           `toml:"modern_version"`
	Namespace             string        `toml:"namespace"`
	Disabled              bool          `toml:"disabled"`
}

// EventsConfig 事件总线配置，Backend 取 ""、"rabbitmq" 或 "nats"。
type EventsConfig struct {
	Backend  string          `toml:"backend"`
	Verbose  bool            `toml:"verbose"`
	RabbitMQ rabbitmq.Config `toml:"rabbitmq"`
	NATS     natsbus.Config  `toml:"nats"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Listen:         ":7070",
		HTTPListen:     ":7080",
		AllowIPs:       []string{"*"},
		WorkerPoolSize: 256,
		MaxGoroutines:  10000,
		Heartbeat: HeartbeatConfig{
			Interval:              heartbeat.DefaultInterval,
			AllowedSkippedBeats:   heartbeat.DefaultAllowedSkippedBeats,
			LegacyGraceMultiplier: heartbeat.DefaultLegacyGraceMultiplier,
			GraceMode:             heartbeat.GraceInterval.String(),
			ProtocolMarker:        heartbeat.DefaultProtocolMarker,
			ModernVersion:         heartbeat.DefaultModernVersion,
			Namespace:             heartbeat.DefaultNamespace,
		},
		Events: EventsConfig{
			RabbitMQ: rabbitmq.DefaultConfig(),
			NATS:     natsbus.DefaultConfig(),
		},
	}
}

// DecodeConfig 在默认配置之上解析 TOML。
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decode config: unknown keys %v", undecoded)
	}
	return cfg, nil
}

// LoadConfigFile 读取 TOML 配置文件。
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// Policy 转换为心跳策略并补齐默认值。
func (h HeartbeatConfig) Policy() (heartbeat.Policy, error) {
	mode, ok := heartbeat.ParseGraceMode(h.GraceMode)
	if !ok {
		return heartbeat.Policy{}, fmt.Errorf("unknown grace mode %q", h.GraceMode)
	}
	if h.Interval < 0 {
		return heartbeat.Policy{}, fmt.Errorf("heartbeat interval must not be negative: %s", h.Interval)
	}
	return heartbeat.Policy{
		Interval:              h.Interval,
		AllowedSkippedBeats:   h.AllowedSkippedBeats,
		LegacyGraceMultiplier: h.LegacyGraceMultiplier,
		GraceMode:             mode,
		GraceWindow:           h.GraceWindow,
		ProtocolMarker:        h.ProtocolMarker,
		ModernVersion:         h.ModernVersion,
		Namespace:             h.Namespace,
		Disabled:              h.Disabled,
	}.Resolve(), nil
}

// Validate 校验监听地址与事件配置。
func (c Config) Validate() error {
	if _, _, err := normalizeHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if _, err := c.Heartbeat.Policy(); err != nil {
		return err
	}
	switch c.Events.Backend {
	case "", "rabbitmq", "nats":
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	return nil
}

// normalizeHostPort 将 host:port 字符串拆分为 host 与 port，便于 go-server 初始化。
func normalizeHostPort(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, errors.New("address must not be empty")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("split host/port %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return host, port, nil
}

// IPListFlag 支持逗号分隔或重复声明的 IP 白名单参数。
type IPListFlag []string

func (l *IPListFlag) String() string {
	if len(*l) == 0 {
		return "*"
	}
	return strings.Join(*l, ",")
}

func (l *IPListFlag) Set(value string) error {
	for _, ip := range strings.Split(value, ",") {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if ip != "*" && net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid ip %q", ip)
		}
		*l = append(*l, ip)
	}
	return nil
}

func isIPAllowed(ip string, allowIPs []string) bool {
	if len(allowIPs) == 0 {
		return true
	}
	for _, allow := range allowIPs {
		if allow == "*" {
			return true
		}
		if ip != "" && ip == allow {
			return true
		}
	}
	return false
}
