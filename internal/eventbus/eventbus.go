package eventbus

import (
	"context"
	"log/slog"

	"github.com/zboyco/sparkbeat/internal/eventbus/events"
	"github.com/zboyco/sparkbeat/internal/eventbus/natsbus"
	"github.com/zboyco/sparkbeat/internal/eventbus/rabbitmq"
)

// EventBus 事件总线接口
type EventBus interface {
	Publish(eventType events.EventType, data []byte) error
	PublishAsync(eventType events.EventType, data []byte)
	Close() error
}

// rabbitEventBus RabbitMQ 实现
type rabbitEventBus struct {
	publisher *rabbitmq.Publisher
}

// New 创建基于 RabbitMQ 的事件总线
func New(cfg rabbitmq.Config, logger *slog.Logger) (EventBus, error) {
	bus := &rabbitEventBus{
		publisher: rabbitmq.NewPublisher(cfg, logger),
	}
	if err := bus.publisher.Start(context.Background()); err != nil {
		return nil, err
	}
	return bus, nil
}

func (b *rabbitEventBus) Publish(eventType events.EventType, data []byte) error {
	return b.publisher.Publish(context.Background(), string(eventType), data)
}

func (b *rabbitEventBus) PublishAsync(eventType events.EventType, data []byte) {
	b.publisher.PublishAsync(string(eventType), data)
}

func (b *rabbitEventBus) Close() error {
	return b.publisher.Close()
}

// natsEventBus NATS 实现，客户端自带缓冲与重连
type natsEventBus struct {
	publisher *natsbus.Publisher
	logger    *slog.Logger
}

// NewNATS 创建基于 NATS 的事件总线
func NewNATS(cfg natsbus.Config, logger *slog.Logger) (EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := natsbus.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &natsEventBus{publisher: p, logger: logger}, nil
}

func (b *natsEventBus) Publish(eventType events.EventType, data []byte) error {
	return b.publisher.Publish(string(eventType), data)
}

// PublishAsync nats 的 Publish 只写入本地缓冲，这里直接调用
func (b *natsEventBus) PublishAsync(eventType events.EventType, data []byte) {
	if err := b.publisher.Publish(string(eventType), data); err != nil {
		b.logger.Warn("nats publish failed", "type", eventType, "err", err)
	}
}

func (b *natsEventBus) Close() error {
	return b.publisher.Close()
}
