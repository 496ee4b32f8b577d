package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, data []byte) error
}

// RetryTask 重试任务
type RetryTask struct {
	RoutingKey string
	Data       []byte
	Attempts   int
	NextRetry  time.Time

	backoff *backoff.ExponentialBackOff
}

// RetryQueue 异步重试队列
type RetryQueue struct {
	cfg       Config
	client    publisher
	queue     chan *RetryTask
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	tick      time.Duration
	logger    *slog.Logger
}

// NewRetryQueue 创建重试队列
func NewRetryQueue(cfg Config, client publisher, logger *slog.Logger) *RetryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.RetryQueueSize
	if size <= 0 {
		size = DefaultConfig().RetryQueueSize
	}
	return &RetryQueue{
		cfg:    cfg,
		client: client,
		queue:  make(chan *RetryTask, size),
		done:   make(chan struct{}),
		tick:   time.Second,
		logger: logger,
	}
}

// Start 启动重试队列处理
func (rq *RetryQueue) Start(ctx context.Context) {
	rq.wg.Add(1)
	go rq.processRetry(ctx)
}

func (rq *RetryQueue) processRetry(ctx context.Context) {
	defer rq.wg.Done()

	ticker := time.NewTicker(rq.tick)
	defer ticker.Stop()

	pending := make([]*RetryTask, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-rq.done:
			return
		case task := <-rq.queue:
			pending = append(pending, task)
		case <-ticker.C:
			pending = rq.flush(ctx, pending, time.Now())
		}
	}
}

// flush 尝试发布到期任务，返回仍需等待的任务
func (rq *RetryQueue) flush(ctx context.Context, tasks []*RetryTask, now time.Time) []*RetryTask {
	remaining := make([]*RetryTask, 0, len(tasks))
	for _, task := range tasks {
		if now.Before(task.NextRetry) {
			remaining = append(remaining, task)
			continue
		}

		err := rq.client.PublishWithContext(ctx, task.RoutingKey, task.Data)
		if err == nil {
			rq.logger.Debug("publish retry success", "routing_key", task.RoutingKey, "attempt", task.Attempts)
			continue
		}

		task.Attempts++
		next := task.backoff.NextBackOff()
		if task.Attempts >= rq.cfg.RetryMaxAttempts || next == backoff.Stop {
			rq.logger.Error("publish max retries exceeded", "routing_key", task.RoutingKey, "attempts", task.Attempts, "err", err)
			continue
		}
		task.NextRetry = now.Add(next)
		remaining = append(remaining, task)
		rq.logger.Warn("publish retry failed", "routing_key", task.RoutingKey, "attempt", task.Attempts, "err", err)
	}
	return remaining
}

func (rq *RetryQueue) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if rq.cfg.RetryInitialDelay > 0 {
		b.InitialInterval = rq.cfg.RetryInitialDelay
	}
	if rq.cfg.RetryMaxDelay > 0 {
		b.MaxInterval = rq.cfg.RetryMaxDelay
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Enqueue 将任务加入重试队列，队列满时丢弃
func (rq *RetryQueue) Enqueue(routingKey string, data []byte) bool {
	task := &RetryTask{
		RoutingKey: routingKey,
		Data:       data,
		NextRetry:  time.Now(),
		backoff:    rq.newBackOff(),
	}

	select {
	case rq.queue <- task:
		rq.logger.Debug("task enqueued for retry", "routing_key", routingKey)
		return true
	default:
		rq.logger.Warn("retry queue full, dropping task", "routing_key", routingKey)
		return false
	}
}

// Close 关闭重试队列
func (rq *RetryQueue) Close() {
	rq.closeOnce.Do(func() { close(rq.done) })
	rq.wg.Wait()
}
