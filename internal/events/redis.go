package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/metrics"
)

const (
	DefaultRedisChannel = "token_ledger.events"
	redisPublishTimeout = 5 * time.Second
)

// RedisClient is the part of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards events to a Redis pub/sub channel as JSON. Publish
// never blocks: events are queued for a background sender and dropped when
// the queue is full.
type RedisPublisher struct {
	client  RedisClient
	channel string
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewRedisPublisher starts a publisher with room for buffer pending events.
func NewRedisPublisher(client RedisClient, channel string, buffer int, logger *logging.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if buffer <= 0 {
		buffer = 1024
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
		queue:   make(chan Event, buffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues event for delivery.
func (p *RedisPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- event:
	default:
		metrics.RecordForwarded("redis", "dropped")
		p.logger.WithField("sequence", event.Sequence).Warn("Redis event queue full, dropping event")
	}
}

// Close flushes queued events and stops the sender.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		p.send(event)
	}
}

func (p *RedisPublisher) send(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		metrics.RecordForwarded("redis", "failed")
		p.logger.WithError(err).Error("Failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		metrics.RecordForwarded("redis", "failed")
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"channel":  p.channel,
			"sequence": event.Sequence,
		}).Error("Failed to publish event to Redis")
		return
	}
	metrics.RecordForwarded("redis", "sent")
}
