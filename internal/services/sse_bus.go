package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/sse"
)

// SSEBus carries job events between processes over Redis pub/sub so a hub
// in one process sees events published in another. When no bus is
// configured the hub alone serves in-process subscribers and store polling
// remains the cross-process contract.
type SSEBus interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error
	Close() error
}

type redisSSEBus struct {
	log      *logger.Logger
	rdb      *redis.Client
	channel  string
	originID string
}

func NewRedisSSEBus(log *logger.Logger) (SSEBus, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "sse"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisSSEBus{
		log:      log.With("service", "RedisSSEBus"),
		rdb:      rdb,
		channel:  ch,
		originID: uuid.NewString(),
	}, nil
}

func (b *redisSSEBus) Publish(ctx context.Context, msg sse.SSEMessage) error {
	raw, err := b.encode(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// encode stamps the message with this process's origin before it goes on
// the wire; decodeForward on the same bus instance will then drop it.
func (b *redisSSEBus) encode(msg sse.SSEMessage) ([]byte, error) {
	msg.Origin = b.originID
	return json.Marshal(msg)
}

// decodeForward parses a bus payload and reports whether it should be
// handed to the local hub. Self-published echoes are dropped so local
// subscribers see each transition exactly once.
func (b *redisSSEBus) decodeForward(payload string) (sse.SSEMessage, bool) {
	var msg sse.SSEMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.log.Warn("bad redis SSE payload", "error", err)
		return msg, false
	}
	if msg.Origin == b.originID {
		return msg, false
	}
	return msg, true
}

func (b *redisSSEBus) StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				msg, forward := b.decodeForward(m.Payload)
				if !forward {
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisSSEBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
