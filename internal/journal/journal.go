// Package journal mirrors control-plane events onto a Redis pub/sub
// channel so off-board consumers (dashboards, recorders) can follow a
// flight without holding a WebSocket connection.
package journal

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/strix/internal/config"
	"github.com/oriys/strix/internal/logging"
)

// publisher is the slice of the Redis client the journal uses. The
// concrete *redis.Client satisfies it.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Entry is the shape written to the channel.
type Entry struct {
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Events that never reach the journal: video frames are megabytes of
// base64 per second and belong on the WebSocket only.
var skipEvents = map[string]bool{
	"video_frame": true,
}

const queueLen = 512

// Journal buffers events and publishes them from a single worker. Mirror
// never blocks the caller; a full buffer drops the event and counts it.
type Journal struct {
	pub     publisher
	client  *redis.Client
	channel string
	queue   chan Entry
	dropped atomic.Int64
}

// New connects to Redis and verifies the link with a ping.
func New(cfg config.RedisConfig) (*Journal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "strix:events"
	}
	return &Journal{
		pub:     client,
		client:  client,
		channel: channel,
		queue:   make(chan Entry, queueLen),
	}, nil
}

// Mirror queues one event for publication. The payload is the already
// encoded wire frame; it is wrapped, not re-marshalled.
func (j *Journal) Mirror(eventType string, payload []byte) {
	if skipEvents[eventType] {
		return
	}
	entry := Entry{
		Event:      eventType,
		Payload:    json.RawMessage(payload),
		RecordedAt: time.Now().UTC(),
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped.Add(1)
		logging.Op("journal.mirror").Warn("journal buffer full, event dropped",
			"event", eventType)
	}
}

// Run drains the queue until ctx is cancelled. Publish failures are logged
// and the entry is dropped; the journal is an observer, never a gate.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-j.queue:
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if err := j.pub.Publish(ctx, j.channel, data).Err(); err != nil {
				logging.Op("journal.publish").Warn("publish failed",
					"event", entry.Event, "error", err)
			}
		}
	}
}

// Subscribe follows the journal channel and forwards decoded entries until
// ctx is cancelled. Entries that fail to decode are skipped.
func (j *Journal) Subscribe(ctx context.Context) <-chan Entry {
	out := make(chan Entry, 16)
	pubsub := j.client.Subscribe(ctx, j.channel)

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var entry Entry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					continue
				}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close releases the Redis connection.
func (j *Journal) Close() error {
	if j.client != nil {
		return j.client.Close()
	}
	return nil
}
