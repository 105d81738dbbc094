package journal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	if f.err != nil {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(f.err)
		return cmd
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func newTestJournal(pub publisher) *Journal {
	return &Journal{
		pub:     pub,
		channel: "strix:events",
		queue:   make(chan Entry, queueLen),
	}
}

func TestMirrorPublishesWrappedEntry(t *testing.T) {
	pub := &fakePublisher{}
	j := newTestJournal(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	frame := []byte(`{"type":"marker_detected","data":{"plant_id":4}}`)
	j.Mirror("marker_detected", frame)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(pub.published()) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	published := pub.published()
	if len(published) != 1 {
		t.Fatalf("published = %d entries, want 1", len(published))
	}
	var entry Entry
	if err := json.Unmarshal(published[0], &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Event != "marker_detected" {
		t.Fatalf("event = %q", entry.Event)
	}
	if string(entry.Payload) != string(frame) {
		t.Fatalf("payload = %s", entry.Payload)
	}
	if entry.RecordedAt.IsZero() {
		t.Fatal("recorded_at not set")
	}
}

func TestVideoFramesNeverJournalled(t *testing.T) {
	pub := &fakePublisher{}
	j := newTestJournal(pub)

	j.Mirror("video_frame", []byte(`{"type":"video_frame"}`))
	if len(j.queue) != 0 {
		t.Fatal("video_frame must not be queued")
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	pub := &fakePublisher{}
	j := newTestJournal(pub)
	// No Run worker: the queue only fills.
	for i := 0; i < queueLen+10; i++ {
		j.Mirror("object_summary", []byte(`{}`))
	}
	if len(j.queue) != queueLen {
		t.Fatalf("queue length = %d, want %d", len(j.queue), queueLen)
	}
	if got := j.dropped.Load(); got != 10 {
		t.Fatalf("dropped = %d, want 10", got)
	}
}

func TestPublishFailureDoesNotStopWorker(t *testing.T) {
	pub := &fakePublisher{err: context.DeadlineExceeded}
	j := newTestJournal(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	j.Mirror("mission_status", []byte(`{}`))
	j.Mirror("mission_status", []byte(`{}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(pub.published()) == 2 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("worker stalled after publish failure: %d published", len(pub.published()))
}
