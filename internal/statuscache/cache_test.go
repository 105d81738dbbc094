package statuscache

import (
	"testing"
	"time"

	"github.com/oriys/strix/internal/drone"
)

// fixedClock advances by step on every call so min-interval suppression
// does not interfere with threshold tests unless a test wants it to.
type fixedClock struct {
	t    time.Time
	step time.Duration
}

func (f *fixedClock) now() time.Time {
	f.t = f.t.Add(f.step)
	return f.t
}

func newTestCache(minInterval, ttl time.Duration, step time.Duration) (*Cache, *fixedClock) {
	c := New(minInterval, ttl, 100)
	clk := &fixedClock{t: time.Unix(1000, 0), step: step}
	c.now = clk.now
	return c, clk
}

func status(battery int) drone.Status {
	return drone.Status{Connected: true, Battery: battery}
}

func TestBatteryThresholdSequence(t *testing.T) {
	// 80, 80, 79, 79, 75 with threshold 1:
	// broadcast, suppress (identical), broadcast (delta 1 >= 1),
	// suppress (identical), broadcast (delta 4).
	c, _ := newTestCache(100*time.Millisecond, time.Minute, time.Second)

	want := []struct {
		battery   int
		broadcast bool
	}{
		{80, true}, {80, false}, {79, true}, {79, false}, {75, true},
	}
	for i, w := range want {
		got, _ := c.Update(status(w.battery))
		if got != w.broadcast {
			t.Fatalf("update %d (battery %d): broadcast = %v, want %v", i, w.battery, got, w.broadcast)
		}
	}
}

func TestSubThresholdChangeIsNotSignificant(t *testing.T) {
	c, _ := newTestCache(100*time.Millisecond, time.Minute, time.Second)
	c.SetThreshold("battery", 5)

	c.Update(status(80))
	should, changed := c.Update(status(78))
	if should || changed {
		t.Fatalf("delta below threshold: got (%v, %v), want (false, false)", should, changed)
	}
}

func TestBooleanChangeAlwaysSignificant(t *testing.T) {
	c, _ := newTestCache(100*time.Millisecond, time.Minute, time.Second)
	s := status(80)
	c.Update(s)

	s.Flying = true
	should, changed := c.Update(s)
	if !should || !changed {
		t.Fatalf("flying flip: got (%v, %v), want (true, true)", should, changed)
	}
}

func TestMinIntervalSuppression(t *testing.T) {
	// Clock advances 10ms per call; min interval is 100ms, so a real change
	// right after a broadcast is suppressed but still reported as changed.
	c, _ := newTestCache(100*time.Millisecond, time.Minute, 10*time.Millisecond)

	c.Update(status(80))
	should, changed := c.Update(status(50))
	if should {
		t.Fatal("broadcast within min-interval should be suppressed")
	}
	if !changed {
		t.Fatal("suppression must not hide the change signal")
	}
	if got := c.Statistics().SuppressedBroadcasts; got != 1 {
		t.Fatalf("suppressed = %d, want 1", got)
	}
}

func TestTTLExpiryRebroadcastsUnchanged(t *testing.T) {
	c, clk := newTestCache(100*time.Millisecond, time.Minute, time.Second)

	c.Update(status(80))
	// Same snapshot after TTL has elapsed.
	clk.t = clk.t.Add(2 * time.Minute)
	should, changed := c.Update(status(80))
	if !should {
		t.Fatal("TTL-expired snapshot should rebroadcast")
	}
	if changed {
		t.Fatal("unchanged snapshot must not report changed")
	}
}

func TestPositionThreshold(t *testing.T) {
	c, _ := newTestCache(100*time.Millisecond, time.Minute, time.Second)
	s := status(80)
	c.Update(s)

	s.Position = drone.Position{X: 1}
	if should, _ := c.Update(s); should {
		t.Fatal("position delta below threshold 2 broadcast")
	}
	s.Position = drone.Position{X: 3}
	if should, _ := c.Update(s); !should {
		t.Fatal("position delta 3 should broadcast")
	}
}

func TestHistoryBounded(t *testing.T) {
	c := New(0, time.Minute, 5)
	clk := &fixedClock{t: time.Unix(1000, 0), step: time.Second}
	c.now = clk.now

	for i := 0; i < 20; i++ {
		c.Update(status(100 - i))
	}
	if got := len(c.History(0, time.Time{})); got != 5 {
		t.Fatalf("history len = %d, want 5", got)
	}
}

func TestHistoryLimitAndSince(t *testing.T) {
	c, _ := newTestCache(0, time.Minute, time.Second)
	for i := 0; i < 10; i++ {
		c.Update(status(100 - 2*i))
	}
	all := c.History(0, time.Time{})
	if len(all) != 10 {
		t.Fatalf("history len = %d, want 10", len(all))
	}
	limited := c.History(3, time.Time{})
	if len(limited) != 3 {
		t.Fatalf("limited len = %d, want 3", len(limited))
	}
	// Newest entries are kept.
	if limited[2].Status.Battery != all[9].Status.Battery {
		t.Fatal("limit should keep newest entries")
	}

	since := all[6].CapturedAt
	after := c.History(0, since)
	if len(after) != 3 {
		t.Fatalf("since filter len = %d, want 3", len(after))
	}
}

func TestFieldHistory(t *testing.T) {
	c, _ := newTestCache(0, time.Minute, time.Second)
	for _, b := range []int{90, 85, 80} {
		c.Update(status(b))
	}
	vals := c.FieldHistory("battery", 0)
	if len(vals) != 3 || vals[0] != 90 || vals[2] != 80 {
		t.Fatalf("field history = %v", vals)
	}
	if c.FieldHistory("no_such_field", 0) != nil {
		t.Fatal("unknown field should return nil")
	}
}

func TestChangesSince(t *testing.T) {
	c, _ := newTestCache(0, time.Minute, time.Second)
	s := status(80)
	c.Update(s)
	mark := c.History(0, time.Time{})[0].CapturedAt

	s.Flying = true
	s.Battery = 70
	c.Update(s)

	fields := c.ChangesSince(mark)
	want := map[string]bool{"flying": true, "battery": true}
	if len(fields) != 2 {
		t.Fatalf("changes = %v, want flying+battery", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Fatalf("unexpected changed field %q", f)
		}
	}
}

func TestClearResets(t *testing.T) {
	c, _ := newTestCache(0, time.Minute, time.Second)
	c.Update(status(80))
	c.Clear()

	if len(c.History(0, time.Time{})) != 0 {
		t.Fatal("history survived clear")
	}
	// First update after clear broadcasts again.
	if should, _ := c.Update(status(80)); !should {
		t.Fatal("first update after clear should broadcast")
	}
}

func TestStaleSnapshotDropped(t *testing.T) {
	c, _ := newTestCache(0, time.Minute, time.Second)

	fresh := status(80)
	fresh.CapturedAt = time.Unix(2000, 0)
	c.Update(fresh)

	stale := status(10)
	stale.CapturedAt = time.Unix(1500, 0)
	should, changed := c.Update(stale)
	if should || changed {
		t.Fatal("snapshot older than the last broadcast must be dropped")
	}
}
