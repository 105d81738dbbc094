// Package statuscache decides whether a fresh telemetry snapshot deserves a
// broadcast. It digests snapshots, diffs fields against per-field
// thresholds, rate-limits the outcome, and keeps a bounded history.
//
// # Invariants
//
//   - Broadcast decisions are non-decreasing in capture time.
//   - A digest failure always results in a broadcast: safety over silence.
//   - Suppression never loses the change signal; `changed` is reported even
//     when the broadcast is rate-limited.
package statuscache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/oriys/strix/internal/drone"
)

// Default per-field absolute thresholds. A delta >= threshold is
// significant. Boolean fields and the state string are significant on any
// change.
var defaultThresholds = map[string]float64{
	"battery":     1,
	"temperature": 1,
	"height":      5,
	"position":    2,
	"wifi_signal": 10,
}

// Entry is one retained broadcast decision.
type Entry struct {
	Status        drone.Status `json:"status"`
	Hash          string       `json:"hash"`
	ChangedFields []string     `json:"changed_fields"`
	CapturedAt    time.Time    `json:"captured_at"`
}

// Statistics summarizes cache activity.
type Statistics struct {
	TotalUpdates         int           `json:"total_updates"`
	Broadcasts           int           `json:"broadcasts"`
	SuppressedBroadcasts int           `json:"suppressed_broadcasts"`
	AvgBroadcastInterval time.Duration `json:"avg_broadcast_interval"`
	HistoryLen           int           `json:"history_len"`
	ActiveThresholds     map[string]float64 `json:"active_thresholds"`
}

// Cache gates status broadcasts. Zero value is not usable; call New.
type Cache struct {
	mu sync.Mutex

	minInterval time.Duration
	ttl         time.Duration
	thresholds  map[string]float64

	last          *drone.Status
	lastHash      string
	lastUpdatedAt time.Time
	lastBroadcast time.Time
	hasBroadcast  bool

	history     []Entry
	historySize int

	totalUpdates int
	broadcasts   int
	suppressed   int
	avgInterval  time.Duration

	now func() time.Time
}

// New creates a Cache. historySize <= 0 defaults to 100.
func New(minInterval, ttl time.Duration, historySize int) *Cache {
	if historySize <= 0 {
		historySize = 100
	}
	thresholds := make(map[string]float64, len(defaultThresholds))
	for k, v := range defaultThresholds {
		thresholds[k] = v
	}
	return &Cache{
		minInterval: minInterval,
		ttl:         ttl,
		thresholds:  thresholds,
		historySize: historySize,
		now:         time.Now,
	}
}

// Update evaluates a snapshot. It returns whether the caller should
// broadcast it, and whether any field crossed its change threshold.
func (c *Cache) Update(status drone.Status) (shouldBroadcast, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if status.CapturedAt.IsZero() {
		status.CapturedAt = now
	}
	c.totalUpdates++

	// Broadcasts must be monotonic in capture time; a stale snapshot from a
	// lagging poller is dropped outright.
	if c.hasBroadcast && len(c.history) > 0 &&
		status.CapturedAt.Before(c.history[len(c.history)-1].CapturedAt) {
		return false, false
	}

	hash, digestOK := digest(status)

	if c.last == nil {
		c.commit(status, hash, []string{"initial"}, now)
		return true, true
	}

	expired := now.Sub(c.lastUpdatedAt) > c.ttl

	if digestOK && hash == c.lastHash && !expired {
		return false, false
	}

	changedFields := c.diff(*c.last, status)
	changed = len(changedFields) > 0

	if !digestOK {
		// Digest failure: always broadcast rather than risk silence.
		c.commit(status, hash, changedFields, now)
		return true, changed
	}

	if !changed && !expired {
		return false, false
	}

	interval := c.minInterval
	if !changed && expired {
		interval = 2 * c.minInterval
	}
	if now.Sub(c.lastBroadcast) < interval {
		c.suppressed++
		return false, changed
	}

	c.commit(status, hash, changedFields, now)
	return true, changed
}

func (c *Cache) commit(status drone.Status, hash string, changedFields []string, now time.Time) {
	if c.hasBroadcast {
		gap := now.Sub(c.lastBroadcast)
		if c.avgInterval == 0 {
			c.avgInterval = gap
		} else {
			c.avgInterval = time.Duration(0.9*float64(c.avgInterval) + 0.1*float64(gap))
		}
	}
	c.last = &status
	c.lastHash = hash
	c.lastUpdatedAt = now
	c.lastBroadcast = now
	c.hasBroadcast = true
	c.broadcasts++

	c.history = append(c.history, Entry{
		Status:        status,
		Hash:          hash,
		ChangedFields: changedFields,
		CapturedAt:    status.CapturedAt,
	})
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}

func (c *Cache) diff(prev, next drone.Status) []string {
	var fields []string
	if prev.Connected != next.Connected {
		fields = append(fields, "connected")
	}
	if prev.Flying != next.Flying {
		fields = append(fields, "flying")
	}
	if prev.State != next.State {
		fields = append(fields, "state")
	}
	if prev.MissionPadID != next.MissionPadID {
		fields = append(fields, "mission_pad_id")
	}
	if crossed(float64(prev.Battery), float64(next.Battery), c.thresholds["battery"]) {
		fields = append(fields, "battery")
	}
	if crossed(float64(prev.Temperature), float64(next.Temperature), c.thresholds["temperature"]) {
		fields = append(fields, "temperature")
	}
	if crossed(float64(prev.HeightCm), float64(next.HeightCm), c.thresholds["height"]) {
		fields = append(fields, "height")
	}
	if crossed(float64(prev.WifiSignal), float64(next.WifiSignal), c.thresholds["wifi_signal"]) {
		fields = append(fields, "wifi_signal")
	}
	pt := c.thresholds["position"]
	if crossed(prev.Position.X, next.Position.X, pt) ||
		crossed(prev.Position.Y, next.Position.Y, pt) ||
		crossed(prev.Position.Z, next.Position.Z, pt) {
		fields = append(fields, "position")
	}
	return fields
}

func crossed(prev, next, threshold float64) bool {
	if threshold <= 0 {
		return prev != next
	}
	return math.Abs(next-prev) >= threshold
}

func digest(status drone.Status) (string, bool) {
	data, err := json.Marshal(status)
	if err != nil {
		return "", false
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), true
}

// SetThreshold adjusts one field's change threshold at runtime.
func (c *Cache) SetThreshold(field string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds[field] = value
}

// History returns up to limit entries, newest last, skipping entries
// captured at or before since. Zero limit means all retained entries.
func (c *Cache) History(limit int, since time.Time) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.history {
		if !since.IsZero() && !e.CapturedAt.After(since) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ChangesSince returns the union of field names changed after ts.
func (c *Cache) ChangesSince(ts time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, e := range c.history {
		if !e.CapturedAt.After(ts) {
			continue
		}
		for _, f := range e.ChangedFields {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// FieldHistory returns up to limit retained values for one numeric field,
// oldest first.
func (c *Cache) FieldHistory(name string, limit int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []float64
	for _, e := range c.history {
		switch name {
		case "battery":
			out = append(out, float64(e.Status.Battery))
		case "temperature":
			out = append(out, float64(e.Status.Temperature))
		case "height":
			out = append(out, float64(e.Status.HeightCm))
		case "wifi_signal":
			out = append(out, float64(e.Status.WifiSignal))
		case "flight_time":
			out = append(out, float64(e.Status.FlightTimeS))
		default:
			return nil
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Statistics reports cache activity counters.
func (c *Cache) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	thresholds := make(map[string]float64, len(c.thresholds))
	for k, v := range c.thresholds {
		thresholds[k] = v
	}
	return Statistics{
		TotalUpdates:         c.totalUpdates,
		Broadcasts:           c.broadcasts,
		SuppressedBroadcasts: c.suppressed,
		AvgBroadcastInterval: c.avgInterval,
		HistoryLen:           len(c.history),
		ActiveThresholds:     thresholds,
	}
}

// Clear drops all cached state and history but keeps thresholds.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
	c.lastHash = ""
	c.history = nil
	c.hasBroadcast = false
	c.avgInterval = 0
}
