// Package mission drives the pad-to-pad cruise: takeoff, confirm pad A,
// dwell, shuttle to pad B and back for a configured number of rounds, then
// land. The controller is a cooperatively-cancellable worker.
package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/strix/internal/drone"
	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
)

// Phase is the controller's externally visible state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseTakingOff      Phase = "taking_off"
	PhaseSearching      Phase = "searching"
	PhaseRecovering     Phase = "recovering"
	PhaseAligning       Phase = "aligning"
	PhaseDwelling       Phase = "dwelling"
	PhaseTransit        Phase = "transit"
	PhasePrepareLanding Phase = "prepare_landing"
	PhaseLanding        Phase = "landing"
	PhaseDone           Phase = "done"
	PhaseAborted        Phase = "aborted"
)

// Params configure one cruise.
type Params struct {
	Rounds       int     `json:"rounds"`
	DwellSeconds float64 `json:"dwell_seconds"`
	HeightCm     int     `json:"height_cm"`
	TargetPads   [2]int  `json:"target_pads"`
}

// DefaultParams is the classic two-pad cruise.
func DefaultParams() Params {
	return Params{Rounds: 3, DwellSeconds: 5, HeightCm: 100, TargetPads: [2]int{1, 6}}
}

// PositionEvent fires at each confirmed pad.
type PositionEvent struct {
	PadID int       `json:"pad_id"`
	Phase Phase     `json:"phase"`
	Round int       `json:"round"`
	At    time.Time `json:"at"`
}

// Controller runs at most one mission at a time.
type Controller struct {
	driver drone.Driver

	mu        sync.Mutex
	phase     Phase
	params    Params
	round     int
	running   bool
	cancel    context.CancelFunc
	statusCb  func(string)
	posCb     func(PositionEvent)
	lastMsg   string
	lastMsgAt time.Time

	// Injectable timing for tests.
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) bool
	now          func() time.Time
}

// New creates an idle controller for the given driver.
func New(driver drone.Driver) *Controller {
	return &Controller{
		driver:       driver,
		phase:        PhaseIdle,
		pollInterval: 500 * time.Millisecond,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// SetStatusFunc installs the status sink. Identical messages within one
// second are suppressed.
func (c *Controller) SetStatusFunc(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCb = fn
}

// SetPositionFunc installs the confirmed-pad sink.
func (c *Controller) SetPositionFunc(fn func(PositionEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posCb = fn
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Running reports whether a mission worker is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Normalize fills zero values with defaults and clamps the rest into safe
// flight ranges (rounds 1-10, dwell 0-30 s, height 40-300 cm, the driver's
// own envelope).
func (p Params) Normalize() Params {
	d := DefaultParams()
	if p.Rounds <= 0 {
		p.Rounds = d.Rounds
	}
	if p.Rounds > 10 {
		p.Rounds = 10
	}
	if p.DwellSeconds <= 0 {
		p.DwellSeconds = d.DwellSeconds
	}
	if p.DwellSeconds > 30 {
		p.DwellSeconds = 30
	}
	if p.HeightCm <= 0 {
		p.HeightCm = d.HeightCm
	}
	if p.HeightCm < 40 {
		p.HeightCm = 40
	}
	if p.HeightCm > 300 {
		p.HeightCm = 300
	}
	if p.TargetPads == [2]int{} {
		p.TargetPads = d.TargetPads
	}
	return p
}

// Start launches the mission worker. It fails when a mission is already
// running or the drone is not connected.
func (c *Controller) Start(ctx context.Context, params Params) error {
	params = params.Normalize()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fault.New(fault.CodeInvalidParam, "mission already running")
	}
	if !c.driver.IsConnected() {
		c.mu.Unlock()
		return fault.New(fault.CodeConnectionLost, "drone not connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.params = params
	c.round = 0
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Stop cancels the running mission. The worker attempts a descent and land
// when already airborne.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	final := c.cruise(ctx)
	c.setPhase(final)
	if final == PhaseAborted && ctx.Err() != nil {
		// Cancelled mid-flight: come down gently rather than hovering.
		c.safeDescend()
	}
	c.status(fmt.Sprintf("mission finished: %s", final))
}

func (c *Controller) cruise(ctx context.Context) Phase {
	params := c.paramsSnapshot()
	padA, padB := params.TargetPads[0], params.TargetPads[1]

	c.setPhase(PhaseTakingOff)
	c.status("taking off")
	if height, err := c.driver.Height(); err != nil || height <= 0 {
		if err := c.driver.Takeoff(); err != nil {
			c.status("takeoff failed: " + err.Error())
			return PhaseAborted
		}
		if !c.sleep(ctx, 2*time.Second) {
			return PhaseAborted
		}
	}
	if err := c.driver.SetHeight(params.HeightCm); err != nil {
		logging.Op("mission").Warn("height adjust failed", "error", err)
	}
	if !c.sleep(ctx, 2*time.Second) {
		return PhaseAborted
	}

	if !c.locatePad(ctx, padA, 10*time.Second, params) {
		return PhaseAborted
	}

	// Each round dwells once per pad; the final return to A goes straight
	// into the landing sequence.
	for round := 1; round <= params.Rounds; round++ {
		c.mu.Lock()
		c.round = round
		c.mu.Unlock()
		c.status(fmt.Sprintf("round %d/%d", round, params.Rounds))

		c.dwell(ctx, padA, params)
		if !c.transit(ctx, padA, padB, params) {
			return PhaseAborted
		}
		c.dwell(ctx, padB, params)
		if !c.transit(ctx, padB, padA, params) {
			return PhaseAborted
		}
	}

	c.setPhase(PhasePrepareLanding)
	c.status("preparing to land")
	if c.confirmPad(ctx, padA, 3*time.Second, params) {
		if err := c.driver.GoXYZSpeedMid(0, 0, 60, 15, padA); err != nil {
			logging.Op("mission").Warn("approach over pad failed", "error", err)
		}
	}
	// Confirmed or not, descend in place and land.
	if err := c.driver.SetHeight(30); err != nil {
		logging.Op("mission").Warn("final descent failed", "error", err)
	}
	c.setPhase(PhaseLanding)
	c.status("landing")
	if err := c.driver.Land(); err != nil {
		c.status("landing failed: " + err.Error())
		return PhaseAborted
	}
	return PhaseDone
}

// locatePad searches for a pad and falls back to rotation recovery.
func (c *Controller) locatePad(ctx context.Context, pad int, timeout time.Duration, params Params) bool {
	c.setPhase(PhaseSearching)
	c.status(fmt.Sprintf("searching pad %d", pad))
	if c.confirmPad(ctx, pad, timeout, params) {
		return c.align(ctx, pad, params)
	}
	return c.recover(ctx, pad, params)
}

// confirmPad requires three consecutive equal reads of pad. Any other
// reading, in-set or noise, resets the streak.
func (c *Controller) confirmPad(ctx context.Context, pad int, timeout time.Duration, params Params) bool {
	deadline := c.now().Add(timeout)
	streak := 0
	for c.now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		if id, err := c.driver.MissionPadID(); err == nil && id == pad {
			streak++
			if streak >= 3 {
				return true
			}
		} else {
			streak = 0
		}
		if !c.sleep(ctx, c.pollInterval) {
			return false
		}
	}
	return false
}

// recover rotates 30 degrees clockwise and re-polls with a 3-sample
// majority, up to four rotations.
func (c *Controller) recover(ctx context.Context, pad int, params Params) bool {
	c.setPhase(PhaseRecovering)
	c.status(fmt.Sprintf("pad %d lost, rotating to reacquire", pad))
	for i := 0; i < 4; i++ {
		if ctx.Err() != nil {
			return false
		}
		if err := c.driver.RotateClockwise(30); err != nil {
			logging.Op("mission").Warn("recovery rotation failed", "error", err)
		}
		if !c.sleep(ctx, c.pollInterval) {
			return false
		}
		hits := 0
		for s := 0; s < 3; s++ {
			if id, err := c.driver.MissionPadID(); err == nil && id == pad {
				hits++
			}
			if !c.sleep(ctx, c.pollInterval) {
				return false
			}
		}
		if hits >= 2 {
			return c.align(ctx, pad, params)
		}
	}
	c.status(fmt.Sprintf("pad %d not found after rotation recovery", pad))
	return false
}

// align centers over the pad and re-confirms the fix.
func (c *Controller) align(ctx context.Context, pad int, params Params) bool {
	c.setPhase(PhaseAligning)
	c.status(fmt.Sprintf("aligning over pad %d", pad))
	if err := c.driver.GoXYZSpeedMid(0, 0, params.HeightCm, 15, pad); err != nil {
		logging.Op("mission").Warn("align command failed", "pad", pad, "error", err)
	}
	if !c.sleep(ctx, 3*time.Second) {
		return false
	}
	if c.confirmPad(ctx, pad, 3*time.Second, params) {
		return true
	}
	return c.recover(ctx, pad, params)
}

// transit shuttles between pads with short rc bursts, then re-acquires the
// destination. Up to three attempts per leg.
func (c *Controller) transit(ctx context.Context, from, to int, params Params) bool {
	c.setPhase(PhaseTransit)
	c.status(fmt.Sprintf("transit pad %d -> pad %d", from, to))

	burst := 35
	if to < from {
		burst = -35
	}
	for attempt := 0; attempt < 3; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if err := c.driver.SendRCControl(0, burst, 0, 0); err != nil {
			logging.Op("mission").Warn("rc burst failed", "error", err)
		}
		if !c.sleep(ctx, 1200*time.Millisecond) {
			return false
		}
		c.driver.SendRCControl(0, 0, 0, 0)

		c.setPhase(PhaseSearching)
		if c.confirmPad(ctx, to, 4*time.Second, params) {
			return c.align(ctx, to, params)
		}
	}
	if c.recover(ctx, to, params) {
		return true
	}
	c.status(fmt.Sprintf("failed to reach pad %d", to))
	return false
}

// dwell holds position over a confirmed pad and emits the position event.
func (c *Controller) dwell(ctx context.Context, pad int, params Params) {
	c.setPhase(PhaseDwelling)
	c.status(fmt.Sprintf("dwelling at pad %d", pad))

	c.mu.Lock()
	posCb := c.posCb
	round := c.round
	c.mu.Unlock()
	if posCb != nil {
		posCb(PositionEvent{PadID: pad, Phase: PhaseDwelling, Round: round, At: c.now()})
	}
	c.sleep(ctx, time.Duration(params.DwellSeconds*float64(time.Second)))
}

func (c *Controller) safeDescend() {
	if err := c.driver.SetHeight(30); err != nil {
		logging.Op("mission").Warn("descent on cancel failed", "error", err)
	}
	c.driver.Land()
}

func (c *Controller) paramsSnapshot() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// status forwards a message to the sink, suppressing duplicates within one
// second.
func (c *Controller) status(msg string) {
	c.mu.Lock()
	fn := c.statusCb
	now := c.now()
	if msg == c.lastMsg && now.Sub(c.lastMsgAt) < time.Second {
		c.mu.Unlock()
		return
	}
	c.lastMsg = msg
	c.lastMsgAt = now
	c.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}
