package drone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/strix/internal/frame"
)

// Sim is an in-memory Driver used by tests and by the daemon's dry-run
// mode. Telemetry values are settable, the mission-pad feed is scripted,
// and every issued command is recorded in order.
type Sim struct {
	mu sync.Mutex

	connected bool
	flying    bool

	battery     int
	temperature int
	height      int
	wifi        int
	flightTime  int

	padSeq []int
	padIdx int
	padFn  func() int

	commands []string
	err      error

	frames *SimFrameReader
}

// NewSim creates a connected-capable simulator with full battery.
func NewSim() *Sim {
	return &Sim{
		battery: 100,
		height:  0,
		wifi:    90,
		frames:  &SimFrameReader{},
	}
}

// SetPadSequence scripts the values MissionPadID returns, one per call.
// The last value repeats once the sequence is exhausted.
func (s *Sim) SetPadSequence(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.padSeq = ids
	s.padIdx = 0
	s.padFn = nil
}

// SetPadFunc scripts MissionPadID with a function, overriding any sequence.
func (s *Sim) SetPadFunc(fn func() int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.padFn = fn
}

// SetBattery sets the reported battery percentage.
func (s *Sim) SetBattery(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = v
}

// SetTelemetry sets temperature, height and wifi signal in one call.
func (s *Sim) SetTelemetry(temperature, height, wifi int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = temperature
	s.height = height
	s.wifi = wifi
}

// FailWith makes every subsequent command return err (nil clears).
func (s *Sim) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Commands returns a copy of the issued command log.
func (s *Sim) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// PushFrame makes f the latest camera frame.
func (s *Sim) PushFrame(f *frame.BGR) { s.frames.push(f) }

func (s *Sim) record(format string, args ...any) {
	s.commands = append(s.commands, fmt.Sprintf(format, args...))
}

func (s *Sim) command(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if !s.connected {
		return errors.New("drone not connected")
	}
	s.record(format, args...)
	return nil
}

func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.connected = true
	s.record("connect")
	return nil
}

func (s *Sim) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.flying = false
	s.record("end")
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Battery() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, errors.New("drone not connected")
	}
	return s.battery, nil
}

func (s *Sim) Temperature() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature, nil
}

func (s *Sim) Height() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *Sim) WifiSignal() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wifi, nil
}

func (s *Sim) FlightTime() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flightTime, nil
}

func (s *Sim) MissionPadID() (int, error) {
	s.mu.Lock()
	if fn := s.padFn; fn != nil {
		// Release the lock before the callback: scripted pad functions may
		// themselves call methods like Commands that take s.mu.
		s.mu.Unlock()
		return fn(), nil
	}
	defer s.mu.Unlock()
	if len(s.padSeq) == 0 {
		return -1, nil
	}
	id := s.padSeq[s.padIdx]
	if s.padIdx < len(s.padSeq)-1 {
		s.padIdx++
	}
	return id, nil
}

func (s *Sim) Takeoff() error {
	if err := s.command("takeoff"); err != nil {
		return err
	}
	s.mu.Lock()
	s.flying = true
	s.height = 80
	s.mu.Unlock()
	return nil
}

func (s *Sim) Land() error {
	if err := s.command("land"); err != nil {
		return err
	}
	s.mu.Lock()
	s.flying = false
	s.height = 0
	s.mu.Unlock()
	return nil
}

func (s *Sim) Emergency() error {
	if err := s.command("emergency"); err != nil {
		return err
	}
	s.mu.Lock()
	s.flying = false
	s.mu.Unlock()
	return nil
}

func (s *Sim) MoveForward(cm int) error { return s.command("move_forward %d", cm) }
func (s *Sim) MoveBack(cm int) error    { return s.command("move_back %d", cm) }
func (s *Sim) MoveLeft(cm int) error    { return s.command("move_left %d", cm) }
func (s *Sim) MoveRight(cm int) error   { return s.command("move_right %d", cm) }

func (s *Sim) MoveUp(cm int) error {
	if err := s.command("move_up %d", cm); err != nil {
		return err
	}
	s.mu.Lock()
	s.height += cm
	s.mu.Unlock()
	return nil
}

func (s *Sim) MoveDown(cm int) error {
	if err := s.command("move_down %d", cm); err != nil {
		return err
	}
	s.mu.Lock()
	s.height -= cm
	s.mu.Unlock()
	return nil
}

func (s *Sim) RotateClockwise(deg int) error {
	return s.command("rotate_cw %d", deg)
}

func (s *Sim) RotateCounterClockwise(deg int) error {
	return s.command("rotate_ccw %d", deg)
}

func (s *Sim) SetHeight(cm int) error {
	if err := s.command("set_height %d", cm); err != nil {
		return err
	}
	s.mu.Lock()
	s.height = cm
	s.mu.Unlock()
	return nil
}

func (s *Sim) SendRCControl(lr, fb, ud, yaw int) error {
	return s.command("rc %d %d %d %d", lr, fb, ud, yaw)
}

func (s *Sim) GoXYZSpeedMid(x, y, z, speed, padID int) error {
	if err := s.command("go_xyz %d %d %d %d pad%d", x, y, z, speed, padID); err != nil {
		return err
	}
	s.mu.Lock()
	s.height = z
	s.mu.Unlock()
	return nil
}

func (s *Sim) StreamOn() error  { return s.command("streamon") }
func (s *Sim) StreamOff() error { return s.command("streamoff") }

func (s *Sim) FrameReader() FrameReader { return s.frames }

// IsFlying reports the simulated airborne state.
func (s *Sim) IsFlying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flying
}

// SimFrameReader holds the latest pushed frame.
type SimFrameReader struct {
	mu     sync.Mutex
	latest *frame.BGR
}

func (r *SimFrameReader) push(f *frame.BGR) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = f
}

func (r *SimFrameReader) Latest() *frame.BGR {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}
