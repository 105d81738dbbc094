package drone

import (
	"context"
	"sync"

	"github.com/oriys/strix/internal/fault"
)

// Serialized wraps a Driver with a mutex so that movement and telemetry
// commands from the pipeline, the mission controller and direct client
// commands never interleave on the wire. The drone is a single exclusive
// resource; this wrapper is the coordination point callers rely on.
type Serialized struct {
	mu sync.Mutex
	d  Driver
}

// Serialize wraps d. A Serialized must not wrap another Serialized.
func Serialize(d Driver) *Serialized {
	return &Serialized{d: d}
}

func (s *Serialized) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Connect(ctx)
}

func (s *Serialized) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.End()
}

// IsConnected is read-only and intentionally unlocked: drivers keep the
// flag internally synchronized and status polling must not stall behind a
// long-running movement command.
func (s *Serialized) IsConnected() bool { return s.d.IsConnected() }

func (s *Serialized) Battery() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Battery()
}

func (s *Serialized) Temperature() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Temperature()
}

func (s *Serialized) Height() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Height()
}

func (s *Serialized) WifiSignal() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.WifiSignal()
}

func (s *Serialized) FlightTime() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.FlightTime()
}

func (s *Serialized) MissionPadID() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.MissionPadID()
}

func (s *Serialized) Takeoff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Takeoff()
}

func (s *Serialized) Land() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Land()
}

func (s *Serialized) Emergency() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Emergency()
}

func (s *Serialized) MoveForward(cm int) error  { return s.move(cm, s.d.MoveForward) }
func (s *Serialized) MoveBack(cm int) error     { return s.move(cm, s.d.MoveBack) }
func (s *Serialized) MoveLeft(cm int) error     { return s.move(cm, s.d.MoveLeft) }
func (s *Serialized) MoveRight(cm int) error    { return s.move(cm, s.d.MoveRight) }
func (s *Serialized) MoveUp(cm int) error       { return s.move(cm, s.d.MoveUp) }
func (s *Serialized) MoveDown(cm int) error     { return s.move(cm, s.d.MoveDown) }

func (s *Serialized) move(cm int, fn func(int) error) error {
	if cm < 20 || cm > 500 {
		return fault.New(fault.CodeInvalidParam, "move distance out of range 20..500").
			WithContext("cm", cm)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(cm)
}

func (s *Serialized) RotateClockwise(deg int) error {
	return s.rotate(deg, s.d.RotateClockwise)
}

func (s *Serialized) RotateCounterClockwise(deg int) error {
	return s.rotate(deg, s.d.RotateCounterClockwise)
}

func (s *Serialized) rotate(deg int, fn func(int) error) error {
	if deg < 1 || deg > 360 {
		return fault.New(fault.CodeInvalidParam, "rotation out of range 1..360").
			WithContext("deg", deg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(deg)
}

func (s *Serialized) SetHeight(cm int) error {
	if cm < 40 || cm > 300 {
		return fault.New(fault.CodeInvalidParam, "height out of range 40..300").
			WithContext("cm", cm)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.SetHeight(cm)
}

func (s *Serialized) SendRCControl(lr, fb, ud, yaw int) error {
	for _, v := range []int{lr, fb, ud, yaw} {
		if v < -100 || v > 100 {
			return fault.New(fault.CodeInvalidParam, "rc stick value out of range -100..100")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.SendRCControl(lr, fb, ud, yaw)
}

func (s *Serialized) GoXYZSpeedMid(x, y, z, speed, padID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GoXYZSpeedMid(x, y, z, speed, padID)
}

func (s *Serialized) StreamOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.StreamOn()
}

func (s *Serialized) StreamOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.StreamOff()
}

func (s *Serialized) FrameReader() FrameReader { return s.d.FrameReader() }
