// Package drone defines the driver contract for the quadrotor and the
// shared telemetry snapshot type. The UDP wire protocol lives behind the
// Driver interface; everything above it sees blocking calls that return
// when the drone acknowledges.
package drone

import (
	"context"
	"time"

	"github.com/oriys/strix/internal/frame"
)

// Position is the drone's estimated offset from the active mission pad, cm.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Status is one telemetry snapshot. MissionPadID is -1 when no pad is in
// view. CapturedAt uses the monotonic clock.
type Status struct {
	Connected    bool      `json:"connected"`
	Flying       bool      `json:"flying"`
	Battery      int       `json:"battery"`
	Temperature  int       `json:"temperature"`
	HeightCm     int       `json:"height_cm"`
	Position     Position  `json:"position"`
	WifiSignal   int       `json:"wifi_signal"`
	FlightTimeS  int       `json:"flight_time_s"`
	MissionPadID int       `json:"mission_pad_id"`
	State        string    `json:"state"`
	CapturedAt   time.Time `json:"-"`
}

// FrameReader yields the most recent camera frame. Latest may return nil
// before the first frame arrives; callers poll.
type FrameReader interface {
	Latest() *frame.BGR
}

// Driver is the consumed drone interface. Each command blocks until the
// drone acknowledges or the link errors.
type Driver interface {
	Connect(ctx context.Context) error
	End() error
	IsConnected() bool

	Battery() (int, error)
	Temperature() (int, error)
	Height() (int, error)
	WifiSignal() (int, error)
	FlightTime() (int, error)
	MissionPadID() (int, error)

	Takeoff() error
	Land() error
	Emergency() error

	MoveForward(cm int) error
	MoveBack(cm int) error
	MoveLeft(cm int) error
	MoveRight(cm int) error
	MoveUp(cm int) error
	MoveDown(cm int) error
	RotateClockwise(deg int) error
	RotateCounterClockwise(deg int) error
	SetHeight(cm int) error
	SendRCControl(lr, fb, ud, yaw int) error
	GoXYZSpeedMid(x, y, z, speed, padID int) error

	StreamOn() error
	StreamOff() error
	FrameReader() FrameReader
}
