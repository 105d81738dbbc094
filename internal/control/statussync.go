package control

import (
	"context"
	"time"

	"github.com/oriys/strix/internal/drone"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/metrics"
)

// RunStatusSync polls the drone at interval and broadcasts drone_status
// events, gated through the status cache so unchanged telemetry stays off
// the wire. It returns when ctx is cancelled.
func (s *Server) RunStatusSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, ok := s.pollStatus()
		if !ok {
			continue
		}
		if status.Connected {
			metrics.SetDroneTelemetry(status.Battery, status.HeightCm)
		}
		if s.deps.Status != nil {
			broadcast, _ := s.deps.Status.Update(status)
			if !broadcast {
				continue
			}
		}
		s.Broadcast(EvtDroneStatus, status)
	}
}

// pollStatus reads one telemetry snapshot. A disconnected drone yields a
// minimal snapshot; a partial read failure skips the tick rather than
// broadcasting a half-filled one.
func (s *Server) pollStatus() (drone.Status, bool) {
	if s.deps.Driver == nil {
		return drone.Status{}, false
	}
	now := time.Now()
	if !s.deps.Driver.IsConnected() {
		return drone.Status{
			Connected:    false,
			MissionPadID: -1,
			State:        "disconnected",
			CapturedAt:   now,
		}, true
	}

	battery, err := s.deps.Driver.Battery()
	if err != nil {
		logging.Op("control.status").Warn("battery read failed", "error", err)
		return drone.Status{}, false
	}
	temperature, err := s.deps.Driver.Temperature()
	if err != nil {
		return drone.Status{}, false
	}
	height, err := s.deps.Driver.Height()
	if err != nil {
		return drone.Status{}, false
	}
	wifi, err := s.deps.Driver.WifiSignal()
	if err != nil {
		return drone.Status{}, false
	}
	flightTime, err := s.deps.Driver.FlightTime()
	if err != nil {
		return drone.Status{}, false
	}
	pad, err := s.deps.Driver.MissionPadID()
	if err != nil {
		pad = -1
	}

	state := "landed"
	flying := height > 0
	if flying {
		state = "flying"
	}
	return drone.Status{
		Connected:    true,
		Flying:       flying,
		Battery:      battery,
		Temperature:  temperature,
		HeightCm:     height,
		WifiSignal:   wifi,
		FlightTimeS:  flightTime,
		MissionPadID: pad,
		State:        state,
		CapturedAt:   now,
	}, true
}
