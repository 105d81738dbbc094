package control

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/strix/internal/config"
	"github.com/oriys/strix/internal/drone"
	"github.com/oriys/strix/internal/statuscache"
)

func TestStatusSyncSuppressesUnchangedTelemetry(t *testing.T) {
	sim := drone.NewSim()
	sim.Connect(context.Background())

	var broadcasts atomic.Int32
	s := New(config.ControlConfig{}, Deps{
		Driver: sim,
		Status: statuscache.New(0, time.Minute, 10),
		Mirror: func(eventType string, payload []byte) {
			if eventType == EvtDroneStatus {
				broadcasts.Add(1)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.RunStatusSync(ctx, 10*time.Millisecond); close(done) }()

	time.Sleep(80 * time.Millisecond)
	first := broadcasts.Load()
	if first != 1 {
		t.Fatalf("unchanged telemetry broadcast %d times, want 1", first)
	}

	sim.SetBattery(42)
	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	if got := broadcasts.Load(); got != first+1 {
		t.Fatalf("broadcasts after battery change = %d, want %d", got, first+1)
	}
}

func TestStatusSyncReportsDisconnected(t *testing.T) {
	sim := drone.NewSim()

	s := New(config.ControlConfig{}, Deps{Driver: sim})
	status, ok := s.pollStatus()
	if !ok {
		t.Fatal("disconnected poll should still yield a snapshot")
	}
	if status.Connected || status.State != "disconnected" || status.MissionPadID != -1 {
		t.Fatalf("snapshot = %+v", status)
	}
}

func TestStatusSyncFlyingState(t *testing.T) {
	sim := drone.NewSim()
	sim.Connect(context.Background())
	sim.SetTelemetry(28, 120, 80)

	s := New(config.ControlConfig{}, Deps{Driver: sim})
	status, ok := s.pollStatus()
	if !ok {
		t.Fatal("poll failed")
	}
	if !status.Flying || status.State != "flying" || status.HeightCm != 120 {
		t.Fatalf("snapshot = %+v", status)
	}
}
