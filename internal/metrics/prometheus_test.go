package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestUninitializedHandlerAnswers503(t *testing.T) {
	if active != nil {
		t.Skip("registry already initialized by another test")
	}
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	// Record helpers are no-ops, not panics, before Init.
	RecordFrame()
	RecordDiagnosis("success", time.Second)
}

func TestRecordedValuesAppearInScrape(t *testing.T) {
	Init("strixtest")

	RecordFrame()
	RecordFrame()
	RecordDetections(map[string]int{"person": 3})
	RecordMarkerDecoded(true)
	RecordDiagnosis("success", 12*time.Second)
	RecordDroneCommand("move_forward", 800*time.Millisecond, nil)
	RecordDroneCommand("move_forward", time.Second, errors.New("link lost"))
	RecordBroadcast("object_summary")
	RecordSegmentation("remote", nil)
	SetConnectedClients(2)
	SetVideoStreaming(true)
	SetDroneTelemetry(87, 120)

	body := scrape(t)
	for _, want := range []string{
		`strixtest_frames_processed_total 2`,
		`strixtest_detections_total{class="person"} 3`,
		`strixtest_markers_decoded_total 1`,
		`strixtest_markers_blocked_total 1`,
		`strixtest_diagnoses_total{outcome="success"} 1`,
		`strixtest_drone_commands_total{action="move_forward",status="ok"} 1`,
		`strixtest_drone_commands_total{action="move_forward",status="error"} 1`,
		`strixtest_events_broadcast_total{event="object_summary"} 1`,
		`strixtest_segmentation_requests_total{method="remote",status="ok"} 1`,
		`strixtest_connected_clients 2`,
		`strixtest_video_streaming 1`,
		`strixtest_drone_battery_percent 87`,
		`strixtest_drone_height_cm 120`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
	if !strings.Contains(body, "strixtest_uptime_seconds") {
		t.Fatal("scrape missing uptime gauge")
	}
}
