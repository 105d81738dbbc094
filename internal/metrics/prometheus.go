// Package metrics exposes the daemon's Prometheus collectors. Init wires a
// custom registry; every record helper is a no-op until then, so packages
// can call them unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	registry *prometheus.Registry

	framesProcessed  prometheus.Counter
	detectionsTotal  *prometheus.CounterVec
	markersDecoded   prometheus.Counter
	markersBlocked   prometheus.Counter
	diagnosesTotal   *prometheus.CounterVec
	commandsTotal    *prometheus.CounterVec
	broadcastsTotal  *prometheus.CounterVec
	segmentRequests  *prometheus.CounterVec

	diagnosisDuration prometheus.Histogram
	commandDuration   *prometheus.HistogramVec

	connectedClients prometheus.Gauge
	videoStreaming   prometheus.Gauge
	batteryPercent   prometheus.Gauge
	heightCm         prometheus.Gauge
	uptime           prometheus.GaugeFunc
}

var active *collectors

var startTime = time.Now()

// Init builds the registry and collectors under the given namespace.
func Init(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &collectors{
		registry: registry,

		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames pulled through the detection pipeline",
		}),

		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Object detections by class",
		}, []string{"class"}),

		markersDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_decoded_total",
			Help:      "Markers decoded from frames",
		}),

		markersBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_blocked_total",
			Help:      "Marker sightings suppressed by the scan cooldown",
		}),

		diagnosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Diagnosis workflow runs by outcome",
		}, []string{"outcome"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drone_commands_total",
			Help:      "Drone commands by action and result",
		}, []string{"action", "status"}),

		broadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_broadcast_total",
			Help:      "Control-plane events broadcast by type",
		}, []string{"event"}),

		segmentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmentation_requests_total",
			Help:      "Mask generation attempts by method and result",
		}, []string{"method", "status"}),

		diagnosisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diagnosis_duration_seconds",
			Help:      "End-to-end diagnosis workflow duration",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120, 180},
		}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drone_command_duration_seconds",
			Help:      "Drone command execution time",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"action"}),

		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Open control-plane connections",
		}),

		videoStreaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_streaming",
			Help:      "Whether video frames are being published (0 or 1)",
		}),

		batteryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drone_battery_percent",
			Help:      "Last reported battery level",
		}),

		heightCm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drone_height_cm",
			Help:      "Last reported height above ground",
		}),
	}

	c.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the daemon started",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	})

	registry.MustRegister(
		c.framesProcessed,
		c.detectionsTotal,
		c.markersDecoded,
		c.markersBlocked,
		c.diagnosesTotal,
		c.commandsTotal,
		c.broadcastsTotal,
		c.segmentRequests,
		c.diagnosisDuration,
		c.commandDuration,
		c.connectedClients,
		c.videoStreaming,
		c.batteryPercent,
		c.heightCm,
		c.uptime,
	)

	active = c
}

// RecordFrame counts one processed frame.
func RecordFrame() {
	if active == nil {
		return
	}
	active.framesProcessed.Inc()
}

// RecordDetections counts object detections for one frame.
func RecordDetections(counts map[string]int) {
	if active == nil {
		return
	}
	for class, n := range counts {
		active.detectionsTotal.WithLabelValues(class).Add(float64(n))
	}
}

// RecordMarkerDecoded counts a decoded marker; blocked reports whether the
// scan cooldown suppressed it.
func RecordMarkerDecoded(blocked bool) {
	if active == nil {
		return
	}
	active.markersDecoded.Inc()
	if blocked {
		active.markersBlocked.Inc()
	}
}

// RecordDiagnosis records one workflow run.
func RecordDiagnosis(outcome string, elapsed time.Duration) {
	if active == nil {
		return
	}
	active.diagnosesTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		active.diagnosisDuration.Observe(elapsed.Seconds())
	}
}

// RecordDroneCommand records one executed command.
func RecordDroneCommand(action string, elapsed time.Duration, err error) {
	if active == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	active.commandsTotal.WithLabelValues(action, status).Inc()
	active.commandDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordBroadcast counts one control-plane event fan-out.
func RecordBroadcast(eventType string) {
	if active == nil {
		return
	}
	active.broadcastsTotal.WithLabelValues(eventType).Inc()
}

// RecordSegmentation counts one mask generation attempt.
func RecordSegmentation(method string, err error) {
	if active == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	active.segmentRequests.WithLabelValues(method, status).Inc()
}

// SetConnectedClients updates the connection gauge.
func SetConnectedClients(n int) {
	if active == nil {
		return
	}
	active.connectedClients.Set(float64(n))
}

// SetVideoStreaming updates the streaming gauge.
func SetVideoStreaming(on bool) {
	if active == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	active.videoStreaming.Set(v)
}

// SetDroneTelemetry updates the battery and height gauges.
func SetDroneTelemetry(battery, heightCm int) {
	if active == nil {
		return
	}
	active.batteryPercent.Set(float64(battery))
	active.heightCm.Set(float64(heightCm))
}

// Handler serves the registry for scraping. Before Init it answers 503.
func Handler() http.Handler {
	if active == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(active.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for custom collectors. Nil before Init.
func Registry() *prometheus.Registry {
	if active == nil {
		return nil
	}
	return active.registry
}
