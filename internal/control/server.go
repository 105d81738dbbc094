package control

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oriys/strix/internal/config"
	"github.com/oriys/strix/internal/detect"
	"github.com/oriys/strix/internal/diagnosis"
	"github.com/oriys/strix/internal/drone"
	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/marker"
	"github.com/oriys/strix/internal/metrics"
	"github.com/oriys/strix/internal/mission"
	"github.com/oriys/strix/internal/modelstore"
	"github.com/oriys/strix/internal/pipeline"
	"github.com/oriys/strix/internal/statuscache"
)

// Deps are the subsystems the control plane commands and reports on. Any
// member may be nil; commands that need a missing subsystem fail with a
// structured error instead of panicking.
type Deps struct {
	Driver   drone.Driver
	Status   *statuscache.Cache
	Pipeline *pipeline.Pipeline
	Marker   *marker.Detector
	Workflow *diagnosis.Workflow
	Mission  *mission.Controller
	Models   *modelstore.Store

	// Mirror, when set, receives every broadcast frame. The Redis journal
	// plugs in here.
	Mirror func(eventType string, payload []byte)
}

// Server is the WebSocket hub. One goroutine per client direction; all
// outbound traffic funnels through per-client send queues.
type Server struct {
	cfg      config.ControlConfig
	deps     Deps
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	videoOn bool
	dropped int
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// sendQueueLen is sized for a few seconds of video frames; a client that
// falls further behind starts losing frames, never the connection.
const sendQueueLen = 256

// New creates the hub and installs the broadcast callbacks on the mission
// controller and diagnosis workflow.
func New(cfg config.ControlConfig, deps Deps) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 10 << 20
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon fronts a local operator console; origin policy is
			// the deployment's concern, not the protocol's.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}

	if deps.Mission != nil {
		deps.Mission.SetStatusFunc(func(msg string) {
			s.Broadcast(EvtMissionStatus, map[string]any{
				"phase":   deps.Mission.Phase(),
				"message": msg,
			})
		})
		deps.Mission.SetPositionFunc(func(e mission.PositionEvent) {
			s.Broadcast(EvtMissionPosition, e)
		})
	}
	if deps.Workflow != nil {
		deps.Workflow.SetProgressFunc(func(plantID, stage int, message string, percent int) {
			s.Broadcast(EvtDiagnosisProgress, map[string]any{
				"plant_id": plantID,
				"stage":    stage,
				"message":  message,
				"progress": percent,
			})
		})
	}
	return s
}

// ServeHTTP upgrades the connection and runs the client's read loop until
// the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Op("control.accept").Warn("upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueLen),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	metrics.SetConnectedClients(n)
	logging.Op("control.accept").Info("client connected", "client_id", c.id, "clients", n)

	go s.writePump(c)
	c.enqueue(encodeEvent(EvtConnectionEstablished, map[string]any{
		"client_id": c.id,
		"message":   "control channel ready",
	}))

	s.readPump(c)

	s.mu.Lock()
	delete(s.clients, c.id)
	n = len(s.clients)
	s.mu.Unlock()
	metrics.SetConnectedClients(n)
	c.close()
	logging.Op("control.accept").Info("client disconnected", "client_id", c.id, "clients", n)
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(s.cfg.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Op("control.read").Warn("read failed", "client_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		c.enqueue(s.dispatch(c, data))
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues one frame for the client. A full queue drops the frame,
// not the client: responses are small, the queue only fills when a slow
// reader drowns in video frames.
func (c *client) enqueue(frame []byte) {
	if frame == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcast fans one event out to every connected client and mirrors it to
// the journal when one is attached.
func (s *Server) Broadcast(eventType string, data any) {
	frame := encodeEvent(eventType, data)
	if frame == nil {
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
	metrics.RecordBroadcast(eventType)
	if s.deps.Mirror != nil {
		s.deps.Mirror(eventType, frame)
	}
}

// SetPipeline installs the frame pipeline after construction. The server
// and the pipeline reference each other (toggles one way, event sinks the
// other), so one side has to be attached late.
func (s *Server) SetPipeline(p *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps.Pipeline = p
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) videoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *Server) setVideo(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOn = on
}

// PipelineEvents returns the sink set that routes pipeline output onto the
// control channel. Wire this into pipeline.New.
func (s *Server) PipelineEvents() pipeline.Events {
	return pipeline.Events{
		Frame: func(jpegBase64 string, seq uint64) {
			if !s.videoEnabled() {
				return
			}
			s.Broadcast(EvtVideoFrame, map[string]any{
				"frame": jpegBase64,
				"seq":   seq,
			})
		},
		MarkerSeen: func(obs marker.Observation) {
			s.Broadcast(EvtMarkerDetected, obs)
			if obs.PlantID != nil {
				s.Broadcast(EvtMarkerPlantDetected, map[string]any{
					"plant_id": *obs.PlantID,
					"data":     obs.DecodedText,
				})
			}
		},
		DiagnosisStarted: func(plantID int) {
			s.Broadcast(EvtDiagnosisStarted, map[string]any{"plant_id": plantID})
		},
		DiagnosisDone: func(report *diagnosis.Report) {
			metrics.RecordDiagnosis("success", time.Duration(report.ElapsedSeconds*float64(time.Second)))
			s.Broadcast(EvtDiagnosisComplete, report)
		},
		DiagnosisFailed: func(plantID int, err error) {
			evt := EvtDiagnosisError
			outcome := "error"
			if fe := fault.As(err); fe != nil && fe.Code >= 6001 && fe.Code <= 6007 {
				evt = EvtDiagnosisConfigError
				outcome = "config_error"
			}
			metrics.RecordDiagnosis(outcome, 0)
			s.Broadcast(evt, map[string]any{
				"plant_id": plantID,
				"error":    errorPayload(err),
			})
		},
		DiagnosisCooldown: func(plantID int, remaining time.Duration) {
			s.Broadcast(EvtDiagnosisCooldown, map[string]any{
				"plant_id":          plantID,
				"remaining_seconds": int(remaining.Seconds() + 0.5),
			})
		},
		Summary: func(sum detect.Summary, markers int) {
			s.Broadcast(EvtObjectSummary, map[string]any{
				"counts":  sum.Counts,
				"total":   sum.Total,
				"markers": markers,
			})
		},
	}
}
