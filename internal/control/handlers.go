package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/metrics"
	"github.com/oriys/strix/internal/mission"
	"github.com/oriys/strix/internal/vlm"
)

// dispatch routes one inbound frame to its handler and returns exactly one
// direct response frame for the issuing client. Failures of any kind come
// back as an error event carrying the structured fault payload.
func (s *Server) dispatch(c *client, raw []byte) []byte {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorFrame("", fault.New(fault.CodeMessageFormat, "malformed message frame").WithCause(err))
	}
	if msg.Type == "" {
		return errorFrame("", fault.New(fault.CodeMessageFormat, "message frame has no type"))
	}

	eventType, payload, err := s.handle(c, msg)
	if err != nil {
		logging.Op("control.dispatch").Warn("command failed",
			"client_id", c.id, "command", msg.Type, "error", err)
		return errorFrame(msg.Type, err)
	}
	return encodeEvent(eventType, payload)
}

func (s *Server) handle(c *client, msg Message) (string, any, error) {
	switch msg.Type {
	case CmdConnectDrone:
		return s.handleConnect()
	case CmdDisconnectDrone:
		return s.handleDisconnect()
	case CmdDroneTakeoff:
		return s.handleSimpleCommand("takeoff", func() error { return s.deps.Driver.Takeoff() })
	case CmdDroneLand:
		return s.handleSimpleCommand("land", func() error { return s.deps.Driver.Land() })
	case CmdDroneCommand:
		return s.handleDroneCommand(c, msg.Data)
	case CmdManualControl:
		return s.handleManualControl(msg.Data)
	case CmdStartVideo:
		return s.handleVideo(true)
	case CmdStopVideo:
		return s.handleVideo(false)
	case CmdStartObjectDetection:
		return s.handleDetectionToggle(func() { s.deps.Pipeline.EnableObjectDetection(true) })
	case CmdStopObjectDetection:
		return s.handleDetectionToggle(func() { s.deps.Pipeline.EnableObjectDetection(false) })
	case CmdStartMarkerDetection:
		return s.handleDetectionToggle(func() { s.deps.Pipeline.EnableMarkerDetection(true) })
	case CmdStopMarkerDetection:
		return s.handleDetectionToggle(func() { s.deps.Pipeline.EnableMarkerDetection(false) })
	case CmdStartDiagnosis:
		return s.handleDiagnosisToggle(true)
	case CmdStopDiagnosis:
		return s.handleDiagnosisToggle(false)
	case CmdSetMarkerCooldown:
		return s.handleSetMarkerCooldown(msg.Data)
	case CmdMarkerCooldownStatus:
		return s.handleMarkerCooldownStatus()
	case CmdClearMarkerCooldowns:
		return s.handleClearMarkerCooldowns()
	case CmdSetAIConfig:
		return s.handleSetAIConfig(msg.Data)
	case CmdAIConfigStatus:
		return s.handleAIConfigStatus()
	case CmdStatusStatistics:
		return s.handleStatusStatistics()
	case CmdCruiseStart:
		return s.handleCruiseStart(msg.Data)
	case CmdCruiseStop:
		return s.handleCruiseStop()
	case CmdListModels:
		return s.handleListModels()
	case CmdGetModelInfo:
		return s.handleModelInfo(msg.Data)
	case CmdDeleteModel:
		return s.handleDeleteModel(msg.Data)
	case CmdSelectModel:
		return s.handleSelectModel(msg.Data)
	default:
		return "", nil, fault.New(fault.CodeMessageFormat,
			fmt.Sprintf("unknown command type %q", msg.Type))
	}
}

func errorFrame(command string, err error) []byte {
	fe := fault.As(err)
	if fe == nil {
		fe = fault.New(fault.CodeUnknown, "internal error").WithCause(err)
	}
	if command != "" {
		fe = fe.WithContext("command", command)
	}
	raw, _ := json.Marshal(Message{
		Type:      EvtError,
		Data:      fe.MarshalPayload(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return raw
}

func errorPayload(err error) json.RawMessage {
	fe := fault.As(err)
	if fe == nil {
		fe = fault.New(fault.CodeUnknown, err.Error())
	}
	return fe.MarshalPayload()
}

func (s *Server) requireDriver() error {
	if s.deps.Driver == nil {
		return fault.New(fault.CodeLibNotAvailable, "drone driver not available")
	}
	return nil
}

func (s *Server) requireConnected() error {
	if err := s.requireDriver(); err != nil {
		return err
	}
	if !s.deps.Driver.IsConnected() {
		return fault.New(fault.CodeConnectionLost, "drone not connected")
	}
	return nil
}

func (s *Server) handleConnect() (string, any, error) {
	if err := s.requireDriver(); err != nil {
		return "", nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.deps.Driver.Connect(ctx); err != nil {
		return "", nil, err
	}
	return EvtStatusUpdate, map[string]any{
		"connected": true,
		"message":   "drone connected",
	}, nil
}

func (s *Server) handleDisconnect() (string, any, error) {
	if err := s.requireDriver(); err != nil {
		return "", nil, err
	}
	if err := s.deps.Driver.End(); err != nil {
		return "", nil, err
	}
	s.setVideo(false)
	return EvtStatusUpdate, map[string]any{
		"connected": false,
		"message":   "drone disconnected",
	}, nil
}

func (s *Server) handleSimpleCommand(name string, fn func() error) (string, any, error) {
	if err := s.requireConnected(); err != nil {
		return "", nil, err
	}
	if err := fn(); err != nil {
		return "", nil, err
	}
	return EvtDroneCommandResponse, map[string]any{
		"command": name,
		"success": true,
	}, nil
}

type droneCommandRequest struct {
	Action     string `json:"action"`
	Parameters struct {
		Distance int `json:"distance"`
		Degrees  int `json:"degrees"`
	} `json:"parameters"`
}

// handleDroneCommand acknowledges the command before executing it: movement
// takes seconds and the client needs to know the command was accepted, not
// completed. Execution failures come back later as error events.
func (s *Server) handleDroneCommand(c *client, data json.RawMessage) (string, any, error) {
	if err := s.requireConnected(); err != nil {
		return "", nil, err
	}
	var req droneCommandRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", nil, fault.New(fault.CodeMessageFormat, "malformed drone_command payload").WithCause(err)
		}
	}
	if req.Action == "" {
		return "", nil, fault.New(fault.CodeMissingData, "drone_command requires an action")
	}

	// Telemetry reads answer synchronously; the response carries the value.
	if req.Action == "get_battery" {
		battery, err := s.deps.Driver.Battery()
		if err != nil {
			return "", nil, err
		}
		return EvtDroneCommandResponse, map[string]any{
			"command": req.Action,
			"success": true,
			"battery": battery,
		}, nil
	}

	distance := req.Parameters.Distance
	if distance == 0 {
		distance = 50
	}
	degrees := req.Parameters.Degrees
	if degrees == 0 {
		degrees = 90
	}

	var run func() error
	switch req.Action {
	case "move_forward":
		run = func() error { return s.deps.Driver.MoveForward(distance) }
	case "move_back":
		run = func() error { return s.deps.Driver.MoveBack(distance) }
	case "move_left":
		run = func() error { return s.deps.Driver.MoveLeft(distance) }
	case "move_right":
		run = func() error { return s.deps.Driver.MoveRight(distance) }
	case "move_up":
		run = func() error { return s.deps.Driver.MoveUp(distance) }
	case "move_down":
		run = func() error { return s.deps.Driver.MoveDown(distance) }
	case "rotate_clockwise":
		run = func() error { return s.deps.Driver.RotateClockwise(degrees) }
	case "rotate_counter_clockwise":
		run = func() error { return s.deps.Driver.RotateCounterClockwise(degrees) }
	case "emergency":
		run = func() error { return s.deps.Driver.Emergency() }
	default:
		return "", nil, fault.New(fault.CodeInvalidParam,
			fmt.Sprintf("unknown drone_command action %q", req.Action))
	}

	action := req.Action
	go func() {
		start := time.Now()
		err := run()
		metrics.RecordDroneCommand(action, time.Since(start), err)
		if err != nil {
			logging.Op("control.command").Error("drone command failed",
				"action", action, "error", err)
			c.enqueue(errorFrame(CmdDroneCommand, err))
		}
	}()

	return EvtDroneCommandResponse, map[string]any{
		"command": action,
		"success": true,
		"message": "command accepted",
	}, nil
}

type manualControlRequest struct {
	LR  int `json:"lr"`
	FB  int `json:"fb"`
	UD  int `json:"ud"`
	Yaw int `json:"yaw"`
}

func (s *Server) handleManualControl(data json.RawMessage) (string, any, error) {
	if err := s.requireConnected(); err != nil {
		return "", nil, err
	}
	var req manualControlRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", nil, fault.New(fault.CodeMessageFormat, "malformed manual_control payload").WithCause(err)
		}
	}
	if err := s.deps.Driver.SendRCControl(req.LR, req.FB, req.UD, req.Yaw); err != nil {
		return "", nil, err
	}
	return EvtDroneCommandResponse, map[string]any{
		"command": "manual_control",
		"success": true,
	}, nil
}

func (s *Server) handleVideo(on bool) (string, any, error) {
	if err := s.requireConnected(); err != nil {
		return "", nil, err
	}
	var err error
	if on {
		err = s.deps.Driver.StreamOn()
	} else {
		err = s.deps.Driver.StreamOff()
	}
	if err != nil {
		return "", nil, err
	}
	s.setVideo(on)
	metrics.SetVideoStreaming(on)
	return EvtStatusUpdate, map[string]any{
		"video_streaming": on,
	}, nil
}

// handleDetectionToggle applies one toggle and tells everyone: the issuer
// gets the direct response, every other client learns via broadcast.
func (s *Server) handleDetectionToggle(apply func()) (string, any, error) {
	if s.deps.Pipeline == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "detection pipeline not available")
	}
	apply()
	status := s.detectionStatusPayload()
	s.Broadcast(EvtDetectionStatus, status)
	return EvtDetectionStatus, status, nil
}

func (s *Server) detectionStatusPayload() map[string]any {
	object, markers := s.deps.Pipeline.DetectionStatus()
	return map[string]any{
		"object_detection": object,
		"marker_detection": markers,
	}
}

// handleDiagnosisToggle enables or disables the workflow. Enabling also
// turns marker detection on: a diagnosis with nothing watching for markers
// never fires.
func (s *Server) handleDiagnosisToggle(on bool) (string, any, error) {
	if s.deps.Workflow == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "diagnosis workflow not available")
	}
	if on {
		s.deps.Workflow.Enable()
		if s.deps.Pipeline != nil {
			s.deps.Pipeline.EnableMarkerDetection(true)
		}
	} else {
		s.deps.Workflow.Disable()
	}
	state, _ := s.deps.Workflow.ConfigStatus()
	return EvtStatusUpdate, map[string]any{
		"diagnosis_enabled": on,
		"config_state":      state,
	}, nil
}

func (s *Server) handleSetMarkerCooldown(data json.RawMessage) (string, any, error) {
	if s.deps.Marker == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "marker detector not available")
	}
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, fault.New(fault.CodeMessageFormat, "malformed set_marker_cooldown payload").WithCause(err)
	}
	if req.Seconds < 0 {
		return "", nil, fault.New(fault.CodeInvalidParam, "cooldown must be >= 0 seconds")
	}
	s.deps.Marker.SetCooldown(time.Duration(req.Seconds * float64(time.Second)))
	return EvtCooldownUpdated, map[string]any{
		"cooldown_seconds": req.Seconds,
	}, nil
}

func (s *Server) handleMarkerCooldownStatus() (string, any, error) {
	if s.deps.Marker == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "marker detector not available")
	}
	return EvtCooldownStatus, s.deps.Marker.Status(), nil
}

func (s *Server) handleClearMarkerCooldowns() (string, any, error) {
	if s.deps.Marker == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "marker detector not available")
	}
	s.deps.Marker.ClearCooldowns()
	return EvtCooldownsCleared, map[string]any{
		"cleared": true,
	}, nil
}

func (s *Server) handleSetAIConfig(data json.RawMessage) (string, any, error) {
	if s.deps.Workflow == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "diagnosis workflow not available")
	}
	var cfg vlm.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", nil, fault.New(fault.CodeMessageFormat, "malformed set_ai_config payload").WithCause(err)
	}
	if err := s.deps.Workflow.SetAIConfig(cfg); err != nil {
		return "", nil, err
	}
	state, applied := s.deps.Workflow.ConfigStatus()
	return EvtAIConfigUpdated, map[string]any{
		"state":  state,
		"config": applied,
	}, nil
}

func (s *Server) handleAIConfigStatus() (string, any, error) {
	if s.deps.Workflow == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "diagnosis workflow not available")
	}
	state, cfg := s.deps.Workflow.ConfigStatus()
	return EvtAIConfigStatus, map[string]any{
		"state":  state,
		"config": cfg,
	}, nil
}

func (s *Server) handleStatusStatistics() (string, any, error) {
	if s.deps.Status == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "status cache not available")
	}
	return EvtStatusStatistics, s.deps.Status.Statistics(), nil
}

type cruiseStartRequest struct {
	Rounds       int     `json:"rounds"`
	Height       int     `json:"height"`
	StayDuration float64 `json:"stayDuration"`
}

func (s *Server) handleCruiseStart(data json.RawMessage) (string, any, error) {
	if s.deps.Mission == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "mission controller not available")
	}
	if err := s.requireConnected(); err != nil {
		return "", nil, err
	}
	var req cruiseStartRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", nil, fault.New(fault.CodeMessageFormat, "malformed challenge_cruise_start payload").WithCause(err)
		}
	}
	params := mission.DefaultParams()
	if req.Rounds > 0 {
		params.Rounds = req.Rounds
	}
	if req.Height > 0 {
		params.HeightCm = req.Height
	}
	if req.StayDuration > 0 {
		params.DwellSeconds = req.StayDuration
	}
	params = params.Normalize()
	if err := s.deps.Mission.Start(context.Background(), params); err != nil {
		return "", nil, err
	}
	return EvtMissionStatus, map[string]any{
		"phase":   s.deps.Mission.Phase(),
		"message": "cruise started",
		"params":  params,
	}, nil
}

// handleCruiseStop cancels the mission and shuts the detectors off with it:
// a stopped cruise leaves nothing worth scanning for.
func (s *Server) handleCruiseStop() (string, any, error) {
	if s.deps.Mission == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "mission controller not available")
	}
	s.deps.Mission.Stop()

	resp := map[string]any{
		"phase":   s.deps.Mission.Phase(),
		"message": "cruise stop requested",
	}
	if s.deps.Pipeline != nil {
		s.deps.Pipeline.EnableObjectDetection(false)
		s.deps.Pipeline.EnableMarkerDetection(false)
		status := s.detectionStatusPayload()
		s.Broadcast(EvtDetectionStatus, status)
		resp["object_detection"] = false
		resp["marker_detection"] = false
	}
	return EvtMissionStatus, resp, nil
}

func (s *Server) handleListModels() (string, any, error) {
	if s.deps.Models == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "model registry not available")
	}
	return EvtModelList, map[string]any{
		"models":   s.deps.Models.List(),
		"selected": s.deps.Models.Selected(),
	}, nil
}

type modelIDRequest struct {
	ModelID string `json:"model_id"`
}

func parseModelID(data json.RawMessage) (string, error) {
	var req modelIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fault.New(fault.CodeMessageFormat, "malformed model payload").WithCause(err)
	}
	if req.ModelID == "" {
		return "", fault.New(fault.CodeMissingData, "model_id is required")
	}
	return req.ModelID, nil
}

func (s *Server) handleModelInfo(data json.RawMessage) (string, any, error) {
	if s.deps.Models == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "model registry not available")
	}
	id, err := parseModelID(data)
	if err != nil {
		return "", nil, err
	}
	info, err := s.deps.Models.Get(id)
	if err != nil {
		return "", nil, err
	}
	return EvtModelInfo, info, nil
}

func (s *Server) handleDeleteModel(data json.RawMessage) (string, any, error) {
	if s.deps.Models == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "model registry not available")
	}
	id, err := parseModelID(data)
	if err != nil {
		return "", nil, err
	}
	if err := s.deps.Models.Delete(id); err != nil {
		return "", nil, err
	}
	return EvtModelList, map[string]any{
		"models":   s.deps.Models.List(),
		"selected": s.deps.Models.Selected(),
	}, nil
}

func (s *Server) handleSelectModel(data json.RawMessage) (string, any, error) {
	if s.deps.Models == nil {
		return "", nil, fault.New(fault.CodeLibNotAvailable, "model registry not available")
	}
	id, err := parseModelID(data)
	if err != nil {
		return "", nil, err
	}
	if err := s.deps.Models.Select(id); err != nil {
		return "", nil, err
	}
	return EvtModelList, map[string]any{
		"models":   s.deps.Models.List(),
		"selected": s.deps.Models.Selected(),
	}, nil
}
