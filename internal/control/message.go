// Package control is the WebSocket control plane: one JSON-framed message
// channel per client, commands demultiplexed to handlers, events broadcast
// to every connected client.
package control

import (
	"encoding/json"
	"time"
)

// Message is the wire frame, both directions.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Inbound command types.
const (
	CmdConnectDrone         = "connect_drone"
	CmdDisconnectDrone      = "disconnect_drone"
	CmdDroneTakeoff         = "drone_takeoff"
	CmdDroneLand            = "drone_land"
	CmdDroneCommand         = "drone_command"
	CmdManualControl        = "manual_control"
	CmdStartVideo           = "start_video"
	CmdStopVideo            = "stop_video"
	CmdStartObjectDetection = "start_object_detection"
	CmdStopObjectDetection  = "stop_object_detection"
	CmdStartMarkerDetection = "start_marker_detection"
	CmdStopMarkerDetection  = "stop_marker_detection"
	CmdStartDiagnosis       = "start_diagnosis_workflow"
	CmdStopDiagnosis        = "stop_diagnosis_workflow"
	CmdSetMarkerCooldown    = "set_marker_cooldown"
	CmdMarkerCooldownStatus = "get_marker_cooldown_status"
	CmdClearMarkerCooldowns = "clear_marker_cooldowns"
	CmdSetAIConfig          = "set_ai_config"
	CmdAIConfigStatus       = "get_ai_config_status"
	CmdStatusStatistics     = "get_status_statistics"
	CmdCruiseStart          = "challenge_cruise_start"
	CmdCruiseStop           = "challenge_cruise_stop"
	CmdListModels           = "list_models"
	CmdGetModelInfo         = "get_model_info"
	CmdDeleteModel          = "delete_model"
	CmdSelectModel          = "select_model"
)

// Outbound event types.
const (
	EvtConnectionEstablished = "connection_established"
	EvtStatusUpdate          = "status_update"
	EvtDroneStatus           = "drone_status"
	EvtDetectionStatus       = "detection_status"
	EvtVideoFrame            = "video_frame"
	EvtObjectSummary         = "object_summary"
	EvtMarkerDetected        = "marker_detected"
	EvtMarkerPlantDetected   = "marker_plant_detected"
	EvtDiagnosisStarted      = "diagnosis_started"
	EvtDiagnosisProgress     = "diagnosis_progress"
	EvtDiagnosisComplete     = "diagnosis_complete"
	EvtDiagnosisError        = "diagnosis_error"
	EvtDiagnosisCooldown     = "diagnosis_cooldown"
	EvtDiagnosisConfigError  = "diagnosis_config_error"
	EvtMissionStatus         = "mission_status"
	EvtMissionPosition       = "mission_position"
	EvtAIConfigUpdated       = "ai_config_updated"
	EvtAIConfigStatus        = "ai_config_status"
	EvtCooldownUpdated       = "marker_cooldown_updated"
	EvtCooldownStatus        = "marker_cooldown_status"
	EvtCooldownsCleared      = "marker_cooldowns_cleared"
	EvtStatusStatistics      = "status_statistics"
	EvtDroneCommandResponse  = "drone_command_response"
	EvtModelList             = "model_list"
	EvtModelInfo             = "model_info"
	EvtError                 = "error"
)

// High-rate event types carry no timestamp, matching the wire contract
// clients already parse.
var untimestamped = map[string]bool{
	EvtDroneStatus: true,
	EvtVideoFrame:  true,
}

// encodeEvent builds one outbound frame. Marshal failures return nil and
// are dropped by the caller; the payloads here are all marshal-safe types.
func encodeEvent(eventType string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	msg := Message{Type: eventType, Data: raw}
	if !untimestamped[eventType] {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return out
}
