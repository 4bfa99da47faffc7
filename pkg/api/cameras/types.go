package cameras

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Quality is the requested stream quality
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Valid reports whether q is one of the qualities the relay accepts
func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Control channel message types
const (
	TypeConnectionEstablished = "connection_established"
	TypeStreamStarted         = "stream_started"
	TypeStreamStopped         = "stream_stopped"
	TypeFrame                 = "frame"
	TypeVideoFrame            = "video_frame"
	TypeDetectionResult       = "detection_result"
	TypeAlert                 = "alert"
	TypeQualityChanged        = "quality_changed"
	TypeError                 = "error"
	TypePong                  = "pong"

	TypeStartStream   = "start_stream"
	TypeStopStream    = "stop_stream"
	TypeChangeQuality = "change_quality"
	TypePing          = "ping"
)

// FlexibleID accepts both numeric and string identifiers on the wire.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id *FlexibleID) UnmarshalCBOR(data []byte) error {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*id = ""
	case string:
		*id = FlexibleID(t)
	case uint64:
		*id = FlexibleID(strconv.FormatUint(t, 10))
	case int64:
		*id = FlexibleID(strconv.FormatInt(t, 10))
	case float64:
		*id = FlexibleID(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return fmt.Errorf("invalid id type %T", v)
	}
	return nil
}

// CameraInfo describes the camera a stream session belongs to
type CameraInfo struct {
	ID               FlexibleID `json:"id"`
	Name             string     `json:"name"`
	Location         string     `json:"location,omitempty"`
	DetectionEnabled bool       `json:"detection_enabled"`
}

// StreamData is the session descriptor returned when a stream is requested
type StreamData struct {
	SessionID    string     `json:"session_id"`
	GroupName    string     `json:"group_name"`
	StreamType   string     `json:"stream_type"`
	WebsocketURL string     `json:"websocket_url"`
	CameraInfo   CameraInfo `json:"camera_info"`
}

// StreamResponse is the body of GET /cameras/{id}/stream/
type StreamResponse struct {
	Success bool        `json:"success"`
	Data    *StreamData `json:"data,omitempty"`
	Message string      `json:"message"`
	Errors  []string    `json:"errors"`
}

// StreamMetrics is the server-side view of a running stream
type StreamMetrics struct {
	FPS            float64 `json:"fps"`
	FrameCount     int64   `json:"frame_count"`
	DetectionCount int64   `json:"detection_count"`
	Uptime         float64 `json:"uptime"`
}

// StreamStatusResponse is the body of GET /cameras/{id}/stream_status/
type StreamStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Metrics *StreamMetrics `json:"metrics"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// Detection is a single classifier hit reported by the relay
type Detection struct {
	Type       string     `json:"type"`
	Confidence float64    `json:"confidence"`
	Timestamp  float64    `json:"timestamp"`
	CameraID   FlexibleID `json:"camera_id"`
}

// FrameMetadata travels alongside a frame payload
type FrameMetadata struct {
	FrameCount     int64       `json:"frame_count"`
	DetectionCount int64       `json:"detection_count"`
	Timestamp      float64     `json:"timestamp"`
	Detections     []Detection `json:"detections,omitempty"`
}

// Alert is a server-raised security alert
type Alert struct {
	ID       FlexibleID `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Message  string     `json:"message,omitempty"`
	Severity string     `json:"severity,omitempty"`
}

// ControlMessage is sent from the viewer to the relay
type ControlMessage struct {
	Type    string  `json:"type"`
	Quality Quality `json:"quality,omitempty"`
}
