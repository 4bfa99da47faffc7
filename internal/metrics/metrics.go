package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoldenTiger720/secondkeeper/pkg/monitoring"
)

// Metrics holds the Prometheus metrics for camera viewers. A nil *Metrics is
// valid and records nothing, so library users and tests can skip it.
type Metrics struct {
	ActiveViewers      prometheus.Gauge
	ConnectionState    *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MalformedMessages  *prometheus.CounterVec
	FramesRendered     *prometheus.CounterVec
	FrameDecodeErrors  *prometheus.CounterVec
	StaleFrames        *prometheus.CounterVec
	Detections         *prometheus.CounterVec
	ReconnectsSched    *prometheus.CounterVec
	ReconnectsExhaust  *prometheus.CounterVec
	SessionRequests    *prometheus.CounterVec
	MetricsPollResults *prometheus.CounterVec
}

// New registers viewer metrics on the collector's registry.
func New(mc *monitoring.MetricsCollector) *Metrics {
	active := mc.NewGauge("active_viewers", "Mounted camera viewers", nil)
	return &Metrics{
		ActiveViewers:      active.WithLabelValues(),
		ConnectionState:    mc.NewGauge("viewer_connection_state", "1 for the current connection state of each viewer", []string{"camera_id", "state"}),
		MessagesReceived:   mc.NewCounter("control_messages_total", "Control channel messages received by type", []string{"type"}),
		MalformedMessages:  mc.NewCounter("control_messages_malformed_total", "Control channel messages that failed to decode", []string{"encoding"}),
		FramesRendered:     mc.NewCounter("frames_rendered_total", "Frames painted to a viewer surface", []string{"camera_id"}),
		FrameDecodeErrors:  mc.NewCounter("frame_decode_errors_total", "Frames dropped because the JPEG payload did not decode", []string{"camera_id"}),
		StaleFrames:        mc.NewCounter("frames_stale_total", "Decoded frames discarded because a newer frame was already painted", []string{"camera_id"}),
		Detections:         mc.NewCounter("detections_total", "Detection results received by type", []string{"type"}),
		ReconnectsSched:    mc.NewCounter("reconnects_scheduled_total", "Reconnect attempts scheduled after abnormal closure", []string{"camera_id"}),
		ReconnectsExhaust:  mc.NewCounter("reconnects_exhausted_total", "Reconnect episodes that hit the attempt limit", []string{"camera_id"}),
		SessionRequests:    mc.NewCounter("session_requests_total", "Stream session requests by outcome", []string{"outcome"}),
		MetricsPollResults: mc.NewCounter("metrics_polls_total", "Stream status polls by outcome", []string{"outcome"}),
	}
}

var states = []string{"disconnected", "connecting", "connected", "error"}

func (m *Metrics) SetConnectionState(cameraID, state string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(cameraID, s).Set(v)
	}
}

func (m *Metrics) ForgetCamera(cameraID string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.ConnectionState.DeleteLabelValues(cameraID, s)
	}
	m.FramesRendered.DeleteLabelValues(cameraID)
	m.FrameDecodeErrors.DeleteLabelValues(cameraID)
	m.StaleFrames.DeleteLabelValues(cameraID)
	m.ReconnectsSched.DeleteLabelValues(cameraID)
	m.ReconnectsExhaust.DeleteLabelValues(cameraID)
}

func (m *Metrics) ViewerMounted() {
	if m != nil {
		m.ActiveViewers.Inc()
	}
}

func (m *Metrics) ViewerUnmounted() {
	if m != nil {
		m.ActiveViewers.Dec()
	}
}

func (m *Metrics) MessageReceived(msgType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) MessageMalformed(encoding string) {
	if m != nil {
		m.MalformedMessages.WithLabelValues(encoding).Inc()
	}
}

func (m *Metrics) FramePainted(cameraID string) {
	if m != nil {
		m.FramesRendered.WithLabelValues(cameraID).Inc()
	}
}

func (m *Metrics) FrameDecodeFailed(cameraID string) {
	if m != nil {
		m.FrameDecodeErrors.WithLabelValues(cameraID).Inc()
	}
}

func (m *Metrics) FrameStale(cameraID string) {
	if m != nil {
		m.StaleFrames.WithLabelValues(cameraID).Inc()
	}
}

func (m *Metrics) DetectionReceived(detectionType string) {
	if m != nil {
		m.Detections.WithLabelValues(detectionType).Inc()
	}
}

func (m *Metrics) ReconnectScheduled(cameraID string) {
	if m != nil {
		m.ReconnectsSched.WithLabelValues(cameraID).Inc()
	}
}

func (m *Metrics) ReconnectExhausted(cameraID string) {
	if m != nil {
		m.ReconnectsExhaust.WithLabelValues(cameraID).Inc()
	}
}

// SessionRequest records a stream session request outcome: ok, rejected, network.
func (m *Metrics) SessionRequest(outcome string) {
	if m != nil {
		m.SessionRequests.WithLabelValues(outcome).Inc()
	}
}

// MetricsPoll records a stream status poll outcome: ok, empty, error.
func (m *Metrics) MetricsPoll(outcome string) {
	if m != nil {
		m.MetricsPollResults.WithLabelValues(outcome).Inc()
	}
}
