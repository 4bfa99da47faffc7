package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/GoldenTiger720/secondkeeper/internal/metrics"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	camclient "github.com/GoldenTiger720/secondkeeper/pkg/clients/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
)

// ErrStartCancelled is returned by Start when Stop, Dispose or a newer Start
// ran while the session request was in flight.
var ErrStartCancelled = errors.New("stream start cancelled")

const maxMessageSize = 16 << 20

// StreamAPI is the part of the camera API a viewer talks to.
type StreamAPI interface {
	GetStream(ctx context.Context, cameraID string) (*cameras.StreamResponse, error)
	StopStream(ctx context.Context, cameraID string) error
	StreamStatus(ctx context.Context, cameraID string) (*cameras.StreamStatusResponse, error)
}

// Config configures one viewer. Zero durations take the defaults below.
type Config struct {
	CameraID   string
	APIBaseURL string
	Quality    cameras.Quality

	// SkipStartOnOpen suppresses the start_stream command sent on every open.
	SkipStartOnOpen bool

	Backoff             Backoff
	PingInterval        time.Duration // default 30s
	LivenessTimeout     time.Duration // default 2.5x PingInterval
	MetricsPollInterval time.Duration // default 3s
	HandshakeTimeout    time.Duration // default 30s
	StopTimeout         time.Duration // bound on the backend stop call, default 10s

	// Header is sent with the websocket handshake.
	Header http.Header

	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Notifier Notifier
	Renderer FrameRenderer
	Clock    Clock
	Dialer   *websocket.Dialer

	OnStateChange     func(cameraID string, state ConnectionState, message string)
	OnStreamingChange func(cameraID string, streaming bool)
}

func (c *Config) applyDefaults() {
	if c.Quality == "" {
		c.Quality = cameras.QualityMedium
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = c.PingInterval * 5 / 2
	}
	if c.MetricsPollInterval <= 0 {
		c.MetricsPollInterval = 3 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewDiscardLogger()
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	c.Backoff = c.Backoff.normalized()
}

// StreamSession is the backend stream session a viewer is attached to.
type StreamSession struct {
	SessionID        string             `json:"session_id"`
	CameraID         string             `json:"camera_id"`
	SocketEndpoint   string             `json:"socket_endpoint"`
	Quality          cameras.Quality    `json:"quality"`
	DetectionEnabled bool               `json:"detection_enabled"`
	GroupName        string             `json:"group_name"`
	StreamType       string             `json:"stream_type"`
	Camera           cameras.CameraInfo `json:"camera"`
	StartedAt        time.Time          `json:"started_at"`
}

// Snapshot is a read-only copy of a viewer's state.
type Snapshot struct {
	ViewerID             string                 `json:"viewer_id"`
	CameraID             string                 `json:"camera_id"`
	State                ConnectionState        `json:"state"`
	Error                string                 `json:"error,omitempty"`
	Streaming            bool                   `json:"streaming"`
	Quality              cameras.Quality        `json:"quality"`
	Session              *StreamSession         `json:"session,omitempty"`
	Reconnect            ReconnectPhase         `json:"reconnect"`
	ReconnectAttempt     int                    `json:"reconnect_attempt"`
	MaxReconnectAttempts int                    `json:"max_reconnect_attempts"`
	Metrics              *cameras.StreamMetrics `json:"metrics,omitempty"`
	Detections           []cameras.Detection    `json:"detections"`
	Frames               FrameStats             `json:"frames"`
	LastMetadata         *cameras.FrameMetadata `json:"last_metadata,omitempty"`
	Disposed             bool                   `json:"disposed"`
}

// Viewer owns everything one mounted camera view needs: the session, the
// socket, the reconnect timer, the metrics poller and the ping loop. All
// callbacks re-check the socket generation under mu and are dropped when
// they belong to a socket or session that is no longer current.
type Viewer struct {
	id       string
	cfg      Config
	api      StreamAPI
	log      *logrus.Entry
	dialer   *websocket.Dialer
	renderer FrameRenderer
	agg      *Aggregator

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         ConnectionState
	lastError     string
	streaming     bool
	quality       cameras.Quality
	session       *StreamSession
	disposed      bool
	gen           uint64
	sock          *socket
	reconnect     *reconnector
	sessionSeq    uint64
	pendingStart  uint64
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
}

// New builds a viewer for cfg.CameraID. Nothing connects until Start.
func New(api StreamAPI, cfg Config) (*Viewer, error) {
	if api == nil {
		return nil, errors.New("viewer: stream api is required")
	}
	cfg.CameraID = strings.TrimSpace(cfg.CameraID)
	if cfg.CameraID == "" {
		return nil, errors.New("viewer: camera id is required")
	}
	cfg.applyDefaults()
	if !cfg.Quality.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuality, cfg.Quality)
	}

	v := &Viewer{
		id:        uuid.NewString(),
		cfg:       cfg,
		api:       api,
		agg:       NewAggregator(),
		quality:   cfg.Quality,
		reconnect: newReconnector(cfg.Backoff),
	}
	v.log = cfg.Logger.WithFields(logging.Fields{
		"camera_id": cfg.CameraID,
		"viewer_id": v.id,
	})
	v.ctx, v.cancel = context.WithCancel(context.Background())

	v.dialer = cfg.Dialer
	if v.dialer == nil {
		v.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	v.renderer = cfg.Renderer
	if v.renderer == nil {
		v.renderer = NewRenderer(RendererOptions{
			OnPaint: func(info FrameInfo) {
				v.cfg.Metrics.FramePainted(v.cfg.CameraID)
				v.agg.SetResolution(info.Width, info.Height)
			},
			OnDecodeError: func(seq uint64, err error) {
				v.log.WithError(err).WithField("seq", seq).Warn("Dropping undecodable frame")
				v.cfg.Metrics.FrameDecodeFailed(v.cfg.CameraID)
			},
			OnStale: func(seq uint64) {
				v.cfg.Metrics.FrameStale(v.cfg.CameraID)
			},
		})
	}

	cfg.Metrics.ViewerMounted()
	cfg.Metrics.SetConnectionState(cfg.CameraID, StateDisconnected.String())
	return v, nil
}

func (v *Viewer) ID() string       { return v.id }
func (v *Viewer) CameraID() string { return v.cfg.CameraID }

// Renderer exposes the drawing surface.
func (v *Viewer) Renderer() FrameRenderer { return v.renderer }

// Start requests a stream session and opens the control socket. It returns
// once the session exists; the socket connects in the background. Calling
// Start on a viewer that is already connecting or connected returns the
// current session.
func (v *Viewer) Start(ctx context.Context) (StreamSession, error) {
	var ev events

	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return StreamSession{}, ErrDisposed
	}
	if v.session != nil && (v.state == StateConnecting || v.state == StateConnected) {
		s := *v.session
		v.mu.Unlock()
		return s, nil
	}
	old := v.teardownLocked(&ev)
	v.sessionSeq++
	seq := v.sessionSeq
	v.pendingStart = seq
	v.mu.Unlock()

	if old != nil {
		old.closeNormal("Restarting stream")
	}
	v.emit(ev)
	ev = events{}

	resp, err := v.api.GetStream(ctx, v.cfg.CameraID)
	serr := classifyStart(resp, err)
	var wsURL string
	if serr == nil {
		wsURL, err = camclient.ResolveWebsocketURL(v.cfg.APIBaseURL, resp.Data.WebsocketURL)
		if err != nil {
			serr = &SessionError{Kind: KindRejected, Message: "Invalid stream endpoint.", Err: err}
		}
	}

	v.mu.Lock()
	if v.disposed || seq != v.sessionSeq || v.pendingStart != seq {
		orphaned := serr == nil && (v.disposed || v.pendingStart == 0)
		v.mu.Unlock()
		if orphaned {
			v.notifyBackendStop()
		}
		return StreamSession{}, ErrStartCancelled
	}
	v.pendingStart = 0

	if serr != nil {
		v.setStateLocked(&ev, StateError, serr.Message)
		v.mu.Unlock()
		v.cfg.Metrics.SessionRequest(serr.Kind.String())
		v.log.WithError(serr).Warn("Stream session request failed")
		v.emit(ev)
		return StreamSession{}, serr
	}

	data := resp.Data
	session := StreamSession{
		SessionID:        data.SessionID,
		CameraID:         v.cfg.CameraID,
		SocketEndpoint:   wsURL,
		Quality:          v.quality,
		DetectionEnabled: data.CameraInfo.DetectionEnabled,
		GroupName:        data.GroupName,
		StreamType:       data.StreamType,
		Camera:           data.CameraInfo,
		StartedAt:        v.cfg.Clock.Now(),
	}
	v.session = &session
	v.lastError = ""
	v.reconnect.clear()
	v.sessionCtx, v.sessionCancel = context.WithCancel(v.ctx)
	sessionCtx := v.sessionCtx
	v.setStateLocked(&ev, StateConnecting, "")
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	v.cfg.Metrics.SessionRequest("ok")
	v.log.WithFields(logging.Fields{
		"session_id":  session.SessionID,
		"stream_type": session.StreamType,
		"endpoint":    wsURL,
	}).Info("Stream session started")
	v.emit(ev)

	go v.pollMetrics(sessionCtx, seq)
	go v.dial(sessionCtx, gen, wsURL)
	return session, nil
}

func classifyStart(resp *cameras.StreamResponse, err error) *SessionError {
	if err != nil {
		var apiErr *camclient.APIError
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" && len(apiErr.Errors) > 0 {
				msg = strings.Join(apiErr.Errors, ", ")
			}
			if msg == "" {
				msg = msgServerConnectionFailed
			}
			return &SessionError{Kind: KindRejected, Message: msg, StatusCode: apiErr.StatusCode, Err: err}
		}
		return &SessionError{Kind: KindNetwork, Message: msgServerConnectionFailed, Err: err}
	}
	if resp == nil || !resp.Success || resp.Data == nil {
		msg := ""
		if resp != nil {
			msg = strings.Join(resp.Errors, ", ")
			if msg == "" {
				msg = resp.Message
			}
		}
		if msg == "" {
			msg = msgFailedToStart
		}
		return &SessionError{Kind: KindRejected, Message: msg}
	}
	return nil
}

// Stop ends the session: stop_stream on the socket, close 1000, timers and
// poller cancelled, backend notified, detections and metrics cleared. It is
// a no-op without a session.
func (v *Viewer) Stop(ctx context.Context) error {
	var ev events

	v.mu.Lock()
	v.pendingStart = 0
	if v.session == nil {
		v.mu.Unlock()
		return nil
	}
	sock := v.teardownLocked(&ev)
	v.sessionSeq++
	v.mu.Unlock()

	if sock != nil {
		if err := sock.writeJSON(stopStreamCommand); err != nil {
			v.log.WithError(err).Debug("Could not send stop_stream")
		}
		sock.closeNormal("Stream stopped by user")
	}
	v.emit(ev)

	stopCtx, cancel := context.WithTimeout(ctx, v.cfg.StopTimeout)
	defer cancel()
	if err := v.api.StopStream(stopCtx, v.cfg.CameraID); err != nil {
		v.log.WithError(err).Warn("Backend stop_stream notification failed")
	}
	v.log.Info("Stream stopped")
	return nil
}

func (v *Viewer) notifyBackendStop() {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.StopTimeout)
	defer cancel()
	if err := v.api.StopStream(ctx, v.cfg.CameraID); err != nil {
		v.log.WithError(err).Warn("Backend stop_stream notification failed")
	}
}

// teardownLocked releases the socket, timer and poller and clears the session.
// The returned socket, if any, must be closed by the caller after unlocking.
func (v *Viewer) teardownLocked(ev *events) *socket {
	sock := v.sock
	v.sock = nil
	v.gen++
	v.reconnect.clear()
	v.releaseSessionCtxLocked()
	v.session = nil
	v.setStreamingLocked(ev, false)
	v.setStateLocked(ev, StateDisconnected, "")
	v.lastError = ""
	v.renderer.Clear()
	v.agg.Reset()
	return sock
}

// releaseSessionCtxLocked stops the poller and any dial still running for the
// current session.
func (v *Viewer) releaseSessionCtxLocked() {
	if v.sessionCancel != nil {
		v.sessionCancel()
		v.sessionCancel = nil
		v.sessionCtx = nil
	}
}

// Dispose stops the viewer and marks it unmounted. Later calls and callbacks do nothing.
func (v *Viewer) Dispose() {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.disposed = true
	v.mu.Unlock()

	_ = v.Stop(context.Background())
	v.cancel()
	v.renderer.Close()
	v.cfg.Metrics.ViewerUnmounted()
	v.cfg.Metrics.ForgetCamera(v.cfg.CameraID)
	v.log.Debug("Viewer disposed")
}

// ChangeQuality records q and sends change_quality when the socket is open.
// With a session whose socket is down it returns ErrNotConnected; the
// recorded quality is still used by the next start_stream.
func (v *Viewer) ChangeQuality(q cameras.Quality) error {
	if !q.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidQuality, q)
	}
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return ErrDisposed
	}
	v.quality = q
	hasSession := v.session != nil
	if hasSession {
		v.session.Quality = q
	}
	sock := v.sock
	v.mu.Unlock()

	if sock == nil {
		if hasSession {
			return ErrNotConnected
		}
		return nil
	}
	if err := sock.writeJSON(changeQualityCommand(q)); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("send change_quality: %w", err)
	}
	return nil
}

// State returns a snapshot of the viewer.
func (v *Viewer) State() Snapshot {
	v.mu.Lock()
	s := Snapshot{
		ViewerID:             v.id,
		CameraID:             v.cfg.CameraID,
		State:                v.state,
		Error:                v.lastError,
		Streaming:            v.streaming,
		Quality:              v.quality,
		Reconnect:            v.reconnect.phase,
		ReconnectAttempt:     v.reconnect.attempt,
		MaxReconnectAttempts: v.reconnect.backoff.MaxAttempts,
		Disposed:             v.disposed,
	}
	if v.session != nil {
		cp := *v.session
		s.Session = &cp
	}
	v.mu.Unlock()

	if m, ok := v.agg.Metrics(); ok {
		s.Metrics = &m
	}
	s.Detections = v.agg.Detections()
	s.Frames = v.agg.FrameStats()
	s.LastMetadata = v.agg.LastMetadata()
	return s
}

// Detections returns the recent detections, newest first.
func (v *Viewer) Detections() []cameras.Detection {
	return v.agg.Detections()
}

func (v *Viewer) dial(ctx context.Context, gen uint64, url string) {
	conn, err := dialSocket(ctx, v.dialer, url, v.cfg.Header)

	var ev events
	v.mu.Lock()
	if v.disposed || gen != v.gen {
		v.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		v.log.WithError(err).Warn("WebSocket dial failed")
		v.abnormalCloseLocked(&ev, closeAbnormal, msgSocketError)
		v.mu.Unlock()
		v.emit(ev)
		return
	}

	sock := newSocket(conn, gen)
	v.sock = sock
	v.reconnect.reset()
	v.setStateLocked(&ev, StateConnected, "")
	quality := v.quality
	v.mu.Unlock()

	v.log.WithField("endpoint", url).Info("WebSocket connected")
	v.emit(ev)

	if !v.cfg.SkipStartOnOpen {
		if err := sock.writeJSON(startStreamCommand(quality)); err != nil {
			v.log.WithError(err).Warn("Could not send start_stream")
		}
	}
	go v.pingLoop(sock)
	v.readLoop(sock)
}

func (v *Viewer) readLoop(sock *socket) {
	conn := sock.conn
	conn.SetReadLimit(maxMessageSize)
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(v.cfg.LivenessTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeCode(err)
			v.onSocketClosed(sock, code, reason)
			return
		}
		extend()
		enc := EncodingJSON
		if mt == websocket.BinaryMessage {
			enc = EncodingCBOR
		}
		v.handleMessage(sock, enc, data)
	}
}

func (v *Viewer) pingLoop(sock *socket) {
	ticker := time.NewTicker(v.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sock.done:
			return
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if err := sock.writeJSON(pingCommand); err != nil {
				v.log.WithError(err).Debug("Keepalive ping failed")
				return
			}
		}
	}
}

func (v *Viewer) onSocketClosed(sock *socket, code int, reason string) {
	sock.markDone()
	_ = sock.conn.Close()

	var ev events
	v.mu.Lock()
	if v.sock != sock || sock.gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.sock = nil
	v.setStreamingLocked(&ev, false)

	entry := v.log.WithFields(logging.Fields{"close_code": code, "reason": reason})
	if code == websocket.CloseNormalClosure {
		// The relay ended the session; detections and frame stats stay for display.
		entry.Info("WebSocket closed normally")
		v.releaseSessionCtxLocked()
		v.session = nil
		v.sessionSeq++
		v.setStateLocked(&ev, StateDisconnected, "")
	} else {
		entry.Warn("WebSocket closed abnormally")
		msg := ""
		if code == closeAbnormal {
			msg = msgSocketError
		}
		v.abnormalCloseLocked(&ev, code, msg)
	}
	v.mu.Unlock()
	v.emit(ev)
}

// abnormalCloseLocked hands a failed or dropped socket to the backoff controller.
func (v *Viewer) abnormalCloseLocked(ev *events, code int, msg string) {
	if v.disposed || v.session == nil {
		v.setStateLocked(ev, StateDisconnected, msg)
		return
	}
	delay, ok := v.reconnect.schedule(v.cfg.Clock, v.fireReconnect)
	if !ok {
		v.log.WithField("attempts", v.reconnect.attempt).Error("Reconnect attempts exhausted")
		v.cfg.Metrics.ReconnectExhausted(v.cfg.CameraID)
		// Terminal until the next Start. The session is kept so Stop still
		// releases it on the backend.
		v.releaseSessionCtxLocked()
		v.setStateLocked(ev, StateError, msgConnectionLost)
		return
	}
	v.cfg.Metrics.ReconnectScheduled(v.cfg.CameraID)
	v.log.WithFields(logging.Fields{
		"attempt":    v.reconnect.attempt,
		"delay":      delay.String(),
		"close_code": code,
	}).Info("Reconnect scheduled")
	v.setStateLocked(ev, StateDisconnected, msg)
}

func (v *Viewer) fireReconnect(seq uint64) {
	var ev events
	v.mu.Lock()
	if v.disposed || v.session == nil || v.sessionCtx == nil || !v.reconnect.begin(seq) {
		v.mu.Unlock()
		return
	}
	v.gen++
	gen := v.gen
	url := v.session.SocketEndpoint
	ctx := v.sessionCtx
	attempt, limit := v.reconnect.attempt, v.reconnect.backoff.MaxAttempts
	v.setStateLocked(&ev, StateConnecting, "")
	v.mu.Unlock()

	v.log.Infof("Reconnection attempt %d/%d", attempt, limit)
	v.emit(ev)
	go v.dial(ctx, gen, url)
}

func (v *Viewer) handleMessage(sock *socket, enc Encoding, data []byte) {
	msg, err := DecodeMessage(enc, data)
	if err != nil {
		v.log.WithError(err).WithField("encoding", string(enc)).Warn("Dropping malformed control message")
		v.cfg.Metrics.MessageMalformed(string(enc))
		return
	}
	v.cfg.Metrics.MessageReceived(msg.Type)

	var ev events
	v.mu.Lock()
	if v.disposed || sock.gen != v.gen || v.session == nil {
		v.mu.Unlock()
		return
	}

	switch msg.Type {
	case cameras.TypeConnectionEstablished:
		if msg.SessionID != "" {
			v.session.SessionID = msg.SessionID
		}
		v.log.WithField("session_id", msg.SessionID).Debug("Connection established")

	case cameras.TypeStreamStarted:
		if msg.SessionID != "" {
			v.session.SessionID = msg.SessionID
		}
		v.setStreamingLocked(&ev, true)
		ev.notes = append(ev.notes, Notification{
			Level:       LevelInfo,
			Title:       "Stream Started",
			Description: fmt.Sprintf("Live stream from %s is now active.", v.cameraNameLocked()),
		})

	case cameras.TypeStreamStopped:
		v.setStreamingLocked(&ev, false)

	case cameras.TypeFrame, cameras.TypeVideoFrame:
		// Render only queues the decode; handing it over under the lock orders it
		// before any teardown that clears the surface.
		if f, ok := msg.frame(); ok {
			v.agg.RecordFrame(msg.Metadata, msg.FrameNumber, msg.Timestamp, v.cfg.Clock.Now())
			v.renderer.Render(f)
		}

	case cameras.TypeDetectionResult:
		if msg.Detection != nil {
			v.agg.RecordDetection(*msg.Detection)
			v.cfg.Metrics.DetectionReceived(msg.Detection.Type)
			ev.notes = append(ev.notes, detectionNotification(*msg.Detection))
		}

	case cameras.TypeAlert:
		ev.notes = append(ev.notes, alertNotification(msg.Alert))

	case cameras.TypeQualityChanged:
		if msg.Quality.Valid() {
			v.quality = msg.Quality
			v.session.Quality = msg.Quality
			ev.notes = append(ev.notes, Notification{
				Level:       LevelInfo,
				Title:       "Quality Changed",
				Description: fmt.Sprintf("Stream quality changed to %s.", msg.Quality),
			})
		}

	case cameras.TypeError:
		text := msg.errorText()
		v.setStateLocked(&ev, StateError, text)
		ev.notes = append(ev.notes, Notification{Level: LevelError, Title: "Stream Error", Description: text})

	case cameras.TypePong:

	default:
		v.log.WithField("type", msg.Type).Debug("Ignoring unknown control message")
	}
	v.mu.Unlock()
	v.emit(ev)
}

func (v *Viewer) cameraNameLocked() string {
	if v.session != nil && v.session.Camera.Name != "" {
		return v.session.Camera.Name
	}
	return "camera " + v.cfg.CameraID
}

func (v *Viewer) pollMetrics(ctx context.Context, seq uint64) {
	ticker := time.NewTicker(v.cfg.MetricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			v.pollOnce(ctx, seq)
		}
	}
}

func (v *Viewer) pollOnce(ctx context.Context, seq uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, v.cfg.MetricsPollInterval)
	defer cancel()

	resp, err := v.api.StreamStatus(reqCtx, v.cfg.CameraID)
	if err != nil {
		if ctx.Err() == nil {
			v.log.WithError(err).Debug("Metrics update failed")
			v.cfg.Metrics.MetricsPoll("error")
		}
		return
	}
	if resp == nil || !resp.Success || resp.Data.Metrics == nil {
		v.cfg.Metrics.MetricsPoll("empty")
		return
	}

	v.mu.Lock()
	if !v.disposed && v.session != nil && seq == v.sessionSeq && ctx.Err() == nil {
		v.agg.ReplaceMetrics(*resp.Data.Metrics)
	}
	v.mu.Unlock()
	v.cfg.Metrics.MetricsPoll("ok")
}

type stateEvent struct {
	state   ConnectionState
	message string
}

// events collects hook and notifier calls made under the lock so they can be
// delivered after it is released.
type events struct {
	states    []stateEvent
	streaming []bool
	notes     []Notification
}

func (v *Viewer) setStateLocked(ev *events, to ConnectionState, msg string) {
	from := v.state
	if !CanTransition(from, to) {
		v.log.WithFields(logging.Fields{"from": from.String(), "to": to.String()}).Error("Illegal connection state transition")
		return
	}
	if msg != "" {
		v.lastError = msg
	} else if to == StateConnected || to == StateConnecting {
		v.lastError = ""
	}
	if from == to && msg == "" {
		return
	}
	v.state = to
	v.cfg.Metrics.SetConnectionState(v.cfg.CameraID, to.String())
	ev.states = append(ev.states, stateEvent{state: to, message: msg})
}

func (v *Viewer) setStreamingLocked(ev *events, streaming bool) {
	if v.streaming == streaming {
		return
	}
	v.streaming = streaming
	ev.streaming = append(ev.streaming, streaming)
}

func (v *Viewer) emit(ev events) {
	for _, s := range ev.states {
		if v.cfg.OnStateChange != nil {
			v.cfg.OnStateChange(v.cfg.CameraID, s.state, s.message)
		}
	}
	for _, s := range ev.streaming {
		if v.cfg.OnStreamingChange != nil {
			v.cfg.OnStreamingChange(v.cfg.CameraID, s)
		}
	}
	if v.cfg.Notifier == nil || len(ev.notes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := v.cfg.Clock.Now()
	for _, n := range ev.notes {
		n.ViewerID = v.id
		n.CameraID = v.cfg.CameraID
		n.At = now
		v.cfg.Notifier.Notify(ctx, n)
	}
}
