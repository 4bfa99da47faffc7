package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
)

// MockStreamRelay is an in-process camera stream relay for tests. Every
// accepted socket is exposed as a MockRelayConn so tests can push control
// messages and frames and observe the viewer's commands.
type MockStreamRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu       sync.Mutex
	conns    []*MockRelayConn
	accepted chan *MockRelayConn
	received chan RelayMessage
	reject   int

	// OnConnect runs after the upgrade, before any message is read.
	OnConnect func(conn *MockRelayConn)
	// OnMessage runs for every JSON message the viewer sends.
	OnMessage func(conn *MockRelayConn, message map[string]interface{})
	// AnswerPings replies to {"type":"ping"} with {"type":"pong"}.
	AnswerPings bool
}

// RelayMessage is one command received from a viewer.
type RelayMessage struct {
	Conn *MockRelayConn
	Type string
	Data map[string]interface{}
}

// MockRelayConn is one viewer socket as seen by the relay.
type MockRelayConn struct {
	conn    *websocket.Conn
	path    string
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// NewMockStreamRelay starts a relay listening on a random local port.
func NewMockStreamRelay() *MockStreamRelay {
	m := &MockStreamRelay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      logging.NewDiscardLogger(),
		accepted:    make(chan *MockRelayConn, 16),
		received:    make(chan RelayMessage, 256),
		AnswerPings: true,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

// URL returns the ws:// address of the relay.
func (m *MockStreamRelay) URL() string {
	return strings.Replace(m.server.URL, "http://", "ws://", 1)
}

// HTTPURL returns the http:// address, useful as an API base.
func (m *MockStreamRelay) HTTPURL() string {
	return m.server.URL
}

// RejectNext makes the next n upgrade attempts fail with 503.
func (m *MockStreamRelay) RejectNext(n int) {
	m.mu.Lock()
	m.reject = n
	m.mu.Unlock()
}

// Accepted yields every connection as it is upgraded.
func (m *MockStreamRelay) Accepted() <-chan *MockRelayConn {
	return m.accepted
}

// Received yields every JSON command sent by viewers.
func (m *MockStreamRelay) Received() <-chan RelayMessage {
	return m.received
}

// WaitForConn blocks until a connection is accepted or the timeout passes.
func (m *MockStreamRelay) WaitForConn(timeout time.Duration) *MockRelayConn {
	select {
	case c := <-m.accepted:
		return c
	case <-time.After(timeout):
		return nil
	}
}

// WaitForMessage returns the next received command of the given type.
func (m *MockStreamRelay) WaitForMessage(msgType string, timeout time.Duration) (RelayMessage, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-m.received:
			if msg.Type == msgType {
				return msg, true
			}
		case <-deadline:
			return RelayMessage{}, false
		}
	}
}

// ConnectionCount returns how many sockets have been accepted so far.
func (m *MockStreamRelay) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close drops every connection and stops the server.
func (m *MockStreamRelay) Close() {
	m.mu.Lock()
	conns := append([]*MockRelayConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		c.Drop()
	}
	m.server.Close()
}

func (m *MockStreamRelay) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.reject > 0 {
		m.reject--
		m.mu.Unlock()
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}
	m.mu.Unlock()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	rc := &MockRelayConn{conn: conn, path: r.URL.RequestURI(), closed: make(chan struct{})}
	m.mu.Lock()
	m.conns = append(m.conns, rc)
	m.mu.Unlock()

	if m.OnConnect != nil {
		m.OnConnect(rc)
	}
	select {
	case m.accepted <- rc:
	default:
	}

	go m.readPump(rc)
}

func (m *MockStreamRelay) readPump(c *MockRelayConn) {
	defer c.Drop()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var message map[string]interface{}
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		msgType, _ := message["type"].(string)

		select {
		case m.received <- RelayMessage{Conn: c, Type: msgType, Data: message}:
		default:
		}
		if m.OnMessage != nil {
			m.OnMessage(c, message)
		}
		if msgType == "ping" && m.AnswerPings {
			_ = c.Send(map[string]interface{}{"type": "pong"})
		}
	}
}

// Path returns the request URI the viewer dialed.
func (c *MockRelayConn) Path() string {
	return c.path
}

// Send writes v as a JSON text frame.
func (c *MockRelayConn) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test utility
	return c.conn.WriteJSON(v)
}

// SendText writes raw bytes as a text frame, malformed or not.
func (c *MockRelayConn) SendText(raw string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test utility
	return c.conn.WriteMessage(websocket.TextMessage, []byte(raw))
}

// SendCBOR writes v as a CBOR binary frame.
func (c *MockRelayConn) SendCBOR(v interface{}) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test utility
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// CloseWith sends a close frame with code and reason, then drops the socket.
func (c *MockRelayConn) CloseWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second)) //nolint:errcheck // test utility
	c.writeMu.Unlock()
	c.Drop()
}

// Drop closes the TCP connection without a close frame.
func (c *MockRelayConn) Drop() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Done is closed once the connection is gone.
func (c *MockRelayConn) Done() <-chan struct{} {
	return c.closed
}
