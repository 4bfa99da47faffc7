package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// Go has no close event without a code, so read failures that carry no
	// close frame are reported with the abnormal closure code like browsers do.
	closeAbnormal = websocket.CloseAbnormalClosure
)

// socket is one websocket connection plus the write lock gorilla requires.
type socket struct {
	conn     *websocket.Conn
	gen      uint64
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func dialSocket(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func newSocket(conn *websocket.Conn, gen uint64) *socket {
	return &socket{conn: conn, gen: gen, done: make(chan struct{})}
}

func (s *socket) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// markDone stops the ping loop. It does not close the connection.
func (s *socket) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// closeNormal sends a 1000 close frame with reason and tears the connection down.
func (s *socket) closeNormal(reason string) {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.markDone()
	_ = s.conn.Close()
}

// closeCode extracts the close code from a read error.
func closeCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return closeAbnormal, err.Error()
}
