package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/common"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/testutil"
)

const waitFor = 3 * time.Second

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAPI struct {
	mu        sync.Mutex
	resp      *cameras.StreamResponse
	err       error
	gate      chan struct{}
	getCalls  int
	stopCalls int
}

func (s *stubAPI) GetStream(ctx context.Context, cameraID string) (*cameras.StreamResponse, error) {
	s.mu.Lock()
	s.getCalls++
	gate, resp, err := s.gate, s.resp, s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if resp != nil || err != nil {
		return resp, err
	}
	return &cameras.StreamResponse{
		Success: true,
		Data: &cameras.StreamData{
			SessionID:    "sess-" + cameraID,
			WebsocketURL: "/ws/camera/" + cameraID + "/",
			CameraInfo:   cameras.CameraInfo{ID: cameras.FlexibleID(cameraID), Name: "Porch"},
		},
	}, nil
}

func (s *stubAPI) StopStream(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()
	return nil
}

func (s *stubAPI) StreamStatus(ctx context.Context, cameraID string) (*cameras.StreamStatusResponse, error) {
	return &cameras.StreamStatusResponse{Success: true}, nil
}

func (s *stubAPI) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls, s.stopCalls
}

type fixture struct {
	t       *testing.T
	relay   *testutil.MockStreamRelay
	api     *stubAPI
	manager *Manager
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	relay := testutil.NewMockStreamRelay()
	t.Cleanup(relay.Close)

	api := &stubAPI{}
	logger := logging.NewDiscardLogger()
	manager := NewManager(func(cameraID string) (*viewer.Viewer, error) {
		return viewer.New(api, viewer.Config{
			CameraID:            cameraID,
			APIBaseURL:          relay.HTTPURL() + "/api",
			MetricsPollInterval: time.Hour,
			Logger:              logger,
		})
	}, logger)
	t.Cleanup(manager.Close)

	router := gin.New()
	NewViewerHandlers(manager, logger).RegisterRoutes(router)
	return &fixture{t: t, relay: relay, api: api, manager: manager, router: router}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) startConnected(cameraID string) *testutil.MockRelayConn {
	f.t.Helper()
	w := f.do(http.MethodPost, "/viewers/"+cameraID+"/start", nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	conn := f.relay.WaitForConn(waitFor)
	require.NotNil(f.t, conn)
	v, err := f.manager.Get(cameraID)
	require.NoError(f.t, err)
	require.Eventually(f.t, func() bool { return v.State().State == viewer.StateConnected }, waitFor, 5*time.Millisecond)
	return conn
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) common.ErrorResponse {
	t.Helper()
	var resp common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestListViewersEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/viewers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Viewers []viewer.Snapshot `json:"viewers"`
		Count   int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestUnknownViewerIs404(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/viewers/9", "/viewers/9/frame.jpg", "/viewers/9/detections"} {
		w := f.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, common.CodeNotFound, decodeError(t, w).Code, path)
	}
	w := f.do(http.MethodPost, "/viewers/9/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodDelete, "/viewers/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartWithQuality(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/viewers/42/start", QualityRequest{Quality: cameras.QualityHigh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snap viewer.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "42", snap.CameraID)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "sess-42", snap.Session.SessionID)
	assert.Equal(t, f.relay.URL()+"/ws/camera/42/", snap.Session.SocketEndpoint)

	msg, ok := f.relay.WaitForMessage(cameras.TypeStartStream, waitFor)
	require.True(t, ok)
	assert.Equal(t, "high", msg.Data["quality"])

	w = f.do(http.MethodGet, "/viewers", nil)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestStartRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/viewers/42/start", QualityRequest{Quality: "ultra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, common.CodeInvalid, decodeError(t, w).Code)

	req := httptest.NewRequest(http.MethodPost, "/viewers/42/start", bytes.NewBufferString("{broken"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartFailureMapping(t *testing.T) {
	tests := []struct {
		name   string
		resp   *cameras.StreamResponse
		err    error
		status int
		code   string
		msg    string
	}{
		{"rejected", &cameras.StreamResponse{Success: false, Errors: []string{"Camera offline"}}, nil, http.StatusUnprocessableEntity, common.CodeRejected, "Camera offline"},
		{"network", nil, errors.New("connection refused"), http.StatusBadGateway, common.CodeUpstream, "Server connection failed."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.api.resp, f.api.err = tt.resp, tt.err

			w := f.do(http.MethodPost, "/viewers/42/start", nil)
			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.msg, resp.Error)

			w = f.do(http.MethodGet, "/viewers/42", nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"state":"error"`)
		})
	}
}

func TestChangeQualityEndpoint(t *testing.T) {
	f := newFixture(t)
	f.startConnected("42")

	w := f.do(http.MethodPost, "/viewers/42/quality", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/viewers/42/quality", QualityRequest{Quality: "ultra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/viewers/42/quality", QualityRequest{Quality: cameras.QualityLow})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"quality":"low"`)

	msg, ok := f.relay.WaitForMessage(cameras.TypeChangeQuality, waitFor)
	require.True(t, ok)
	assert.Equal(t, "low", msg.Data["quality"])
}

func TestDetectionsEndpoint(t *testing.T) {
	f := newFixture(t)
	conn := f.startConnected("42")

	require.NoError(t, conn.Send(map[string]interface{}{
		"type":      "detection_result",
		"detection": map[string]interface{}{"type": "fall", "confidence": 0.91, "camera_id": 42},
	}))

	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/viewers/42/detections", nil)
		return w.Code == http.StatusOK && bytes.Contains(w.Body.Bytes(), []byte(`"type":"fall"`))
	}, waitFor, 10*time.Millisecond)
}

func TestFrameEndpoint(t *testing.T) {
	f := newFixture(t)
	conn := f.startConnected("42")

	w := f.do(http.MethodGet, "/viewers/42/frame.jpg", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 120, B: 200, A: 255})
		}
	}
	var src bytes.Buffer
	require.NoError(t, jpeg.Encode(&src, img, nil))
	require.NoError(t, conn.Send(map[string]interface{}{
		"type":  "video_frame",
		"frame": base64.StdEncoding.EncodeToString(src.Bytes()),
	}))

	require.Eventually(t, func() bool {
		return f.do(http.MethodGet, "/viewers/42/frame.jpg", nil).Code == http.StatusOK
	}, waitFor, 10*time.Millisecond)

	w = f.do(http.MethodGet, "/viewers/42/frame.jpg", nil)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Frame-Seq"))
	out, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, out.Bounds().Dx())

	w = f.do(http.MethodGet, "/viewers/42/frame.jpg?width=16", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out, err = jpeg.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, out.Bounds().Dx())
	assert.Equal(t, 8, out.Bounds().Dy())

	w = f.do(http.MethodGet, "/viewers/42/frame.jpg?width=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/viewers/42/stop", nil).Code)
	w = f.do(http.MethodGet, "/viewers/42/frame.jpg", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "stopped viewers serve no frame")
}

func TestStopAndUnmount(t *testing.T) {
	f := newFixture(t)
	conn := f.startConnected("42")

	w := f.do(http.MethodPost, "/viewers/42/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"disconnected"`)
	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("socket not closed")
	}
	_, stops := f.api.calls()
	assert.Equal(t, 1, stops)

	w = f.do(http.MethodPost, "/viewers/42/quality", QualityRequest{Quality: cameras.QualityHigh})
	assert.Equal(t, http.StatusOK, w.Code, "quality is recorded without a session")

	w = f.do(http.MethodDelete, "/viewers/42", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.manager.Count())

	w = f.do(http.MethodGet, "/viewers/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagerDedupesConcurrentStarts(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.api.gate = gate

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Start(context.Background(), "42", "")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool {
		get, _ := f.api.calls()
		return get == 1
	}, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	get, _ := f.api.calls()
	assert.Equal(t, 1, get)
	assert.Equal(t, 1, f.manager.Count())
}

func TestManagerClose(t *testing.T) {
	f := newFixture(t)
	f.startConnected("42")
	f.startConnected("43")
	require.Equal(t, 2, f.manager.Count())

	f.manager.Close()
	assert.Equal(t, 0, f.manager.Count())
	_, err := f.manager.Mount("44")
	assert.ErrorIs(t, err, viewer.ErrDisposed)

	_, stops := f.api.calls()
	assert.Equal(t, 2, stops)
}

func TestMountRequiresCameraID(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Mount("  ")
	assert.ErrorIs(t, err, ErrInvalidCameraID)
}
