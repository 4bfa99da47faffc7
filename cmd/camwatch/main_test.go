package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoldenTiger720/secondkeeper/internal/notify"
	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/testutil"
	"github.com/GoldenTiger720/secondkeeper/pkg/version"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"API_BASE_URL", "API_TOKEN", "STREAM_QUALITY", "REDIS_ADDRS", "ALERT_CHANNEL"} {
		t.Setenv(key, "")
	}
}

func testFrame(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "camwatch "+version.Version)
	assert.Contains(t, out.String(), "git: "+version.GitCommit)

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	require.NoError(t, cmd.Execute())
	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "camwatch", info.ComponentName)
}

func TestWatchRequiresAPIBaseURL(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "42"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_BASE_URL")
}

func TestWatchRejectsBadQuality(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "42", "--api", "http://localhost:1/api", "--quality", "ultra"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_QUALITY")
}

func TestWatchWritesFrames(t *testing.T) {
	clearEnv(t)

	relay := testutil.NewMockStreamRelay()
	defer relay.Close()
	frame := testFrame(t, 32, 16)
	relay.OnConnect = func(conn *testutil.MockRelayConn) {
		_ = conn.Send(map[string]interface{}{"type": "connection_established", "session_id": "abc"})
		_ = conn.Send(map[string]interface{}{"type": "frame", "frame": frame, "frame_number": 1})
	}

	var stops atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/cameras/42/stream/":
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(cameras.StreamResponse{
				Success: true,
				Data: &cameras.StreamData{
					SessionID:    "abc",
					StreamType:   "live",
					WebsocketURL: relay.URL() + "/ws/camera/42/",
					CameraInfo:   cameras.CameraInfo{ID: "42", Name: "Front Door"},
				},
			})
		case "/api/cameras/42/stop_stream/":
			stops.Add(1)
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/api/cameras/42/stream_status/":
			_, _ = w.Write([]byte(`{"success":true,"data":{"metrics":{"fps":12.5,"uptime":4}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	outFile := filepath.Join(t.TempDir(), "frame.jpg")
	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "42",
		"--api", api.URL + "/api",
		"--token", "secret",
		"--quality", "HIGH",
		"--out", outFile,
		"--interval", "20ms",
		"--duration", "1500ms",
	})
	require.NoError(t, cmd.Execute())

	msg, ok := relay.WaitForMessage(cameras.TypeStartStream, time.Second)
	require.True(t, ok)
	assert.Equal(t, "high", msg.Data["quality"])

	text := out.String()
	assert.Contains(t, text, "session abc")
	assert.Contains(t, text, "camera 42: connecting")
	assert.Contains(t, text, "camera 42: connected")
	assert.Contains(t, text, "res=32x16")
	assert.Contains(t, text, "stopped")
	assert.Equal(t, int32(1), stops.Load())

	f, err := os.Open(outFile)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestWatchStartFailure(t *testing.T) {
	clearEnv(t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errors":["Camera is offline"]}`))
	}))
	defer api.Close()

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "7", "--api", api.URL})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Camera is offline")
}

func TestAlertsRequiresRedis(t *testing.T) {
	clearEnv(t)
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"alerts"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDRS")
}

func TestAlertsPrintsNotifications(t *testing.T) {
	clearEnv(t)
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"alerts", "--redis", mr.Addr(), "--channel", "test:alerts"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("test:alerts")["test:alerts"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	pub := notify.NewRedisNotifier(client, "test:alerts", nil)
	pub.Notify(context.Background(), viewer.Notification{
		CameraID:    "42",
		Level:       viewer.LevelAlert,
		Title:       "PERSON Detected!",
		Description: "Confidence: 87.0%",
	})
	pub.Close()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "PERSON Detected!")
	}, 2*time.Second, 10*time.Millisecond)

	var note viewer.Notification
	line := strings.TrimSpace(strings.SplitN(out.String(), "\n", 2)[0])
	require.NoError(t, json.Unmarshal([]byte(line), &note))
	assert.Equal(t, "42", note.CameraID)
	assert.Equal(t, viewer.LevelAlert, note.Level)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alerts command did not exit")
	}
}
