package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertEnvelope struct {
	CameraID string `json:"camera_id"`
	Title    string `json:"title"`
}

func TestNewUniversalClientRequiresAddr(t *testing.T) {
	_, err := NewUniversalClient(context.Background(), Config{})
	require.Error(t, err)
}

func TestConfigMode(t *testing.T) {
	assert.Equal(t, ModeSingle, Config{Addrs: []string{"a:1"}}.Mode())
	assert.Equal(t, ModeCluster, Config{Addrs: []string{"a:1", "b:1"}}.Mode())
	assert.Equal(t, ModeSentinel, Config{Addrs: []string{"a:1"}, MasterName: "m"}.Mode())
}

func TestTypedPubSubRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewUniversalClient(ctx, Config{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	defer client.Close()

	ps := NewTypedPubSub[alertEnvelope](client, nil)
	got := make(chan alertEnvelope, 1)
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = ps.Subscribe(subCtx, "camera-alerts", func(a alertEnvelope) {
			select {
			case got <- a:
			default:
			}
		})
	}()

	var received alertEnvelope
	// Publish until the subscriber is attached.
	require.Eventually(t, func() bool {
		_ = ps.Publish(ctx, "camera-alerts", alertEnvelope{CameraID: "42", Title: "FALL Detected!"})
		select {
		case a := <-got:
			received = a
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "42", received.CameraID)
	assert.Equal(t, "FALL Detected!", received.Title)
}
