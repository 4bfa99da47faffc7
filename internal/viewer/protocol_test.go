package viewer

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
)

func TestDecodeMessageJSON(t *testing.T) {
	raw := `{"type":"detection_result","detection":{"type":"person","confidence":0.87,"timestamp":1700000000.25,"camera_id":42}}`
	msg, err := DecodeMessage(EncodingJSON, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, cameras.TypeDetectionResult, msg.Type)
	require.NotNil(t, msg.Detection)
	assert.Equal(t, "person", msg.Detection.Type)
	assert.Equal(t, cameras.FlexibleID("42"), msg.Detection.CameraID)
}

func TestDecodeMessageFrame(t *testing.T) {
	raw := `{"type":"frame","frame":"aGVsbG8=","frame_number":12,"timestamp":1700000000,"metadata":{"frame_count":12,"detection_count":1}}`
	msg, err := DecodeMessage(EncodingJSON, []byte(raw))
	require.NoError(t, err)

	f, ok := msg.frame()
	require.True(t, ok)
	assert.Equal(t, "aGVsbG8=", f.Payload)
	assert.Equal(t, int64(12), msg.FrameNumber)
	require.NotNil(t, f.Metadata)
	assert.Equal(t, int64(1), f.Metadata.DetectionCount)

	msg, err = DecodeMessage(EncodingJSON, []byte(`{"type":"frame"}`))
	require.NoError(t, err)
	_, ok = msg.frame()
	assert.False(t, ok)
}

func TestDecodeMessageCBOR(t *testing.T) {
	payload, err := cbor.Marshal(map[string]interface{}{
		"type":         "video_frame",
		"frame":        []byte{0xff, 0xd8, 0xff},
		"frame_number": 3,
	})
	require.NoError(t, err)

	msg, err := DecodeMessage(EncodingCBOR, payload)
	require.NoError(t, err)
	assert.Equal(t, cameras.TypeVideoFrame, msg.Type)
	f, ok := msg.frame()
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, f.Raw)
	assert.Equal(t, int64(3), msg.FrameNumber)
}

func TestDecodeMessageMalformed(t *testing.T) {
	_, err := DecodeMessage(EncodingJSON, []byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeMessage(EncodingJSON, []byte(`{"session_id":"abc"}`))
	assert.ErrorIs(t, err, errMissingType)

	_, err = DecodeMessage(EncodingCBOR, []byte{0xff})
	assert.Error(t, err)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "Camera offline", (&Message{Message: "Camera offline", Error: "x"}).errorText())
	assert.Equal(t, "x", (&Message{Error: "x"}).errorText())
	assert.Equal(t, msgUnknownServerError, (&Message{}).errorText())
}

func TestNotifications(t *testing.T) {
	n := detectionNotification(cameras.Detection{Type: "person", Confidence: 0.87})
	assert.Equal(t, LevelAlert, n.Level)
	assert.Equal(t, "PERSON Detected!", n.Title)
	assert.Equal(t, "Confidence: 87.0%", n.Description)

	n = alertNotification(&cameras.Alert{Message: "Door forced open"})
	assert.Equal(t, "Security Alert", n.Title)
	assert.Equal(t, "Door forced open", n.Description)

	n = alertNotification(nil)
	assert.Equal(t, msgAlertFallback, n.Description)
}
