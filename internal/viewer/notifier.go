package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelAlert Level = "alert"
	LevelError Level = "error"
)

// Notification is a user-facing event raised by a viewer.
type Notification struct {
	ViewerID    string             `json:"viewer_id"`
	CameraID    string             `json:"camera_id"`
	Level       Level              `json:"level"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Detection   *cameras.Detection `json:"detection,omitempty"`
	Alert       *cameras.Alert     `json:"alert,omitempty"`
	At          time.Time          `json:"at"`
}

// Notifier receives notifications. Implementations must not block for long;
// they are called on the viewer's socket goroutine.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

func detectionNotification(d cameras.Detection) Notification {
	return Notification{
		Level:       LevelAlert,
		Title:       fmt.Sprintf("%s Detected!", strings.ToUpper(d.Type)),
		Description: fmt.Sprintf("Confidence: %.1f%%", d.Confidence*100),
		Detection:   &d,
	}
}

func alertNotification(a *cameras.Alert) Notification {
	n := Notification{Level: LevelAlert, Title: "Security Alert", Description: msgAlertFallback}
	if a != nil {
		cp := *a
		n.Alert = &cp
		if a.Message != "" {
			n.Description = a.Message
		}
	}
	return n
}
