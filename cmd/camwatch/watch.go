package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoldenTiger720/secondkeeper/internal/config"
	"github.com/GoldenTiger720/secondkeeper/internal/notify"
	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/clients"
	camclient "github.com/GoldenTiger720/secondkeeper/pkg/clients/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
)

type watchOptions struct {
	apiURL   string
	token    string
	quality  string
	out      string
	width    int
	interval time.Duration
	duration time.Duration
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <camera-id>",
		Short: "Stream one camera and write the rendered frame to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := &lockedWriter{w: cmd.OutOrStdout()}
			return runWatch(ctx, out, root.logger(cmd), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api", "", "camera API base URL (default $API_BASE_URL)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token for the camera API (default $API_TOKEN)")
	cmd.Flags().StringVar(&opts.quality, "quality", "", "stream quality: low|medium|high (default $STREAM_QUALITY)")
	cmd.Flags().StringVar(&opts.out, "out", "", "write the latest rendered frame to this JPEG file")
	cmd.Flags().IntVar(&opts.width, "width", 0, "scale written frames down to this width")
	cmd.Flags().DurationVar(&opts.interval, "interval", 2*time.Second, "how often to refresh the status line and frame file")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, logger logging.Logger, cameraID string, opts *watchOptions) error {
	cfg, _ := config.Load()
	if opts.apiURL != "" {
		cfg.APIBaseURL = strings.TrimRight(opts.apiURL, "/")
	}
	if opts.token != "" {
		cfg.APIToken = opts.token
	}
	if opts.quality != "" {
		cfg.Quality = cameras.Quality(strings.ToLower(opts.quality))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.interval <= 0 {
		opts.interval = 2 * time.Second
	}

	client := camclient.NewClient(cfg.APIBaseURL,
		camclient.WithToken(cfg.APIToken),
		camclient.WithHTTPClient(clients.NewHTTPClient(cfg.APITimeout)),
	)

	vc := cfg.ViewerConfig(cameraID)
	vc.Logger = logger
	vc.Notifier = notify.Multi{
		notify.NewLogNotifier(logger),
		viewer.NotifierFunc(func(_ context.Context, n viewer.Notification) {
			fmt.Fprintf(out, "[%s] %s %s\n", strings.ToUpper(string(n.Level)), n.Title, n.Description)
		}),
	}
	vc.OnStateChange = func(id string, s viewer.ConnectionState, msg string) {
		if msg != "" {
			fmt.Fprintf(out, "camera %s: %s (%s)\n", id, s, msg)
			return
		}
		fmt.Fprintf(out, "camera %s: %s\n", id, s)
	}

	v, err := viewer.New(client, vc)
	if err != nil {
		return err
	}
	defer v.Dispose()

	session, err := v.Start(ctx)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	fmt.Fprintf(out, "session %s on %s (%s, quality %s)\n", session.SessionID, session.SocketEndpoint, session.StreamType, session.Quality)

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	var (
		lastSeq  uint64
		lastLine string
	)
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := v.Stop(stopCtx); err != nil {
				logger.WithError(err).Warn("Stop failed")
			}
			fmt.Fprintln(out, "stopped")
			return nil

		case <-ticker.C:
			if opts.out != "" {
				if img, info, ok := v.Renderer().Latest(); ok && info.Seq != lastSeq {
					if err := writeFrame(opts.out, img, opts.width); err != nil {
						logger.WithError(err).Warn("Failed to write frame")
					} else {
						lastSeq = info.Seq
					}
				}
			}

			snap := v.State()
			if line := statusLine(snap); line != lastLine {
				fmt.Fprintln(out, line)
				lastLine = line
			}
			if snap.State == viewer.StateError && snap.Reconnect == viewer.ReconnectExhausted {
				return errors.New(snap.Error)
			}
		}
	}
}

func statusLine(s viewer.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s frames=%d", s.State, s.Frames.TotalFrames)
	if s.Frames.Resolution != "" {
		fmt.Fprintf(&b, " res=%s", s.Frames.Resolution)
	}
	if s.Frames.Latency > 0 {
		fmt.Fprintf(&b, " latency=%s", s.Frames.Latency.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, " detections=%d", len(s.Detections))
	if s.Metrics != nil {
		fmt.Fprintf(&b, " fps=%.1f uptime=%.0fs", s.Metrics.FPS, s.Metrics.Uptime)
	}
	if s.Streaming {
		b.WriteString(" live")
	}
	return b.String()
}

// writeFrame replaces path atomically so readers never see a partial JPEG.
func writeFrame(path string, img image.Image, width int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".camwatch-*.jpg")
	if err != nil {
		return err
	}
	if err := viewer.EncodeJPEG(tmp, img, 90, width); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
