package viewer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
)

// Frame is one inbound picture. Payload is base64 JPEG from text frames,
// Raw is JPEG bytes from binary frames; Raw wins when both are set.
type Frame struct {
	Payload  string
	Raw      []byte
	Metadata *cameras.FrameMetadata
}

// FrameInfo describes the frame currently on the surface.
type FrameInfo struct {
	Seq       uint64                 `json:"seq"`
	Width     int                    `json:"width"`
	Height    int                    `json:"height"`
	Metadata  *cameras.FrameMetadata `json:"metadata,omitempty"`
	PaintedAt time.Time              `json:"painted_at"`
}

// FrameRenderer paints frames onto a drawing surface.
type FrameRenderer interface {
	// Render decodes and paints asynchronously.
	Render(f Frame)
	// Latest returns the surface as last painted.
	Latest() (image.Image, FrameInfo, bool)
	// Clear blanks the surface and discards decodes still in flight.
	Clear()
	Close()
}

// RendererOptions configures a Renderer. All callbacks run on the decode
// goroutine. OnPaint runs with the surface lock held and must not call back
// into the Renderer.
type RendererOptions struct {
	DisableOverlay bool
	Location       *time.Location
	OnPaint        func(FrameInfo)
	OnDecodeError  func(seq uint64, err error)
	OnStale        func(seq uint64)
}

// Renderer decodes JPEG frames off the caller's goroutine and keeps the most
// recent one. Each Render call takes a sequence number; a decode that
// finishes after a newer frame was painted is discarded.
type Renderer struct {
	opts RendererOptions

	next atomic.Uint64
	wg   sync.WaitGroup

	mu      sync.RWMutex
	painted uint64
	surface *image.RGBA
	info    FrameInfo
	closed  bool
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Renderer{opts: opts}
}

func (r *Renderer) Render(f Frame) {
	seq := r.next.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.paint(seq, f)
	}()
}

// Wait blocks until every in-flight decode has finished.
func (r *Renderer) Wait() {
	r.wg.Wait()
}

// Close makes later decodes no-ops. The last surface stays readable.
func (r *Renderer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Clear drops the painted surface. Frames already handed to Render are
// treated as stale when their decode finishes.
func (r *Renderer) Clear() {
	r.mu.Lock()
	r.painted = r.next.Load()
	r.surface = nil
	r.info = FrameInfo{}
	r.mu.Unlock()
}

func (r *Renderer) Latest() (image.Image, FrameInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.surface == nil {
		return nil, FrameInfo{}, false
	}
	return r.surface, r.info, true
}

func (r *Renderer) paint(seq uint64, f Frame) {
	surface, err := r.compose(f)
	if err != nil {
		if r.opts.OnDecodeError != nil {
			r.opts.OnDecodeError(seq, err)
		}
		return
	}

	b := surface.Bounds()
	info := FrameInfo{Seq: seq, Width: b.Dx(), Height: b.Dy(), Metadata: f.Metadata, PaintedAt: time.Now()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if seq <= r.painted {
		r.mu.Unlock()
		if r.opts.OnStale != nil {
			r.opts.OnStale(seq)
		}
		return
	}
	r.painted = seq
	r.surface = surface
	r.info = info
	// Under the lock so a concurrent Clear never runs between the paint and its callback.
	if r.opts.OnPaint != nil {
		r.opts.OnPaint(info)
	}
	r.mu.Unlock()
}

func (r *Renderer) compose(f Frame) (*image.RGBA, error) {
	raw := f.Raw
	if raw == nil {
		decoded, err := DecodeBase64Frame(f.Payload)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	// The surface always takes the native size of the picture.
	b := img.Bounds()
	surface := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(surface, surface.Bounds(), img, b.Min, draw.Src)

	if f.Metadata != nil && !r.opts.DisableOverlay {
		drawOverlay(surface, f.Metadata, r.opts.Location)
	}
	return surface, nil
}

// DecodeBase64Frame accepts bare base64 or a data: URL.
func DecodeBase64Frame(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return nil, fmt.Errorf("empty frame payload")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 frame: %w", err)
	}
	return raw, nil
}

var (
	panelColor     = color.NRGBA{R: 0, G: 0, B: 0, A: 178}
	detectionRed   = color.NRGBA{R: 255, G: 0, B: 0, A: 204}
	detectionAmber = color.NRGBA{R: 255, G: 165, B: 0, A: 204}
)

// drawOverlay paints the telemetry panel in the top-left corner and, when the
// frame carries detections, the alert banners in the top-right corner.
func drawOverlay(dst *image.RGBA, md *cameras.FrameMetadata, loc *time.Location) {
	fillRect(dst, 10, 10, 300, 80, panelColor)

	ts := time.Unix(0, int64(md.Timestamp*float64(time.Second))).In(loc).Format("15:04:05")
	drawText(dst, 15, 30, fmt.Sprintf("Frame: %d", md.FrameCount))
	drawText(dst, 15, 50, fmt.Sprintf("Detections: %d", md.DetectionCount))
	drawText(dst, 15, 70, "Time: "+ts)

	if len(md.Detections) == 0 {
		return
	}
	w := dst.Bounds().Dx()
	fillRect(dst, w-150, 10, 140, 30, detectionRed)
	drawText(dst, w-140, 30, "DETECTION!")

	d := md.Detections[0]
	fillRect(dst, w-150, 45, 140, 25, detectionAmber)
	drawText(dst, w-140, 62, strings.ToUpper(d.Type))
	drawText(dst, w-80, 62, fmt.Sprintf("%.1f%%", d.Confidence*100))
}

func fillRect(dst *image.RGBA, x, y, w, h int, c color.Color) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(dst, rect, image.NewUniform(c), image.Point{}, draw.Over)
}

func drawText(dst *image.RGBA, x, baseline int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// EncodeJPEG writes img as JPEG, scaling it down to maxWidth when maxWidth > 0.
func EncodeJPEG(w io.Writer, img image.Image, quality, maxWidth int) error {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		img = scaled
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
