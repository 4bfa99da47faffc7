package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
)

var (
	ErrViewerNotFound  = errors.New("viewer not mounted")
	ErrInvalidCameraID = errors.New("camera id is required")
)

// ViewerFactory builds an unstarted viewer for a camera.
type ViewerFactory func(cameraID string) (*viewer.Viewer, error)

// Manager is the host view: it mounts one viewer per camera and unmounts
// them on request or shutdown.
type Manager struct {
	newViewer ViewerFactory
	logger    logging.Logger

	mu      sync.RWMutex
	viewers map[string]*viewer.Viewer
	closed  bool

	// starts collapses concurrent start requests for the same camera.
	starts singleflight.Group
}

func NewManager(factory ViewerFactory, logger logging.Logger) *Manager {
	return &Manager{
		newViewer: factory,
		logger:    logger,
		viewers:   make(map[string]*viewer.Viewer),
	}
}

// Mount returns the viewer for cameraID, creating it if needed.
func (m *Manager) Mount(cameraID string) (*viewer.Viewer, error) {
	cameraID = strings.TrimSpace(cameraID)
	if cameraID == "" {
		return nil, ErrInvalidCameraID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, viewer.ErrDisposed
	}
	if v, ok := m.viewers[cameraID]; ok {
		return v, nil
	}
	v, err := m.newViewer(cameraID)
	if err != nil {
		return nil, err
	}
	m.viewers[cameraID] = v
	m.logger.WithFields(logging.Fields{"camera_id": cameraID, "viewer_id": v.ID()}).Info("Viewer mounted")
	return v, nil
}

func (m *Manager) Get(cameraID string) (*viewer.Viewer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.viewers[cameraID]
	if !ok {
		return nil, ErrViewerNotFound
	}
	return v, nil
}

// List returns a snapshot of every mounted viewer ordered by camera id.
func (m *Manager) List() []viewer.Snapshot {
	m.mu.RLock()
	vs := make([]*viewer.Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		vs = append(vs, v)
	}
	m.mu.RUnlock()

	out := make([]viewer.Snapshot, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Start mounts the viewer if needed and starts its stream. A non-empty
// quality is recorded before the start_stream command goes out.
func (m *Manager) Start(ctx context.Context, cameraID string, quality cameras.Quality) (viewer.StreamSession, error) {
	v, err := m.Mount(cameraID)
	if err != nil {
		return viewer.StreamSession{}, err
	}
	if quality != "" {
		if err := v.ChangeQuality(quality); err != nil && !errors.Is(err, viewer.ErrNotConnected) {
			return viewer.StreamSession{}, err
		}
	}

	res, err, shared := m.starts.Do(v.CameraID(), func() (interface{}, error) {
		return v.Start(ctx)
	})
	if err != nil {
		return viewer.StreamSession{}, err
	}
	if shared {
		m.logger.WithField("camera_id", v.CameraID()).Debug("Joined in-flight stream start")
	}
	return res.(viewer.StreamSession), nil
}

func (m *Manager) Stop(ctx context.Context, cameraID string) error {
	v, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	return v.Stop(ctx)
}

func (m *Manager) ChangeQuality(cameraID string, quality cameras.Quality) error {
	v, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	return v.ChangeQuality(quality)
}

// Unmount disposes the viewer and forgets it.
func (m *Manager) Unmount(cameraID string) error {
	m.mu.Lock()
	v, ok := m.viewers[cameraID]
	delete(m.viewers, cameraID)
	m.mu.Unlock()
	if !ok {
		return ErrViewerNotFound
	}
	v.Dispose()
	m.logger.WithField("camera_id", cameraID).Info("Viewer unmounted")
	return nil
}

// Close disposes every viewer. Later mounts fail with viewer.ErrDisposed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	vs := make([]*viewer.Viewer, 0, len(m.viewers))
	for id, v := range m.viewers {
		vs = append(vs, v)
		delete(m.viewers, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, v := range vs {
		v := v
		g.Go(func() error {
			v.Dispose()
			return nil
		})
	}
	_ = g.Wait()
	m.logger.WithField("viewers", len(vs)).Info("All viewers disposed")
}

// Count returns the number of mounted viewers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.viewers)
}
