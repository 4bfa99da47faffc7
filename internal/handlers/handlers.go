package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/api/common"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/middleware"
)

const frameJPEGQuality = 85

// ViewerHandlers exposes mounted viewers over HTTP.
type ViewerHandlers struct {
	manager *Manager
	logger  logging.Logger
}

func NewViewerHandlers(manager *Manager, logger logging.Logger) *ViewerHandlers {
	return &ViewerHandlers{manager: manager, logger: logger}
}

// QualityRequest is the body of start and quality requests.
type QualityRequest struct {
	Quality cameras.Quality `json:"quality"`
}

// RegisterRoutes mounts the viewer routes under /viewers.
func (h *ViewerHandlers) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/viewers")
	g.GET("", h.HandleListViewers)
	g.GET("/:camera_id", h.HandleGetViewer)
	g.DELETE("/:camera_id", h.HandleUnmount)
	g.POST("/:camera_id/start", h.HandleStart)
	g.POST("/:camera_id/stop", h.HandleStop)
	g.POST("/:camera_id/quality", h.HandleChangeQuality)
	g.GET("/:camera_id/frame.jpg", h.HandleFrame)
	g.GET("/:camera_id/detections", h.HandleDetections)
}

func (h *ViewerHandlers) HandleListViewers(c *gin.Context) {
	viewers := h.manager.List()
	c.JSON(http.StatusOK, gin.H{"viewers": viewers, "count": len(viewers)})
}

func (h *ViewerHandlers) HandleGetViewer(c *gin.Context) {
	v, err := h.manager.Get(c.Param("camera_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.State())
}

// HandleStart mounts the viewer if needed and requests a stream session.
func (h *ViewerHandlers) HandleStart(c *gin.Context) {
	var req QualityRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Invalid request body", Code: common.CodeInvalid})
		return
	}
	if req.Quality != "" && !req.Quality.Valid() {
		h.respondError(c, viewer.ErrInvalidQuality)
		return
	}

	cameraID := c.Param("camera_id")
	if _, err := h.manager.Start(c.Request.Context(), cameraID, req.Quality); err != nil {
		h.respondError(c, err)
		return
	}
	v, err := h.manager.Get(cameraID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.State())
}

func (h *ViewerHandlers) HandleStop(c *gin.Context) {
	cameraID := c.Param("camera_id")
	if err := h.manager.Stop(c.Request.Context(), cameraID); err != nil {
		h.respondError(c, err)
		return
	}
	v, err := h.manager.Get(cameraID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.State())
}

func (h *ViewerHandlers) HandleChangeQuality(c *gin.Context) {
	var req QualityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quality == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "quality is required", Code: common.CodeInvalid})
		return
	}
	cameraID := c.Param("camera_id")
	if err := h.manager.ChangeQuality(cameraID, req.Quality); err != nil {
		h.respondError(c, err)
		return
	}
	v, err := h.manager.Get(cameraID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.State())
}

func (h *ViewerHandlers) HandleUnmount(c *gin.Context) {
	if err := h.manager.Unmount(c.Param("camera_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleFrame serves the last painted frame, overlay included. ?width scales it down.
func (h *ViewerHandlers) HandleFrame(c *gin.Context) {
	v, err := h.manager.Get(c.Param("camera_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	width := 0
	if raw := c.Query("width"); raw != "" {
		width, err = strconv.Atoi(raw)
		if err != nil || width <= 0 {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "width must be a positive integer", Code: common.CodeInvalid})
			return
		}
	}

	img, info, ok := v.Renderer().Latest()
	if !ok {
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "No frame rendered yet", Code: common.CodeNotFound})
		return
	}

	var buf bytes.Buffer
	if err := viewer.EncodeJPEG(&buf, img, frameJPEGQuality, width); err != nil {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Failed to encode frame")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to encode frame", Code: "INTERNAL"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Seq", strconv.FormatUint(info.Seq, 10))
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (h *ViewerHandlers) HandleDetections(c *gin.Context) {
	v, err := h.manager.Get(c.Param("camera_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera_id": v.CameraID(), "detections": v.Detections()})
}

func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *ViewerHandlers) respondError(c *gin.Context, err error) {
	var serr *viewer.SessionError
	switch {
	case errors.Is(err, ErrViewerNotFound):
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Viewer not found", Code: common.CodeNotFound})
	case errors.Is(err, viewer.ErrInvalidQuality), errors.Is(err, ErrInvalidCameraID):
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error(), Code: common.CodeInvalid})
	case errors.As(err, &serr):
		status, code := http.StatusUnprocessableEntity, common.CodeRejected
		if serr.Kind == viewer.KindNetwork {
			status, code = http.StatusBadGateway, common.CodeUpstream
		}
		resp := common.ErrorResponse{Error: serr.Message, Code: code}
		if serr.StatusCode != 0 {
			resp.Details = map[string]interface{}{"status_code": serr.StatusCode}
		}
		middleware.GetContextLogger(c, h.logger).WithError(err).Warn("Stream session request failed")
		c.JSON(status, resp)
	case errors.Is(err, viewer.ErrNotConnected):
		c.JSON(http.StatusConflict, common.ErrorResponse{Error: "Viewer socket is not open", Code: common.CodeNotConnected})
	case errors.Is(err, viewer.ErrDisposed), errors.Is(err, viewer.ErrStartCancelled):
		c.JSON(http.StatusConflict, common.ErrorResponse{Error: err.Error(), Code: common.CodeDisposed})
	default:
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Viewer request failed")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error", Code: "INTERNAL"})
	}
}
