package handler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/groupwatch/internal/hub"
	"github.com/weiawesome/groupwatch/internal/metric"
	"github.com/weiawesome/groupwatch/internal/registry"
	"github.com/weiawesome/groupwatch/internal/room"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/response"
)

const lookupTimeout = 2 * time.Second

// RoomLocator finds the relay instance advertising a room.
type RoomLocator interface {
	Lookup(ctx context.Context, roomID string) (string, error)
}

// RoomLocation points at the instance serving a room that is not local.
type RoomLocation struct {
	ID       string `json:"id"`
	Instance string `json:"instance"`
}

// HTTPHandler serves health, stats and room inspection endpoints.
type HTTPHandler struct {
	hub           *hub.Hub
	directory     *room.Directory
	maxRoomIDSize int
	locator       RoomLocator
	sf            singleflight.Group
	draining      atomic.Bool
}

// NewHTTPHandler creates a new HTTP handler. locator may be nil, in which
// case rooms on other instances are reported as not found.
func NewHTTPHandler(h *hub.Hub, directory *room.Directory, maxRoomIDSize int, locator RoomLocator) *HTTPHandler {
	return &HTTPHandler{
		hub:           h,
		directory:     directory,
		maxRoomIDSize: maxRoomIDSize,
		locator:       locator,
	}
}

// SetDraining makes /health report unavailable so load balancers stop
// routing new connections here.
func (h *HTTPHandler) SetDraining() {
	h.draining.Store(true)
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	if h.draining.Load() {
		response.Unavailable(c, "shutting down")
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// Stats reports live room and connection counts.
func (h *HTTPHandler) Stats(c *gin.Context) {
	response.Success(c, gin.H{
		"rooms":   h.directory.Count(),
		"clients": h.hub.ClientCount(),
	})
}

// ListRooms returns the ids of all live rooms.
func (h *HTTPHandler) ListRooms(c *gin.Context) {
	response.Success(c, gin.H{"rooms": h.directory.IDs()})
}

// GetRoom returns the participant count, host and playback snapshot of a room.
func (h *HTTPHandler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if h.maxRoomIDSize > 0 && len(id) > h.maxRoomIDSize {
		response.BadRequest(c, "room id is too long")
		return
	}

	if r, ok := h.directory.Get(id); ok {
		response.Success(c, r.Info())
		return
	}

	if h.locator == nil {
		response.NotFound(c, "room not found")
		return
	}

	// Concurrent lookups for the same room share one registry round trip.
	v, err, _ := h.sf.Do(id, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		return h.locator.Lookup(ctx, id)
	})
	switch {
	case err == nil:
		response.Success(c, RoomLocation{ID: id, Instance: v.(string)})
	case errors.Is(err, registry.ErrNotFound):
		response.NotFound(c, "room not found")
	default:
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Str(pkglog.FieldRoomID, id).Msg("room lookup failed")
		response.Unavailable(c, "room registry unavailable")
	}
}

// RegisterRoutes registers the HTTP routes.
func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/metrics", metric.Handler())

	api := r.Group("/api/v1")
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
}
