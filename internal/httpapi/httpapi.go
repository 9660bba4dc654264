// Package httpapi exposes an Engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/capcache"
)

// Cache is the subset of *capcache.Engine the handlers need.
type Cache interface {
	Store(ctx context.Context, req capcache.StoreRequest) (capcache.Stored, error)
	Lookup(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// maxTTLSeconds is the largest ttl that still fits a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// StoreRequest is the body of POST /cache. Payload is base64 in JSON and
// may be empty, but not absent.
type StoreRequest struct {
	ID         string `json:"id"`
	Payload    []byte `json:"payload"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type StoreResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LookupResponse struct {
	Payload []byte `json:"payload"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type Handler struct {
	cache Cache
	log   *zap.Logger
}

func New(cache Cache, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{cache: cache, log: log}
}

// Router builds the gin engine with request logging and panic recovery.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(h.log), gin.Recovery())

	r.GET("/healthz", h.health)
	api := r.Group("/cache")
	{
		api.POST("", h.store)
		api.GET("/:id", h.lookup)
		api.DELETE("/:id", h.delete)
	}
	return r
}

func (h *Handler) store(c *gin.Context) {
	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body: " + err.Error()})
		return
	}
	if req.Payload == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid request body: payload is required"})
		return
	}
	if req.TTLSeconds < 0 || req.TTLSeconds > maxTTLSeconds {
		c.JSON(http.StatusBadRequest, errorResponse{Message: capcache.ErrInvalidTTL.Error()})
		return
	}
	st, err := h.cache.Store(c.Request.Context(), capcache.StoreRequest{
		ID:      req.ID,
		Payload: req.Payload,
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, StoreResponse{ID: st.ID, ExpiresAt: st.ExpiresAt})
}

func (h *Handler) lookup(c *gin.Context) {
	payload, err := h.cache.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, LookupResponse{Payload: payload})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.cache.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) health(c *gin.Context) {
	n, err := h.cache.Count(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": n})
}

// StatusFor maps engine errors onto HTTP status codes. A full cache is a
// server-side condition, not a client error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, capcache.ErrInvalidIdentifier), errors.Is(err, capcache.ErrInvalidTTL):
		return http.StatusBadRequest
	case errors.Is(err, capcache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capcache.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorResponse{Message: err.Error()})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
