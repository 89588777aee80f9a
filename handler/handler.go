package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fudosan-agent/internal/domain"
	"fudosan-agent/internal/integrations/line"
)

const (
	correlationHeader = "X-Correlation-Id"
	correlationKey    = "correlationId"

	maxBodyBytes = 1 << 20
)

// Dispatcher hands decoded webhook events to background processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event) int
}

type Handler struct {
	dispatcher    Dispatcher
	channelSecret string
	health        string
	logger        *slog.Logger
}

func New(dispatcher Dispatcher, channelSecret, health string, logger *slog.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("handler: channel secret must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: dispatcher, channelSecret: channelSecret, health: health, logger: logger}, nil
}

// Router builds the gin engine serving the health check and the LINE webhook.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(h.correlationID(), h.accessLog(), gin.CustomRecovery(h.recovered))
	r.GET("/", h.Health)
	r.POST("/callback", h.Callback)
	return r
}

// Health handles GET /
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, h.health)
}

// Callback handles POST /callback. It acknowledges as soon as the events are
// handed off; processing outcomes never change the response.
func (h *Handler) Callback(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		h.log(c).Warn("read webhook body", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if !line.VerifySignature(h.channelSecret, body, c.GetHeader(line.SignatureHeader)) {
		h.log(c).Warn("rejected webhook with invalid signature")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	events, err := line.DecodeWebhook(body)
	if err != nil {
		h.log(c).Warn("decode webhook", "err", err)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	started := h.dispatcher.Dispatch(c.Request.Context(), events)
	h.log(c).Debug("webhook dispatched", "events", len(events), "started", started)
	c.Status(http.StatusOK)
}

func (h *Handler) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log(c).Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (h *Handler) recovered(c *gin.Context, err any) {
	h.log(c).Error("panic in http handler", "panic", err)
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (h *Handler) log(c *gin.Context) *slog.Logger {
	return h.logger.With("correlation_id", c.GetString(correlationKey))
}
