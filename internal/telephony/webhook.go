package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"prank-platform/internal/metrics"
	"prank-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Webhook-Secret"
	defaultMaxBodyBytes = 8 << 20
)

// Dispatcher applies a parsed event. Returning an error makes the provider redeliver.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// WebhookHandler converts provider webhooks to Events and hands them to the dispatcher.
//
// No business logic here. Every event the dispatcher accepts, including unknown
// types, is acknowledged with 200 so the provider does not retry it.
type WebhookHandler struct {
	Dispatcher Dispatcher

	// Secret, when set, must match the X-Webhook-Secret header.
	Secret string

	// MaxBodyBytes bounds the request body. Larger bodies get 413.
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

func (h WebhookHandler) reject(c *gin.Context, status int, reason, msg string) {
	if h.Metrics != nil {
		h.Metrics.WebhookRejections.WithLabelValues(reason).Inc()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.MaxBodyBytes <= 0 {
		h.MaxBodyBytes = defaultMaxBodyBytes
	}
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}

	if h.Secret != "" {
		got := c.GetHeader(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			log.Warn("webhook secret mismatch")
			h.reject(c, http.StatusUnauthorized, "bad_secret", "invalid webhook secret")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Error("webhook body too large", "limit_bytes", tooLarge.Limit, "content_length", c.Request.ContentLength)
			h.reject(c, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
			return
		}
		log.Warn("webhook body read failed", "err", err)
		h.reject(c, http.StatusBadRequest, "unreadable", "unreadable body")
		return
	}

	ev, err := Parse(body, h.Now())
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		h.reject(c, http.StatusBadRequest, "invalid_payload", "invalid payload")
		return
	}

	ctx := logger.With(c.Request.Context(), log.With(
		"event_type", ev.Type,
		"event_kind", string(ev.Kind),
		"external_call_id", ev.ExternalCallID,
	))
	if err := h.Dispatcher.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("webhook dispatch canceled", "err", err)
		} else {
			log.Error("webhook dispatch failed", "err", err)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
