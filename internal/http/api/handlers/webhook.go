package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/webhook"
	log "github.com/sirupsen/logrus"
)

// maxWebhookBody bounds the accepted webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives signed payment processor events.
type WebhookHandler struct {
	dispatcher *webhook.Dispatcher
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(dispatcher *webhook.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// Receive verifies and processes one webhook delivery. A handler failure
// answers 500 so the processor re-delivers; a bad signature answers 400
// with no side effect.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	errHandle := h.dispatcher.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errHandle != nil {
		if errors.Is(errHandle, webhook.ErrBadSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.WithError(errHandle).Error("webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
