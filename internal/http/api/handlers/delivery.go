package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/ledger"
	"github.com/relaytext/relaytext-billing/internal/quota"
	"github.com/relaytext/relaytext-billing/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// DeliveryHandler answers per-message delivery checks from the forwarding
// pipeline.
type DeliveryHandler struct {
	enforcer *quota.Enforcer
	limiter  *ratelimit.Manager
}

// NewDeliveryHandler constructs a DeliveryHandler.
func NewDeliveryHandler(enforcer *quota.Enforcer, limiter *ratelimit.Manager) *DeliveryHandler {
	return &DeliveryHandler{enforcer: enforcer, limiter: limiter}
}

// deliveryCheckRequest identifies the account delivering a message.
type deliveryCheckRequest struct {
	AccountID uint64 `json:"account_id" binding:"required"` // Internal account ID.
}

// deliveryCheckResponse reports the delivery decision.
type deliveryCheckResponse struct {
	Delivered bool   `json:"delivered"`        // Whether the message may be delivered.
	Reason    string `json:"reason,omitempty"` // Bounce reason when not delivered.
}

// Check consumes one quota unit for the account, remediating or bouncing
// per plan policy. Rate limit errors fail open; the quota check itself is
// the gate.
func (h *DeliveryHandler) Check(c *gin.Context) {
	var req deliveryCheckRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := c.Request.Context()

	if h.limiter != nil {
		key := ratelimit.DeliveryKey(req.AccountID)
		result, errAllow := h.limiter.Allow(ctx, key, h.limiter.Limit())
		if errAllow != nil {
			log.WithError(errAllow).Warn("delivery rate limit check failed, allowing")
		} else if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
	}

	outcome, errCheck := h.enforcer.CheckAndConsume(ctx, req.AccountID)
	if errCheck != nil {
		if errors.Is(errCheck, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		log.WithError(errCheck).WithField("account_id", req.AccountID).Error("delivery check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery check failed"})
		return
	}
	c.JSON(http.StatusOK, deliveryCheckResponse{
		Delivered: outcome.Delivered,
		Reason:    string(outcome.Reason),
	})
}
