package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BillingEventHandler serves admin read endpoints for the billing event log.
type BillingEventHandler struct {
	db *gorm.DB // Database handle for billing event records.
}

// NewBillingEventHandler constructs a BillingEventHandler.
func NewBillingEventHandler(db *gorm.DB) *BillingEventHandler {
	return &BillingEventHandler{db: db}
}

// eventListQuery defines filters for the billing event list view.
type eventListQuery struct {
	Page  int    `form:"page,default=1"`   // Page number.
	Limit int    `form:"limit,default=20"` // Page size.
	Type  string `form:"type"`             // Event type filter.
}

// eventView is the admin-facing projection of one billing event.
type eventView struct {
	ID          uint64         `json:"id"`
	Type        string         `json:"type"`
	Amount      *float64       `json:"amount,omitempty"`
	ExternalRef string         `json:"external_ref,omitempty"`
	Details     datatypes.JSON `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ListByAccount returns an account's billing events, newest first.
func (h *BillingEventHandler) ListByAccount(c *gin.Context) {
	accountID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || accountID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var q eventListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 200 {
		q.Limit = 20
	}

	ctx := c.Request.Context()
	base := h.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("account_id = ?", accountID)
	if typeQ := strings.TrimSpace(q.Type); typeQ != "" {
		base = base.Where("type = ?", typeQ)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events failed"})
		return
	}

	var events []models.BillingEvent
	if errFind := base.
		Order("created_at DESC, id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&events).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query events failed"})
		return
	}

	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:          e.ID,
			Type:        e.Type,
			Amount:      e.Amount,
			ExternalRef: e.ExternalRef,
			Details:     e.Details,
			CreatedAt:   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events": views,
		"total":  total,
		"page":   q.Page,
		"limit":  q.Limit,
	})
}
