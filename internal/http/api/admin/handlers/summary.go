package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/models"
	"gorm.io/gorm"
)

// BillingSummaryHandler serves the aggregate billing overview.
type BillingSummaryHandler struct {
	db *gorm.DB // Database handle for summary queries.
}

// NewBillingSummaryHandler constructs a BillingSummaryHandler.
func NewBillingSummaryHandler(db *gorm.DB) *BillingSummaryHandler {
	return &BillingSummaryHandler{db: db}
}

// planCountRow is the per-plan account count query row.
type planCountRow struct {
	Plan  string `gorm:"column:plan"`
	Count int64  `gorm:"column:count"`
}

// Summary returns account counts per plan and 30-day revenue totals.
func (h *BillingSummaryHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()

	var rows []planCountRow
	if errGroup := h.db.WithContext(ctx).
		Model(&models.Account{}).
		Select("plan, COUNT(*) AS count").
		Group("plan").
		Find(&rows).Error; errGroup != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}
	planCounts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		planCounts[row.Plan] = row.Count
		total += row.Count
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	var subscriptionRevenue float64
	if errSum := h.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("type = ? AND created_at >= ?", models.EventPaymentSucceeded, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&subscriptionRevenue).Error; errSum != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sum revenue failed"})
		return
	}
	var overageRevenue float64
	if errSum := h.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("type = ? AND created_at >= ?", models.EventAutoBuyTexts, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&overageRevenue).Error; errSum != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sum revenue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_accounts":       total,
		"accounts_by_plan":     planCounts,
		"subscription_revenue": subscriptionRevenue,
		"overage_revenue":      overageRevenue,
		"window_days":          30,
	})
}
