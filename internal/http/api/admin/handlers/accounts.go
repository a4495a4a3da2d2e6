package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/models"
	"github.com/relaytext/relaytext-billing/internal/planstate"
	"gorm.io/gorm"
)

// AccountHandler serves admin read endpoints for account billing state.
type AccountHandler struct {
	db *gorm.DB // Database handle for account records.
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{db: db}
}

// accountListQuery defines filters for the account list view.
type accountListQuery struct {
	Page  int    `form:"page,default=1"`   // Page number.
	Limit int    `form:"limit,default=12"` // Page size.
	Email string `form:"email"`            // Email substring filter.
	Plan  string `form:"plan"`             // Plan tier filter.
}

// accountView is the admin-facing projection of one account.
type accountView struct {
	ID                       uint64    `json:"id"`
	Email                    string    `json:"email"`
	PhoneNumber              string    `json:"phone_number"`
	Plan                     string    `json:"plan"`
	PriorPlan                string    `json:"prior_plan,omitempty"`
	UsageCount               int64     `json:"usage_count"`
	UsageLimit               int64     `json:"usage_limit"`
	UsageResetAt             time.Time `json:"usage_reset_at"`
	AdditionalUnitsPurchased int64     `json:"additional_units_purchased"`
	BillingCycle             string    `json:"billing_cycle,omitempty"`
	SuspensionReason         string    `json:"suspension_reason,omitempty"`
	PaymentMethodStatus      string    `json:"payment_method_status"`
	CreatedAt                time.Time `json:"created_at"`
}

func newAccountView(acc *models.Account) accountView {
	return accountView{
		ID:                       acc.ID,
		Email:                    acc.Email,
		PhoneNumber:              acc.PhoneNumber,
		Plan:                     string(acc.Plan),
		PriorPlan:                string(acc.PriorPlan),
		UsageCount:               acc.UsageCount,
		UsageLimit:               planstate.Quota(acc.Plan) + acc.AdditionalUnitsPurchased,
		UsageResetAt:             acc.UsageResetAt,
		AdditionalUnitsPurchased: acc.AdditionalUnitsPurchased,
		BillingCycle:             string(acc.BillingCycle),
		SuspensionReason:         acc.SuspensionReason,
		PaymentMethodStatus:      string(acc.PaymentMethodStatus),
		CreatedAt:                acc.CreatedAt,
	}
}

// List returns account billing state with paging and filters.
func (h *AccountHandler) List(c *gin.Context) {
	var q accountListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 12
	}

	ctx := c.Request.Context()
	base := h.db.WithContext(ctx).Model(&models.Account{})
	if emailQ := strings.TrimSpace(q.Email); emailQ != "" {
		base = base.Where("email LIKE ?", "%"+emailQ+"%")
	}
	if planQ := strings.ToLower(strings.TrimSpace(q.Plan)); planQ != "" {
		base = base.Where("plan = ?", planQ)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}

	var accounts []models.Account
	if errFind := base.
		Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&accounts).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query accounts failed"})
		return
	}

	views := make([]accountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, newAccountView(&accounts[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": views,
		"total":    total,
		"page":     q.Page,
		"limit":    q.Limit,
	})
}

// Get returns one account's billing state.
func (h *AccountHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var acc models.Account
	if errFind := h.db.WithContext(c.Request.Context()).First(&acc, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query account failed"})
		return
	}
	c.JSON(http.StatusOK, newAccountView(&acc))
}
