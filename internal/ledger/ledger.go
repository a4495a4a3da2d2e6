package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaytext/relaytext-billing/internal/models"
	"gorm.io/gorm"
)

// Typed outcomes of ledger operations.
var (
	// ErrNotFound indicates no account exists for the given key.
	ErrNotFound = errors.New("ledger: account not found")
	// ErrVersionConflict indicates the expected version was stale; callers
	// re-read and retry.
	ErrVersionConflict = errors.New("ledger: version conflict")
)

// mutateRetries bounds the re-read loop in Mutate.
const mutateRetries = 3

// Store is the data-access layer for account billing and quota fields.
// It applies field updates under per-account exclusivity and never
// computes policy itself.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store backed by GORM.
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// Get loads an account by ID.
func (s *Store) Get(ctx context.Context, accountID uint64) (*models.Account, error) {
	var acc models.Account
	if errFind := s.db.WithContext(ctx).First(&acc, accountID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get account %d: %w", accountID, errFind)
	}
	return &acc, nil
}

// GetByCustomerRef loads an account by its processor customer identifier.
func (s *Store) GetByCustomerRef(ctx context.Context, customerRef string) (*models.Account, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, ErrNotFound
	}
	var acc models.Account
	if errFind := s.db.WithContext(ctx).Where("customer_ref = ?", customerRef).First(&acc).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get account by customer %s: %w", customerRef, errFind)
	}
	return &acc, nil
}

// GetBySubscriptionRef loads an account by its processor subscription identifier.
func (s *Store) GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.Account, error) {
	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if subscriptionRef == "" {
		return nil, ErrNotFound
	}
	var acc models.Account
	if errFind := s.db.WithContext(ctx).Where("subscription_ref = ?", subscriptionRef).First(&acc).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get account by subscription %s: %w", subscriptionRef, errFind)
	}
	return &acc, nil
}

// Create inserts a new account row.
func (s *Store) Create(ctx context.Context, acc *models.Account) error {
	if acc == nil {
		return fmt.Errorf("ledger: nil account")
	}
	if errCreate := s.db.WithContext(ctx).Create(acc).Error; errCreate != nil {
		return fmt.Errorf("ledger: create account: %w", errCreate)
	}
	return nil
}

// ApplyIfUnchanged loads the account, applies the mutation, and persists it
// as a single conditional update guarded by the expected version. A stale
// version returns ErrVersionConflict and leaves the row untouched.
func (s *Store) ApplyIfUnchanged(ctx context.Context, accountID uint64, expectedVersion uint64, mutate func(*models.Account) error) error {
	acc, errGet := s.Get(ctx, accountID)
	if errGet != nil {
		return errGet
	}
	if acc.Version != expectedVersion {
		return ErrVersionConflict
	}
	if errMutate := mutate(acc); errMutate != nil {
		return errMutate
	}

	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", accountID, expectedVersion).
		Updates(map[string]any{
			"plan":                       acc.Plan,
			"prior_plan":                 acc.PriorPlan,
			"usage_count":                acc.UsageCount,
			"usage_reset_at":             acc.UsageResetAt,
			"additional_units_purchased": acc.AdditionalUnitsPurchased,
			"customer_ref":               acc.CustomerRef,
			"subscription_ref":           acc.SubscriptionRef,
			"billing_cycle":              acc.BillingCycle,
			"suspension_reason":          acc.SuspensionReason,
			"payment_method_status":      acc.PaymentMethodStatus,
			"version":                    expectedVersion + 1,
			"updated_at":                 time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: apply account %d: %w", accountID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Mutate retries ApplyIfUnchanged on version conflicts with fresh reads.
// Errors returned by the mutation itself propagate unchanged.
func (s *Store) Mutate(ctx context.Context, accountID uint64, mutate func(*models.Account) error) (*models.Account, error) {
	for attempt := 0; attempt < mutateRetries; attempt++ {
		acc, errGet := s.Get(ctx, accountID)
		if errGet != nil {
			return nil, errGet
		}
		errApply := s.ApplyIfUnchanged(ctx, accountID, acc.Version, mutate)
		if errApply == nil {
			return s.Get(ctx, accountID)
		}
		if errors.Is(errApply, ErrVersionConflict) {
			continue
		}
		return nil, errApply
	}
	return nil, ErrVersionConflict
}

// ConsumeQuota increments usage_count by one iff it is still below the
// limit. The conditional update is the atomicity guarantee: concurrent
// deliveries to the same account cannot lose increments or pass the limit.
func (s *Store) ConsumeQuota(ctx context.Context, accountID uint64, limit int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND usage_count < ?", accountID, limit).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"version":     gorm.Expr("version + ?", 1),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("ledger: consume quota for account %d: %w", accountID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ForceConsume increments usage_count unconditionally. Used when a
// remediation purchase has already covered the in-flight message.
func (s *Store) ForceConsume(ctx context.Context, accountID uint64) error {
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"version":     gorm.Expr("version + ?", 1),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: force consume for account %d: %w", accountID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
