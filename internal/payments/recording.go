package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrRecordingFailure is returned when a recording processor is configured
// to fail, standing in for a declined or unreachable processor.
var ErrRecordingFailure = errors.New("payments: recording processor configured to fail")

// RecordingProcessor records processor calls without placing them. It is
// the non-live Processor implementation, selected once at composition time
// for local runs and tests.
type RecordingProcessor struct {
	mu sync.Mutex

	Subscriptions []CreateSubscriptionParams
	Charges       []OverageChargeParams

	// Known subscriptions served by GetSubscription, keyed by ref.
	Details map[string]*SubscriptionDetail

	FailSubscriptions bool
	FailCharges       bool
}

// NewRecordingProcessor constructs an empty RecordingProcessor.
func NewRecordingProcessor() *RecordingProcessor {
	return &RecordingProcessor{Details: make(map[string]*SubscriptionDetail)}
}

// CreateSubscription records the request and fabricates a subscription ref.
func (p *RecordingProcessor) CreateSubscription(_ context.Context, params CreateSubscriptionParams) (*SubscriptionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSubscriptions {
		return nil, ErrRecordingFailure
	}
	p.Subscriptions = append(p.Subscriptions, params)
	ref := "sub_" + uuid.NewString()
	p.Details[ref] = &SubscriptionDetail{
		SubscriptionRef: ref,
		CustomerRef:     params.CustomerRef,
		PriceID:         params.PriceID,
		Status:          "active",
		Metadata:        params.Metadata,
	}
	return &SubscriptionResult{SubscriptionRef: ref, Status: "active"}, nil
}

// CreateOverageCharge records the request and fabricates a charge ref.
func (p *RecordingProcessor) CreateOverageCharge(_ context.Context, params OverageChargeParams) (*ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCharges {
		return nil, ErrRecordingFailure
	}
	p.Charges = append(p.Charges, params)
	return &ChargeResult{ChargeRef: "ch_" + uuid.NewString(), AmountCents: params.AmountCents}, nil
}

// GetSubscription serves previously recorded or seeded subscriptions.
func (p *RecordingProcessor) GetSubscription(_ context.Context, subscriptionRef string) (*SubscriptionDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	detail, ok := p.Details[subscriptionRef]
	if !ok {
		return nil, fmt.Errorf("payments: unknown subscription %s", subscriptionRef)
	}
	return detail, nil
}

// Seed registers a subscription detail served by GetSubscription.
func (p *RecordingProcessor) Seed(detail *SubscriptionDetail) {
	if detail == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Details[detail.SubscriptionRef] = detail
}

// Ensure RecordingProcessor implements Processor.
var _ Processor = (*RecordingProcessor)(nil)
