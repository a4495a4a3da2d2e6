package models

import "time"

// PaymentFailure records one failed invoice attempt. Rows are superseded,
// never deleted, once a subsequent payment succeeds.
type PaymentFailure struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;index"` // Related account ID.

	InvoiceRef    string `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_failures_invoice_attempt,priority:1"` // Processor invoice identifier.
	AttemptNumber int    `gorm:"not null;uniqueIndex:ux_payment_failures_invoice_attempt,priority:2"`                   // Processor-supplied attempt count.
	FailureReason string `gorm:"type:text"`                                                                             // Processor failure message.

	Superseded bool `gorm:"not null;default:false"` // Set after a later successful payment.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
