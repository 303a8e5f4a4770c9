package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditStatus is the lifecycle state of a tuition credit.
type CreditStatus string

const (
	CreditDraft           CreditStatus = "DRAFT"
	CreditPendingApproval CreditStatus = "PENDING_APPROVAL"
	CreditApproved        CreditStatus = "APPROVED"
	CreditProcessed       CreditStatus = "PROCESSED"
	CreditPaid            CreditStatus = "PAID"
	CreditRejected        CreditStatus = "REJECTED"
	CreditVoided          CreditStatus = "VOIDED"
)

var creditTransitions = map[CreditStatus][]CreditStatus{
	CreditDraft:           {CreditPendingApproval},
	CreditPendingApproval: {CreditApproved, CreditRejected},
	CreditApproved:        {CreditProcessed, CreditVoided},
	CreditProcessed:       {CreditPaid, CreditVoided},
	CreditPaid:            {},
	CreditRejected:        {},
	CreditVoided:          {},
}

// CanTransition reports whether moving from s to next is legal.
func (s CreditStatus) CanTransition(next CreditStatus) bool {
	for _, allowed := range creditTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TuitionCredit is one student/provider credit for a period. The split
// invariant DPPPortion + FamilyPortion == CreditAmount holds at all times.
// Voiding never deletes: an adjustment credit with equal and opposite
// amounts is issued instead.
type TuitionCredit struct {
	ID                uuid.UUID       `json:"id"`
	StudentID         uuid.UUID       `json:"student_id"`
	ProviderID        uuid.UUID       `json:"provider_id"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	CreditAmount      decimal.Decimal `json:"credit_amount"`
	DPPPortion        decimal.Decimal `json:"dpp_portion"`
	FamilyPortion     decimal.Decimal `json:"family_portion"`
	Status            CreditStatus    `json:"status"`
	IsAdjustment      bool            `json:"is_adjustment"`
	OriginalCreditID  *uuid.UUID      `json:"original_credit_id,omitempty"`
	BatchID           *uuid.UUID      `json:"batch_id,omitempty"`
	PaymentID         *uuid.UUID      `json:"payment_id,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	CreatedByID       uuid.UUID       `json:"created_by_id"`
	ApprovedByID      *uuid.UUID      `json:"approved_by_id,omitempty"`
	RejectedByID      *uuid.UUID      `json:"rejected_by_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SplitValid checks the split invariant.
func (c *TuitionCredit) SplitValid() bool {
	return c.DPPPortion.Add(c.FamilyPortion).Equal(c.CreditAmount)
}

// Consumed reports whether the credit has been taken by a provider payment.
func (c *TuitionCredit) Consumed() bool {
	return c.PaymentID != nil
}

// BatchStatus mirrors the approvable subset of credit statuses.
type BatchStatus string

const (
	BatchDraft           BatchStatus = "DRAFT"
	BatchPendingApproval BatchStatus = "PENDING_APPROVAL"
	BatchApproved        BatchStatus = "APPROVED"
	BatchProcessed       BatchStatus = "PROCESSED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchDraft:           {BatchPendingApproval},
	BatchPendingApproval: {BatchApproved},
	BatchApproved:        {BatchProcessed},
	BatchProcessed:       {},
}

// CanTransition reports whether moving from s to next is legal.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TuitionCreditBatch groups approved credits for processing. TotalAmount is
// the sum of member credits' DPP portions; ProviderIDs is derived from the
// members.
type TuitionCreditBatch struct {
	ID          uuid.UUID       `json:"id"`
	CreditIDs   []uuid.UUID     `json:"credit_ids"`
	ProviderIDs []uuid.UUID     `json:"provider_ids"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      BatchStatus     `json:"status"`
	CreatedByID uuid.UUID       `json:"created_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PaymentStatus is the lifecycle state of a provider payment.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentVoided     PaymentStatus = "VOIDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentVoided},
	PaymentProcessing: {PaymentCompleted, PaymentFailed},
	PaymentCompleted:  {},
	PaymentFailed:     {},
	PaymentVoided:     {},
}

// CanTransition reports whether moving from s to next is legal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProviderPayment pays out the DPP portion of a set of processed credits.
// A credit is consumed by at most one payment; credits become PAID only when
// the payment itself completes.
type ProviderPayment struct {
	ID          uuid.UUID       `json:"id"`
	ProviderID  uuid.UUID       `json:"provider_id"`
	Amount      decimal.Decimal `json:"amount"`
	CreditIDs   []uuid.UUID     `json:"credit_ids"`
	Status      PaymentStatus   `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
