package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Every rejected operation returns one of the typed errors below carrying the
// ids and amounts involved, so callers can render an actionable message.
// Validation and state-guard errors are raised before any mutation; no error
// ever leaves the ledger unbalanced.

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UnbalancedEntriesError rejects a transaction whose debit and credit totals
// differ by more than the configured epsilon.
type UnbalancedEntriesError struct {
	TransactionID uuid.UUID
	DebitTotal    decimal.Decimal
	CreditTotal   decimal.Decimal
}

func (e UnbalancedEntriesError) Error() string {
	return fmt.Sprintf("transaction %s unbalanced: debits %s != credits %s",
		e.TransactionID, e.DebitTotal.StringFixed(2), e.CreditTotal.StringFixed(2))
}

// InvalidEntryError rejects an entry that does not carry exactly one non-zero
// side, or carries sub-cent precision.
type InvalidEntryError struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Reason        string
}

func (e InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid entry on account %s in transaction %s: %s",
		e.AccountID, e.TransactionID, e.Reason)
}

// InactiveAccountError rejects a posting that references an inactive or
// unknown account.
type InactiveAccountError struct {
	AccountID uuid.UUID
}

func (e InactiveAccountError) Error() string {
	return fmt.Sprintf("account %s is inactive", e.AccountID)
}

// InactiveFundError rejects a posting that references an inactive or unknown
// fund.
type InactiveFundError struct {
	FundID uuid.UUID
}

func (e InactiveFundError) Error() string {
	return fmt.Sprintf("fund %s is inactive", e.FundID)
}

// OverpaymentError rejects a payment exceeding the outstanding balance.
type OverpaymentError struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Outstanding   decimal.Decimal
}

func (e OverpaymentError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding %s on transaction %s",
		e.Amount.StringFixed(2), e.Outstanding.StringFixed(2), e.TransactionID)
}

// TransitionError rejects an illegal lifecycle transition.
type TransitionError struct {
	Entity string
	ID     uuid.UUID
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// SameFundError rejects a transfer whose source and destination coincide.
type SameFundError struct {
	FundID uuid.UUID
}

func (e SameFundError) Error() string {
	return fmt.Sprintf("transfer source and destination are the same fund %s", e.FundID)
}

// InsufficientFundBalanceError rejects a transfer that would overdraw the
// source fund under its restriction policy.
type InsufficientFundBalanceError struct {
	FundID  uuid.UUID
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (e InsufficientFundBalanceError) Error() string {
	return fmt.Sprintf("fund %s balance %s is insufficient for %s",
		e.FundID, e.Balance.StringFixed(2), e.Amount.StringFixed(2))
}

// UnbalancedAllocationError rejects an allocation whose signed amounts do not
// sum to zero.
type UnbalancedAllocationError struct {
	Sum decimal.Decimal
}

func (e UnbalancedAllocationError) Error() string {
	return fmt.Sprintf("allocation amounts sum to %s, want 0", e.Sum.StringFixed(2))
}

// InvalidSplitError rejects a tuition credit whose portions do not sum to the
// credit amount.
type InvalidSplitError struct {
	CreditID      uuid.UUID
	CreditAmount  decimal.Decimal
	DPPPortion    decimal.Decimal
	FamilyPortion decimal.Decimal
}

func (e InvalidSplitError) Error() string {
	return fmt.Sprintf("credit %s split %s + %s != %s",
		e.CreditID, e.DPPPortion.StringFixed(2), e.FamilyPortion.StringFixed(2), e.CreditAmount.StringFixed(2))
}

// CreditConsumedError rejects consuming a credit already taken by a payment.
type CreditConsumedError struct {
	CreditID  uuid.UUID
	PaymentID uuid.UUID
}

func (e CreditConsumedError) Error() string {
	return fmt.Sprintf("credit %s already consumed by payment %s", e.CreditID, e.PaymentID)
}

// DuplicateGenerationError rejects generating a recurring document twice for
// the same due date, so callers can tell "already done" from "succeeded".
type DuplicateGenerationError struct {
	TemplateID uuid.UUID
	DueDate    string
}

func (e DuplicateGenerationError) Error() string {
	return fmt.Sprintf("template %s already generated for %s", e.TemplateID, e.DueDate)
}

// AmountMismatchError rejects matching a bank line to a ledger transaction
// whose amount differs beyond the configured epsilon.
type AmountMismatchError struct {
	BankTransactionID uuid.UUID
	BankAmount        decimal.Decimal
	LedgerAmount      decimal.Decimal
}

func (e AmountMismatchError) Error() string {
	return fmt.Sprintf("bank line %s amount %s does not match ledger amount %s",
		e.BankTransactionID, e.BankAmount.StringFixed(2), e.LedgerAmount.StringFixed(2))
}

// UnbalancedReconciliationError rejects completing a session with unmatched
// lines or a book balance that disagrees with the statement.
type UnbalancedReconciliationError struct {
	ReconciliationID uuid.UUID
	BookBalance      decimal.Decimal
	StatementBalance decimal.Decimal
	UnmatchedLines   int
}

func (e UnbalancedReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation %s cannot complete: book %s vs statement %s, %d unmatched lines",
		e.ReconciliationID, e.BookBalance.StringFixed(2), e.StatementBalance.StringFixed(2), e.UnmatchedLines)
}

// AlreadyInProgressError rejects starting work on a second reconciliation for
// a bank account that already has one in progress.
type AlreadyInProgressError struct {
	BankAccountID    uuid.UUID
	ReconciliationID uuid.UUID
}

func (e AlreadyInProgressError) Error() string {
	return fmt.Sprintf("bank account %s already has reconciliation %s in progress",
		e.BankAccountID, e.ReconciliationID)
}
