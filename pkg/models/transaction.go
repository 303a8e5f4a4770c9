package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
type TransactionStatus string

const (
	TxDraft           TransactionStatus = "DRAFT"
	TxPendingApproval TransactionStatus = "PENDING_APPROVAL"
	TxApproved        TransactionStatus = "APPROVED"
	TxPosted          TransactionStatus = "POSTED"
	TxPartiallyPaid   TransactionStatus = "PARTIALLY_PAID"
	TxPaid            TransactionStatus = "PAID"
	TxVoided          TransactionStatus = "VOIDED"
)

// txTransitions is the single transition table for transaction statuses.
// Illegal transitions are rejected here, not re-checked at call sites.
var txTransitions = map[TransactionStatus][]TransactionStatus{
	TxDraft:           {TxPendingApproval, TxPosted},
	TxPendingApproval: {TxApproved, TxDraft},
	TxApproved:        {TxPosted},
	TxPosted:          {TxPartiallyPaid, TxPaid, TxVoided},
	TxPartiallyPaid:   {TxPartiallyPaid, TxPaid, TxVoided},
	TxPaid:            {},
	TxVoided:          {},
}

// CanTransition reports whether moving from s to next is legal.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	for _, allowed := range txTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Posted reports whether the status is at or past POSTED, i.e. the
// transaction affects balances and is part of the immutable ledger.
func (s TransactionStatus) Posted() bool {
	switch s {
	case TxPosted, TxPartiallyPaid, TxPaid, TxVoided:
		return true
	}
	return false
}

// TransactionKind distinguishes what a transaction represents. Bills and
// invoices carry the counterparty/due-date fields; the ledger treats all
// kinds identically for balancing.
type TransactionKind string

const (
	KindStandard   TransactionKind = "STANDARD"
	KindBill       TransactionKind = "BILL"
	KindInvoice    TransactionKind = "INVOICE"
	KindTransfer   TransactionKind = "TRANSFER"
	KindAllocation TransactionKind = "ALLOCATION"
	KindPayment    TransactionKind = "PAYMENT"
	KindAdjustment TransactionKind = "ADJUSTMENT"
	KindReversal   TransactionKind = "REVERSAL"
)

// Transaction is a set of balanced entries. It owns its entries exclusively.
// Once posted it is immutable except for payment application and voiding.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	Date        time.Time         `json:"date"`
	Reference   string            `json:"reference,omitempty"`
	Description string            `json:"description"`
	Kind        TransactionKind   `json:"kind"`
	Status      TransactionStatus `json:"status"`

	// Bill/invoice fields. AmountPaid is derived from applied payments.
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`

	// ReversesID links a REVERSAL back to the transaction it voids.
	ReversesID *uuid.UUID `json:"reverses_id,omitempty"`

	Entries []Entry `json:"entries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one debit or credit line within a transaction, against one
// account and one fund. Exactly one of Debit/Credit is non-zero.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	FundID        uuid.UUID       `json:"fund_id"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Memo          string          `json:"memo,omitempty"`
}

// DebitTotal sums the debit side of all entries.
func (t *Transaction) DebitTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t.Entries {
		total = total.Add(e.Debit)
	}
	return total
}

// CreditTotal sums the credit side of all entries.
func (t *Transaction) CreditTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t.Entries {
		total = total.Add(e.Credit)
	}
	return total
}

// Outstanding is the unpaid remainder of a bill or invoice.
func (t *Transaction) Outstanding() decimal.Decimal {
	return t.AmountDue.Sub(t.AmountPaid)
}

// BalanceEffect is the entry's signed contribution to its fund's balance,
// given the type of the account it touches. Fund balance is net assets, so
// only asset and liability entries move it: assets increase with debits,
// liabilities decrease net assets when credited.
func (e Entry) BalanceEffect(accountType AccountType) decimal.Decimal {
	switch accountType {
	case AccountAsset, AccountLiability:
		return e.Debit.Sub(e.Credit)
	}
	return decimal.Zero
}
