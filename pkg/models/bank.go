package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchStatus is the reconciliation state of one statement line.
type MatchStatus string

const (
	MatchUnmatched  MatchStatus = "UNMATCHED"
	MatchMatched    MatchStatus = "MATCHED"
	MatchReconciled MatchStatus = "RECONCILED"
)

// BankTransaction is one externally supplied statement line. Amount is
// signed: negative means money left the bank account.
type BankTransaction struct {
	ID                   uuid.UUID       `json:"id"`
	ReconciliationID     uuid.UUID       `json:"reconciliation_id"`
	Date                 time.Time       `json:"date"`
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount"`
	MatchStatus          MatchStatus     `json:"match_status"`
	MatchedTransactionID *uuid.UUID      `json:"matched_transaction_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ReconciliationStatus is the state of a reconciliation session.
type ReconciliationStatus string

const (
	ReconciliationDraft      ReconciliationStatus = "DRAFT"
	ReconciliationInProgress ReconciliationStatus = "IN_PROGRESS"
	ReconciliationCompleted  ReconciliationStatus = "COMPLETED"
)

var reconciliationTransitions = map[ReconciliationStatus][]ReconciliationStatus{
	ReconciliationDraft:      {ReconciliationInProgress},
	ReconciliationInProgress: {ReconciliationCompleted},
	ReconciliationCompleted:  {},
}

// CanTransition reports whether moving from s to next is legal.
func (s ReconciliationStatus) CanTransition(next ReconciliationStatus) bool {
	for _, allowed := range reconciliationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BankReconciliation is a bounded session matching one statement period's
// lines against the ledger. At most one session per bank account may be
// IN_PROGRESS at a time.
type BankReconciliation struct {
	ID               uuid.UUID            `json:"id"`
	BankAccountID    uuid.UUID            `json:"bank_account_id"`
	StatementBalance decimal.Decimal      `json:"statement_balance"`
	StartDate        time.Time            `json:"start_date"`
	EndDate          time.Time            `json:"end_date"`
	Status           ReconciliationStatus `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// StatementLine is a raw imported statement row before it becomes a
// BankTransaction. Format parsing (CSV/OFX) happens outside this core.
type StatementLine struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}
