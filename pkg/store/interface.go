package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/harlowe/fundbooks/pkg/models"
)

// Storage is the single source of truth for all accounting state. Every
// multi-row method is atomic: a concurrent reader never observes a partially
// applied transaction, batch, or generation.
type Storage interface {
	AccountStore
	FundStore
	TransactionStore
	RecurringStore
	TuitionStore
	ReconciliationStore

	Close() error
}

// AccountStore persists the chart of accounts.
type AccountStore interface {
	CreateAccount(a *models.Account) error
	GetAccount(id uuid.UUID) (*models.Account, error)
	UpdateAccount(a *models.Account) error
	ListAccounts() ([]*models.Account, error)
}

// FundStore persists funds.
type FundStore interface {
	CreateFund(f *models.Fund) error
	GetFund(id uuid.UUID) (*models.Fund, error)
	UpdateFund(f *models.Fund) error
	ListFunds() ([]*models.Fund, error)
}

// TransactionStore persists transactions and their entries. Transactions are
// append-only once posted; the only in-place updates are payment application
// and void status, and both happen atomically with the new transaction that
// justifies them.
type TransactionStore interface {
	// CreateTransaction inserts the transaction and all its entries in one
	// atomic step.
	CreateTransaction(t *models.Transaction) error
	GetTransaction(id uuid.UUID) (*models.Transaction, error)
	ListTransactions() ([]*models.Transaction, error)
	// TransactionsByAccount returns posted transactions with at least one
	// entry against the account, dated within [from, to].
	TransactionsByAccount(accountID uuid.UUID, from, to time.Time) ([]*models.Transaction, error)
	// EntriesByFund returns entries of posted transactions in the fund, dated
	// at or before asOf.
	EntriesByFund(fundID uuid.UUID, asOf time.Time) ([]*models.Entry, error)
	// EntriesThrough returns entries of all posted transactions dated at or
	// before asOf.
	EntriesThrough(asOf time.Time) ([]*models.Entry, error)
	// SavePayment inserts the payment transaction and updates the paid
	// transaction's amount/status in one atomic step.
	SavePayment(payment, updated *models.Transaction) error
	// SaveReversal inserts the reversing transaction and marks the original
	// voided in one atomic step.
	SaveReversal(reversal, original *models.Transaction) error
}

// RecurringStore persists recurrence templates.
type RecurringStore interface {
	CreateTemplate(t *models.RecurringTemplate) error
	GetTemplate(id uuid.UUID) (*models.RecurringTemplate, error)
	UpdateTemplate(t *models.RecurringTemplate) error
	// DueTemplates returns active templates with NextGenerationDate <= asOf.
	DueTemplates(asOf time.Time) ([]*models.RecurringTemplate, error)
	// GenerateFromTemplate inserts the generated document and advances the
	// template in one atomic step. It fails with DuplicateGenerationError
	// unless the stored template's NextGenerationDate still equals dueDate,
	// so retries after a timeout cannot double-generate.
	GenerateFromTemplate(doc *models.Transaction, tpl *models.RecurringTemplate, dueDate time.Time) error
}

// TuitionStore persists tuition credits, batches and provider payments.
type TuitionStore interface {
	CreateCredit(c *models.TuitionCredit) error
	GetCredit(id uuid.UUID) (*models.TuitionCredit, error)
	UpdateCredit(c *models.TuitionCredit) error
	ListCreditsByProvider(providerID uuid.UUID) ([]*models.TuitionCredit, error)

	CreateBatch(b *models.TuitionCreditBatch) error
	// CreateBatchWithMembers inserts the batch and binds every member credit
	// to it in one atomic step. Membership is re-validated against stored
	// state: a member that is not APPROVED or already belongs to a batch
	// fails the whole operation and nothing changes.
	CreateBatchWithMembers(b *models.TuitionCreditBatch, credits []*models.TuitionCredit) error
	GetBatch(id uuid.UUID) (*models.TuitionCreditBatch, error)
	UpdateBatch(b *models.TuitionCreditBatch) error
	// ProcessBatch transitions every member credit and the batch itself to
	// PROCESSED and posts the recognition transaction, all in one atomic
	// step. If any member cannot transition, nothing changes.
	ProcessBatch(b *models.TuitionCreditBatch, credits []*models.TuitionCredit, recognition *models.Transaction) error

	CreatePayment(p *models.ProviderPayment, consumed []*models.TuitionCredit) error
	GetPayment(id uuid.UUID) (*models.ProviderPayment, error)
	UpdatePayment(p *models.ProviderPayment) error
	// CompletePayment marks the payment completed, moves consumed credits to
	// PAID and posts the settlement transaction atomically.
	CompletePayment(p *models.ProviderPayment, credits []*models.TuitionCredit, settlement *models.Transaction) error
	// ReleaseCredits clears the consumed-by marker on a failed or voided
	// payment's credits atomically with the payment update.
	ReleaseCredits(p *models.ProviderPayment, credits []*models.TuitionCredit) error
	// SaveCreditAdjustment inserts the adjustment credit and voids the
	// original in one atomic step.
	SaveCreditAdjustment(adjustment, original *models.TuitionCredit) error
}

// ReconciliationStore persists reconciliation sessions and their statement
// lines.
type ReconciliationStore interface {
	CreateReconciliation(r *models.BankReconciliation) error
	GetReconciliation(id uuid.UUID) (*models.BankReconciliation, error)
	UpdateReconciliation(r *models.BankReconciliation) error
	// ActiveReconciliation returns the IN_PROGRESS session for the bank
	// account, or nil when there is none.
	ActiveReconciliation(bankAccountID uuid.UUID) (*models.BankReconciliation, error)

	CreateBankTransactions(lines []*models.BankTransaction) error
	GetBankTransaction(id uuid.UUID) (*models.BankTransaction, error)
	ListBankTransactions(reconciliationID uuid.UUID) ([]*models.BankTransaction, error)
	// SaveMatch updates the bank line and the session status in one atomic
	// step.
	SaveMatch(bt *models.BankTransaction, r *models.BankReconciliation) error
	// SaveBankAdjustment inserts the adjustment transaction and updates the
	// bank line and session atomically.
	SaveBankAdjustment(adjustment *models.Transaction, bt *models.BankTransaction, r *models.BankReconciliation) error
	// CompleteReconciliation marks the session completed and every line
	// reconciled in one atomic step.
	CompleteReconciliation(r *models.BankReconciliation, lines []*models.BankTransaction) error
}
