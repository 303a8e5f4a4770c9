package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

var hundred = decimal.NewFromInt(100)

// Service owns posting, payment application, voiding and balance derivation.
// The ledger is append-only: posted transactions are never edited, and
// voiding inserts a reversing transaction so every historical report stays
// reproducible.
type Service struct {
	storage store.Storage
	epsilon decimal.Decimal
}

// NewService creates a ledger Service. epsilon is the maximum tolerated
// debit/credit difference when balancing.
func NewService(s store.Storage, epsilon decimal.Decimal) *Service {
	return &Service{storage: s, epsilon: epsilon}
}

// Post validates and commits a transaction. It fails with
// UnbalancedEntriesError if debit and credit totals differ beyond epsilon,
// and with InactiveAccountError/InactiveFundError if any referenced account
// or fund is inactive. On success the status becomes POSTED and the
// transaction is immutable except for payment application and voiding.
func (s *Service) Post(t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = models.TxDraft
	}
	if t.Kind == "" {
		t.Kind = models.KindStandard
	}
	if !t.Status.CanTransition(models.TxPosted) {
		return models.TransitionError{Entity: "transaction", ID: t.ID, From: string(t.Status), To: string(models.TxPosted)}
	}
	if err := s.validateEntries(t); err != nil {
		return err
	}

	now := time.Now()
	for i := range t.Entries {
		if t.Entries[i].ID == uuid.Nil {
			t.Entries[i].ID = uuid.New()
		}
		t.Entries[i].TransactionID = t.ID
	}
	if (t.Kind == models.KindBill || t.Kind == models.KindInvoice) && t.AmountDue.IsZero() {
		t.AmountDue = t.DebitTotal()
	}
	prev := t.Status
	t.Status = models.TxPosted
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if err := s.storage.CreateTransaction(t); err != nil {
		// nothing persisted, so the caller's copy must not claim POSTED
		t.Status = prev
		return fmt.Errorf("storing transaction: %w", err)
	}
	log.Infof("posted transaction %s (%s) for %s", t.ID, t.Kind, t.DebitTotal().StringFixed(2))
	return nil
}

/// validateEntries enforces the balancing invariants before any mutation:
// each entry carries exactly one positive side with at most 2 decimal
// places, debit and credit totals agree within epsilon, and every referenced
// account and fund exists and is active.
func (s *Service) validateEntries(t *models.Transaction) error {
	if len(t.Entries) < 2 {
		return models.InvalidEntryError{TransactionID: t.ID, Reason: "transaction needs at least two entries"}
	}
	for _, e := range t.Entries {
		hasDebit := !e.Debit.IsZero()
		hasCredit := !e.Credit.IsZero()
		if hasDebit == hasCredit {
			return models.InvalidEntryError{TransactionID: t.ID, AccountID: e.AccountID, Reason: "entry must have exactly one of debit or credit"}
		}
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return models.InvalidEntryError{TransactionID: t.ID, AccountID: e.AccountID, Reason: "entry amounts must be positive"}
		}
		if !centPrecise(e.Debit) || !centPrecise(e.Credit) {
			return models.InvalidEntryError{TransactionID: t.ID, AccountID: e.AccountID, Reason: "entry amounts must have at most 2 decimal places"}
		}
	}

	debits, credits := t.DebitTotal(), t.CreditTotal()
	if debits.Sub(credits).Abs().GreaterThan(s.epsilon) {
		return models.UnbalancedEntriesError{TransactionID: t.ID, DebitTotal: debits, CreditTotal: credits}
	}

	seenAccounts := make(map[uuid.UUID]bool)
	seenFunds := make(map[uuid.UUID]bool)
	for _, e := range t.Entries {
		if !seenAccounts[e.AccountID] {
			seenAccounts[e.AccountID] = true
			a, err := s.storage.GetAccount(e.AccountID)
			if err != nil || !a.Active {
				return models.InactiveAccountError{AccountID: e.AccountID}
			}
		}
		if !seenFunds[e.FundID] {
			seenFunds[e.FundID] = true
			f, err := s.storage.GetFund(e.FundID)
			if err != nil || !f.Active {
				return models.InactiveFundError{FundID: e.FundID}
			}
		}
	}
	return nil
}

// Validate runs the posting checks without committing, for callers that
// commit the transaction atomically with other state (batch processing,
// recurring generation).
func (s *Service) Validate(t *models.Transaction) error {
	return s.validateEntries(t)
}

// centPrecise reports whether d has at most 2 decimal places.
func centPrecise(d decimal.Decimal) bool {
	scaled := d.Mul(hundred)
	return scaled.Equal(scaled.Floor())
}

// ApplyPayment applies a payment against a posted bill or invoice. It fails
// with OverpaymentError if amount exceeds the outstanding balance, and
// updates AmountPaid and the PARTIALLY_PAID/PAID status atomically with the
// payment's own balanced entries. The settlement account is the cash/bank
// account the money moves through; the offset side is the transaction's open
// payable or receivable account.
func (s *Service) ApplyPayment(txID uuid.UUID, amount decimal.Decimal, date time.Time, settlementAccountID uuid.UUID) (*models.Transaction, error) {
	original, err := s.storage.GetTransaction(txID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.TxPosted && original.Status != models.TxPartiallyPaid {
		return nil, models.TransitionError{Entity: "transaction", ID: txID, From: string(original.Status), To: string(models.TxPaid)}
	}
	if amount.IsNegative() || amount.IsZero() || !centPrecise(amount) {
		return nil, models.InvalidEntryError{TransactionID: txID, Reason: "payment amount must be a positive cent amount"}
	}
	outstanding := original.Outstanding()
	if amount.Sub(outstanding).GreaterThan(s.epsilon) {
		return nil, models.OverpaymentError{TransactionID: txID, Amount: amount, Outstanding: outstanding}
	}

	offset, err := openSideEntry(original)
	if err != nil {
		return nil, err
	}

	payment := &models.Transaction{
		ID:          uuid.New(),
		Date:        date,
		Description: fmt.Sprintf("Payment on %s", original.Description),
		Reference:   original.ID.String(),
		Kind:        models.KindPayment,
		Status:      models.TxDraft,
	}
	if original.Kind == models.KindInvoice {
		// Money in: debit the bank, credit the receivable.
		payment.Entries = []models.Entry{
			{AccountID: settlementAccountID, FundID: offset.FundID, Debit: amount},
			{AccountID: offset.AccountID, FundID: offset.FundID, Credit: amount},
		}
	} else {
		// Money out: debit the payable, credit the bank.
		payment.Entries = []models.Entry{
			{AccountID: offset.AccountID, FundID: offset.FundID, Debit: amount},
			{AccountID: settlementAccountID, FundID: offset.FundID, Credit: amount},
		}
	}
	if err := s.validateEntries(payment); err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range payment.Entries {
		payment.Entries[i].ID = uuid.New()
		payment.Entries[i].TransactionID = payment.ID
	}
	payment.Status = models.TxPosted
	payment.CreatedAt = now
	payment.UpdatedAt = now

	original.AmountPaid = original.AmountPaid.Add(amount)
	if original.Outstanding().Abs().LessThanOrEqual(s.epsilon) {
		original.Status = models.TxPaid
	} else {
		original.Status = models.TxPartiallyPaid
	}
	original.UpdatedAt = now

	if err := s.storage.SavePayment(payment, original); err != nil {
		return nil, fmt.Errorf("storing payment: %w", err)
	}
	log.Infof("applied payment %s of %s to transaction %s (now %s)",
		payment.ID, amount.StringFixed(2), original.ID, original.Status)
	return payment, nil
}

// openSideEntry picks the entry holding the transaction's open balance: the
// credit side for bills (the payable), the debit side for invoices (the
// receivable).
func openSideEntry(t *models.Transaction) (*models.Entry, error) {
	for i := range t.Entries {
		e := &t.Entries[i]
		if t.Kind == models.KindInvoice && !e.Debit.IsZero() {
			return e, nil
		}
		if t.Kind != models.KindInvoice && !e.Credit.IsZero() {
			return e, nil
		}
	}
	return nil, models.InvalidEntryError{TransactionID: t.ID, Reason: "no open-side entry to settle against"}
}

// Void reverses a posted transaction by inserting an equal and opposite
// transaction and marking the original VOIDED. History is never edited.
// Voiding is only legal from POSTED/PARTIALLY_PAID while no payments remain
// applied.
func (s *Service) Void(txID uuid.UUID, date time.Time) (*models.Transaction, error) {
	original, err := s.storage.GetTransaction(txID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.TxPosted && original.Status != models.TxPartiallyPaid {
		return nil, models.TransitionError{Entity: "transaction", ID: txID, From: string(original.Status), To: string(models.TxVoided)}
	}
	if !original.AmountPaid.IsZero() {
		return nil, models.TransitionError{Entity: "transaction", ID: txID, From: string(original.Status), To: string(models.TxVoided)}
	}

	now := time.Now()
	reversal := &models.Transaction{
		ID:          uuid.New(),
		Date:        date,
		Description: fmt.Sprintf("Reversal of %s", original.Description),
		Reference:   original.ID.String(),
		Kind:        models.KindReversal,
		Status:      models.TxPosted,
		ReversesID:  &original.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, e := range original.Entries {
		reversal.Entries = append(reversal.Entries, models.Entry{
			ID:            uuid.New(),
			TransactionID: reversal.ID,
			AccountID:     e.AccountID,
			FundID:        e.FundID,
			Debit:         e.Credit,
			Credit:        e.Debit,
			Memo:          e.Memo,
		})
	}

	original.Status = models.TxVoided
	original.UpdatedAt = now

	if err := s.storage.SaveReversal(reversal, original); err != nil {
		return nil, fmt.Errorf("storing reversal: %w", err)
	}
	log.Infof("voided transaction %s with reversal %s", original.ID, reversal.ID)
	return reversal, nil
}

// FundBalance derives the fund's balance from posted entries dated at or
// before asOf. It never mutates and never trusts a stored balance.
func (s *Service) FundBalance(fundID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	entries, err := s.storage.EntriesByFund(fundID, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	types, err := s.accountTypes()
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.BalanceEffect(types[e.AccountID]))
	}
	return balance, nil
}

// AccountBalance derives an account's balance on its normal side: debit
// balances for assets and expenses, credit balances for the rest.
func (s *Service) AccountBalance(accountID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	a, err := s.storage.GetAccount(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	entries, err := s.storage.EntriesThrough(asOf)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		switch a.Type {
		case models.AccountAsset, models.AccountExpense:
			balance = balance.Add(e.Debit).Sub(e.Credit)
		default:
			balance = balance.Add(e.Credit).Sub(e.Debit)
		}
	}
	return balance, nil
}

// accountTypes maps account ids to their types for balance derivation.
func (s *Service) accountTypes() (map[uuid.UUID]models.AccountType, error) {
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		return nil, err
	}
	types := make(map[uuid.UUID]models.AccountType, len(accounts))
	for _, a := range accounts {
		types[a.ID] = a.Type
	}
	return types, nil
}

// Transaction returns one transaction with its entries.
func (s *Service) Transaction(id uuid.UUID) (*models.Transaction, error) {
	return s.storage.GetTransaction(id)
}

// Transactions returns all transactions, for report export.
func (s *Service) Transactions() ([]*models.Transaction, error) {
	return s.storage.ListTransactions()
}
