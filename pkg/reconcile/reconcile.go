package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

// AdjustmentType says which side of the books a statement-only line belongs
// to.
type AdjustmentType string

const (
	AdjustmentExpense AdjustmentType = "expense"
	AdjustmentRevenue AdjustmentType = "revenue"
)

// Service matches bank statement lines against ledger transactions and
// tracks a reconciliation session to completion. At most one session per
// bank account may be IN_PROGRESS at a time.
type Service struct {
	storage store.Storage
	ledger  *ledger.Service
	locks   *locker

	windowDays      int
	epsilon         decimal.Decimal
	amountTolerance decimal.Decimal
}

// NewService creates a reconciliation Service. windowDays is the +/- window
// around a statement line's date when searching candidates; epsilon bounds
// amount agreement for matching and completion; amountTolerance bounds how
// far candidate amounts may stray.
func NewService(s store.Storage, l *ledger.Service, windowDays int, epsilon, amountTolerance decimal.Decimal) *Service {
	return &Service{
		storage:         s,
		ledger:          l,
		locks:           newLocker(),
		windowDays:      windowDays,
		epsilon:         epsilon,
		amountTolerance: amountTolerance,
	}
}

// Start opens a DRAFT session for one statement period of a bank account.
func (s *Service) Start(bankAccountID uuid.UUID, statementBalance decimal.Decimal, startDate, endDate time.Time) (*models.BankReconciliation, error) {
	if _, err := s.storage.GetAccount(bankAccountID); err != nil {
		return nil, err
	}
	if endDate.Before(startDate) {
		return nil, fmt.Errorf("statement period ends before it starts")
	}
	now := time.Now()
	r := &models.BankReconciliation{
		ID:               uuid.New(),
		BankAccountID:    bankAccountID,
		StatementBalance: statementBalance,
		StartDate:        startDate,
		EndDate:          endDate,
		Status:           models.ReconciliationDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.storage.CreateReconciliation(r); err != nil {
		return nil, fmt.Errorf("storing reconciliation: %w", err)
	}
	log.Infof("started reconciliation %s for account %s", r.ID, bankAccountID)
	return r, nil
}

// ImportStatement turns raw statement lines into UNMATCHED bank transactions
// owned by the session. Format parsing (CSV/OFX) happens before this call.
func (s *Service) ImportStatement(sessionID uuid.UUID, lines []models.StatementLine) ([]*models.BankTransaction, error) {
	r, err := s.storage.GetReconciliation(sessionID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.ReconciliationCompleted {
		return nil, models.TransitionError{Entity: "reconciliation", ID: sessionID, From: string(r.Status), To: string(models.ReconciliationInProgress)}
	}
	now := time.Now()
	bts := make([]*models.BankTransaction, 0, len(lines))
	for _, line := range lines {
		bts = append(bts, &models.BankTransaction{
			ID:               uuid.New(),
			ReconciliationID: sessionID,
			Date:             line.Date,
			Description:      line.Description,
			Amount:           line.Amount,
			MatchStatus:      models.MatchUnmatched,
			CreatedAt:        now,
		})
	}
	if err := s.storage.CreateBankTransactions(bts); err != nil {
		return nil, fmt.Errorf("storing statement lines: %w", err)
	}
	log.Infof("imported %d statement lines into reconciliation %s", len(bts), sessionID)
	return bts, nil
}

// Candidate is one possible ledger match for a statement line, with its
// signed effect on the bank account.
type Candidate struct {
	Transaction *models.Transaction `json:"transaction"`
	Amount      decimal.Decimal     `json:"amount"`
}

// FindMatchCandidates returns ledger transactions touching the session's
// bank account whose signed effect is near the statement line's amount,
// within the date window, ordered by closeness of amount then date. Pure
// read, no side effects.
func (s *Service) FindMatchCandidates(bankTxID uuid.UUID) ([]Candidate, error) {
	bt, err := s.storage.GetBankTransaction(bankTxID)
	if err != nil {
		return nil, err
	}
	r, err := s.storage.GetReconciliation(bt.ReconciliationID)
	if err != nil {
		return nil, err
	}
	from := bt.Date.AddDate(0, 0, -s.windowDays)
	to := bt.Date.AddDate(0, 0, s.windowDays)
	txs, err := s.storage.TransactionsByAccount(r.BankAccountID, from, to)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, t := range txs {
		effect := bankEffect(t, r.BankAccountID)
		if effect.Sub(bt.Amount).Abs().GreaterThan(s.amountTolerance) {
			continue
		}
		candidates = append(candidates, Candidate{Transaction: t, Amount: effect})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].Amount.Sub(bt.Amount).Abs()
		dj := candidates[j].Amount.Sub(bt.Amount).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		gi := dateGap(candidates[i].Transaction.Date, bt.Date)
		gj := dateGap(candidates[j].Transaction.Date, bt.Date)
		return gi < gj
	})
	return candidates, nil
}

// bankEffect is the transaction's signed effect on the bank account: debits
// bring money in, credits send it out, matching the statement's sign
// convention.
func bankEffect(t *models.Transaction, bankAccountID uuid.UUID) decimal.Decimal {
	effect := decimal.Zero
	for _, e := range t.Entries {
		if e.AccountID == bankAccountID {
			effect = effect.Add(e.Debit).Sub(e.Credit)
		}
	}
	return effect
}

func dateGap(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}

// Match links a statement line to a ledger transaction. It fails with
// AmountMismatchError when the amounts disagree beyond epsilon. The first
// match of a session moves it DRAFT -> IN_PROGRESS.
func (s *Service) Match(bankTxID, ledgerTxID uuid.UUID) error {
	bt, err := s.storage.GetBankTransaction(bankTxID)
	if err != nil {
		return err
	}
	if bt.MatchStatus != models.MatchUnmatched {
		return models.TransitionError{Entity: "bank transaction", ID: bankTxID, From: string(bt.MatchStatus), To: string(models.MatchMatched)}
	}
	r, err := s.storage.GetReconciliation(bt.ReconciliationID)
	if err != nil {
		return err
	}
	t, err := s.storage.GetTransaction(ledgerTxID)
	if err != nil {
		return err
	}
	effect := bankEffect(t, r.BankAccountID)
	if effect.Sub(bt.Amount).Abs().GreaterThan(s.epsilon) {
		return models.AmountMismatchError{BankTransactionID: bankTxID, BankAmount: bt.Amount, LedgerAmount: effect}
	}

	acquired, err := s.ensureInProgress(r)
	if err != nil {
		return err
	}
	bt.MatchStatus = models.MatchMatched
	bt.MatchedTransactionID = &ledgerTxID
	r.UpdatedAt = time.Now()
	if err := s.storage.SaveMatch(bt, r); err != nil {
		if acquired {
			// the session is still DRAFT in the store
			s.locks.release(r.BankAccountID)
		}
		return fmt.Errorf("storing match: %w", err)
	}
	log.Infof("matched bank line %s to transaction %s", bankTxID, ledgerTxID)
	return nil
}

// CreateAdjustment posts a balanced transaction (bank fee, interest income)
// for a statement line with no pre-existing ledger counterpart, and matches
// the line against it.
func (s *Service) CreateAdjustment(bankTxID, accountID, fundID uuid.UUID, kind AdjustmentType) (*models.Transaction, error) {
	bt, err := s.storage.GetBankTransaction(bankTxID)
	if err != nil {
		return nil, err
	}
	if bt.MatchStatus != models.MatchUnmatched {
		return nil, models.TransitionError{Entity: "bank transaction", ID: bankTxID, From: string(bt.MatchStatus), To: string(models.MatchMatched)}
	}
	r, err := s.storage.GetReconciliation(bt.ReconciliationID)
	if err != nil {
		return nil, err
	}

	amount := bt.Amount.Abs()
	now := time.Now()
	adj := &models.Transaction{
		ID:          uuid.New(),
		Date:        bt.Date,
		Description: fmt.Sprintf("Reconciliation adjustment: %s", bt.Description),
		Reference:   bt.ID.String(),
		Kind:        models.KindAdjustment,
		Status:      models.TxPosted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if kind == AdjustmentExpense {
		// Money left the bank: debit the expense, credit the bank.
		adj.Entries = []models.Entry{
			{AccountID: accountID, FundID: fundID, Debit: amount},
			{AccountID: r.BankAccountID, FundID: fundID, Credit: amount},
		}
	} else {
		// Money arrived: debit the bank, credit the revenue.
		adj.Entries = []models.Entry{
			{AccountID: r.BankAccountID, FundID: fundID, Debit: amount},
			{AccountID: accountID, FundID: fundID, Credit: amount},
		}
	}
	for i := range adj.Entries {
		adj.Entries[i].ID = uuid.New()
		adj.Entries[i].TransactionID = adj.ID
	}
	check := *adj
	check.Status = models.TxDraft
	entries := make([]models.Entry, len(adj.Entries))
	copy(entries, adj.Entries)
	check.Entries = entries
	if err := s.ledger.Validate(&check); err != nil {
		return nil, err
	}

	acquired, err := s.ensureInProgress(r)
	if err != nil {
		return nil, err
	}
	bt.MatchStatus = models.MatchMatched
	bt.MatchedTransactionID = &adj.ID
	r.UpdatedAt = now
	if err := s.storage.SaveBankAdjustment(adj, bt, r); err != nil {
		if acquired {
			s.locks.release(r.BankAccountID)
		}
		return nil, fmt.Errorf("storing adjustment: %w", err)
	}
	log.Infof("created %s adjustment %s for bank line %s", kind, adj.ID, bankTxID)
	return adj, nil
}

// MarkReconciled closes a statement line that is correct but intentionally
// has no ledger counterpart, bypassing match and adjustment.
func (s *Service) MarkReconciled(bankTxID uuid.UUID) error {
	bt, err := s.storage.GetBankTransaction(bankTxID)
	if err != nil {
		return err
	}
	if bt.MatchStatus != models.MatchUnmatched {
		return models.TransitionError{Entity: "bank transaction", ID: bankTxID, From: string(bt.MatchStatus), To: string(models.MatchReconciled)}
	}
	r, err := s.storage.GetReconciliation(bt.ReconciliationID)
	if err != nil {
		return err
	}
	acquired, err := s.ensureInProgress(r)
	if err != nil {
		return err
	}
	bt.MatchStatus = models.MatchReconciled
	r.UpdatedAt = time.Now()
	if err := s.storage.SaveMatch(bt, r); err != nil {
		if acquired {
			s.locks.release(r.BankAccountID)
		}
		return fmt.Errorf("storing reconciled line: %w", err)
	}
	return nil
}

// ensureInProgress moves a DRAFT session to IN_PROGRESS, enforcing the
// one-active-session-per-account rule against both the in-memory lock and
// the store. It reports whether this call acquired the account lock, so the
// caller can release it again if the write that justifies the transition
// fails and the session stays DRAFT in the store.
func (s *Service) ensureInProgress(r *models.BankReconciliation) (bool, error) {
	if r.Status == models.ReconciliationInProgress {
		return false, nil
	}
	if !r.Status.CanTransition(models.ReconciliationInProgress) {
		return false, models.TransitionError{Entity: "reconciliation", ID: r.ID, From: string(r.Status), To: string(models.ReconciliationInProgress)}
	}
	if holder, ok := s.locks.acquire(r.BankAccountID, r.ID); !ok {
		return false, models.AlreadyInProgressError{BankAccountID: r.BankAccountID, ReconciliationID: holder}
	}
	active, err := s.storage.ActiveReconciliation(r.BankAccountID)
	if err != nil {
		s.locks.release(r.BankAccountID)
		return false, err
	}
	if active != nil && active.ID != r.ID {
		s.locks.release(r.BankAccountID)
		return false, models.AlreadyInProgressError{BankAccountID: r.BankAccountID, ReconciliationID: active.ID}
	}
	r.Status = models.ReconciliationInProgress
	return true, nil
}

// Complete finishes the session. Every line must be MATCHED or RECONCILED
// and the book balance of the bank account at the statement end date must
// equal the statement balance within epsilon; otherwise it fails with
// UnbalancedReconciliationError and nothing changes.
func (s *Service) Complete(sessionID uuid.UUID) error {
	r, err := s.storage.GetReconciliation(sessionID)
	if err != nil {
		return err
	}
	if !r.Status.CanTransition(models.ReconciliationCompleted) {
		return models.TransitionError{Entity: "reconciliation", ID: sessionID, From: string(r.Status), To: string(models.ReconciliationCompleted)}
	}
	lines, err := s.storage.ListBankTransactions(sessionID)
	if err != nil {
		return err
	}
	unmatched := 0
	for _, bt := range lines {
		if bt.MatchStatus == models.MatchUnmatched {
			unmatched++
		}
	}
	book, err := s.ledger.AccountBalance(r.BankAccountID, r.EndDate)
	if err != nil {
		return err
	}
	if unmatched > 0 || book.Sub(r.StatementBalance).Abs().GreaterThan(s.epsilon) {
		return models.UnbalancedReconciliationError{
			ReconciliationID: sessionID,
			BookBalance:      book,
			StatementBalance: r.StatementBalance,
			UnmatchedLines:   unmatched,
		}
	}

	now := time.Now()
	for _, bt := range lines {
		bt.MatchStatus = models.MatchReconciled
	}
	r.Status = models.ReconciliationCompleted
	r.UpdatedAt = now
	if err := s.storage.CompleteReconciliation(r, lines); err != nil {
		return fmt.Errorf("completing reconciliation: %w", err)
	}
	s.locks.release(r.BankAccountID)
	log.Infof("completed reconciliation %s: book %s agrees with statement", sessionID, book.StringFixed(2))
	return nil
}

// Session returns one reconciliation session.
func (s *Service) Session(id uuid.UUID) (*models.BankReconciliation, error) {
	return s.storage.GetReconciliation(id)
}

// Lines returns the session's statement lines.
func (s *Service) Lines(sessionID uuid.UUID) ([]*models.BankTransaction, error) {
	return s.storage.ListBankTransactions(sessionID)
}
