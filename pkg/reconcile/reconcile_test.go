package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

var epsilon = decimal.RequireFromString("0.005")

type fixture struct {
	storage *store.MemoryStore
	ledger  *ledger.Service
	svc     *Service
	bank    *models.Account
	expense *models.Account
	revenue *models.Account
	fund    *models.Fund
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Now()
	f := &fixture{
		storage: s,
		bank:    &models.Account{ID: uuid.New(), Number: "1000", Name: "Checking", Type: models.AccountAsset, Active: true, CreatedAt: now, UpdatedAt: now},
		expense: &models.Account{ID: uuid.New(), Number: "5000", Name: "Expense", Type: models.AccountExpense, Active: true, CreatedAt: now, UpdatedAt: now},
		revenue: &models.Account{ID: uuid.New(), Number: "4000", Name: "Revenue", Type: models.AccountRevenue, Active: true, CreatedAt: now, UpdatedAt: now},
		fund:    &models.Fund{ID: uuid.New(), Name: "General", Type: models.FundGeneral, Active: true, CreatedAt: now, UpdatedAt: now},
	}
	for _, a := range []*models.Account{f.bank, f.expense, f.revenue} {
		require.NoError(t, s.CreateAccount(a))
	}
	require.NoError(t, s.CreateFund(f.fund))
	f.ledger = ledger.NewService(s, epsilon)
	f.svc = NewService(s, f.ledger, 5, epsilon, decimal.RequireFromString("10.00"))
	return f
}

// post records a transaction moving amount through the bank account.
// Positive amounts deposit, negative amounts pay out.
func (f *fixture) post(t *testing.T, amount string, date time.Time) *models.Transaction {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	tx := &models.Transaction{Date: date, Description: "bank movement"}
	if amt.IsNegative() {
		tx.Entries = []models.Entry{
			{AccountID: f.expense.ID, FundID: f.fund.ID, Debit: amt.Neg()},
			{AccountID: f.bank.ID, FundID: f.fund.ID, Credit: amt.Neg()},
		}
	} else {
		tx.Entries = []models.Entry{
			{AccountID: f.bank.ID, FundID: f.fund.ID, Debit: amt},
			{AccountID: f.revenue.ID, FundID: f.fund.ID, Credit: amt},
		}
	}
	require.NoError(t, f.ledger.Post(tx))
	return tx
}

func (f *fixture) session(t *testing.T, statementBalance string, start, end time.Time) *models.BankReconciliation {
	t.Helper()
	r, err := f.svc.Start(f.bank.ID, decimal.RequireFromString(statementBalance), start, end)
	require.NoError(t, err)
	return r
}

func (f *fixture) importLines(t *testing.T, sessionID uuid.UUID, lines ...models.StatementLine) []*models.BankTransaction {
	t.Helper()
	bts, err := f.svc.ImportStatement(sessionID, lines)
	require.NoError(t, err)
	return bts
}

func day(offset int) time.Time {
	return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestStart_ValidatesPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(f.bank.ID, decimal.Zero, day(0), day(-1))
	require.Error(t, err)

	_, err = f.svc.Start(uuid.New(), decimal.Zero, day(0), day(30))
	var notFound models.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFindMatchCandidates_OrdersByCloseness(t *testing.T) {
	f := newFixture(t)

	exact := f.post(t, "-45.00", day(0))
	near := f.post(t, "-44.00", day(1))
	f.post(t, "-500.00", day(0))  // outside amount tolerance
	f.post(t, "-45.00", day(10))  // outside date window
	deposit := f.post(t, "45.00", day(0))

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "check 204", Amount: decimal.RequireFromString("-45.00"),
	})

	candidates, err := f.svc.FindMatchCandidates(lines[0].ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, exact.ID, candidates[0].Transaction.ID)
	assert.True(t, candidates[0].Amount.Equal(decimal.RequireFromString("-45.00")))
	assert.Equal(t, near.ID, candidates[1].Transaction.ID)

	// the +45 deposit has the opposite sign, 90 away, never a candidate
	for _, c := range candidates {
		assert.NotEqual(t, deposit.ID, c.Transaction.ID)
	}
}

func TestMatch_LinksLineAndStartsSession(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "-45.00", day(0))

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "check 204", Amount: decimal.RequireFromString("-45.00"),
	})

	require.NoError(t, f.svc.Match(lines[0].ID, tx.ID))

	line, err := f.storage.GetBankTransaction(lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchMatched, line.MatchStatus)
	require.NotNil(t, line.MatchedTransactionID)
	assert.Equal(t, tx.ID, *line.MatchedTransactionID)

	session, err := f.svc.Session(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationInProgress, session.Status)

	// matching the same line twice is a conflict
	var transition models.TransitionError
	require.ErrorAs(t, f.svc.Match(lines[0].ID, tx.ID), &transition)
}

func TestMatch_AmountMismatchRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "-44.00", day(0))

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "check 204", Amount: decimal.RequireFromString("-45.00"),
	})

	err := f.svc.Match(lines[0].ID, tx.ID)
	var mismatch models.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.LedgerAmount.Equal(decimal.RequireFromString("-44.00")))
}

func TestMatch_SecondSessionBlocked(t *testing.T) {
	f := newFixture(t)
	tx1 := f.post(t, "-45.00", day(0))
	tx2 := f.post(t, "-20.00", day(0))

	first := f.session(t, "0", day(-30), day(30))
	firstLines := f.importLines(t, first.ID, models.StatementLine{
		Date: day(0), Description: "check 204", Amount: decimal.RequireFromString("-45.00"),
	})
	require.NoError(t, f.svc.Match(firstLines[0].ID, tx1.ID))

	second := f.session(t, "0", day(-30), day(30))
	secondLines := f.importLines(t, second.ID, models.StatementLine{
		Date: day(0), Description: "check 205", Amount: decimal.RequireFromString("-20.00"),
	})
	err := f.svc.Match(secondLines[0].ID, tx2.ID)
	var busy models.AlreadyInProgressError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, first.ID, busy.ReconciliationID)
}

func TestCreateAdjustment_ExpensePostsAndMatches(t *testing.T) {
	f := newFixture(t)

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "monthly service fee", Amount: decimal.RequireFromString("-12.00"),
	})

	adj, err := f.svc.CreateAdjustment(lines[0].ID, f.expense.ID, f.fund.ID, AdjustmentExpense)
	require.NoError(t, err)
	assert.Equal(t, models.KindAdjustment, adj.Kind)
	// debit expense, credit bank
	assert.Equal(t, f.expense.ID, adj.Entries[0].AccountID)
	assert.True(t, adj.Entries[0].Debit.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, f.bank.ID, adj.Entries[1].AccountID)

	line, err := f.storage.GetBankTransaction(lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchMatched, line.MatchStatus)
	require.NotNil(t, line.MatchedTransactionID)
	assert.Equal(t, adj.ID, *line.MatchedTransactionID)
}

func TestCreateAdjustment_RevenueDebitsBank(t *testing.T) {
	f := newFixture(t)

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "interest income", Amount: decimal.RequireFromString("3.25"),
	})

	adj, err := f.svc.CreateAdjustment(lines[0].ID, f.revenue.ID, f.fund.ID, AdjustmentRevenue)
	require.NoError(t, err)
	assert.Equal(t, f.bank.ID, adj.Entries[0].AccountID)
	assert.True(t, adj.Entries[0].Debit.Equal(decimal.RequireFromString("3.25")))
}

func TestComplete_RequiresAllLinesAndBalanceAgreement(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "100.00", day(0))

	r := f.session(t, "100.00", day(-30), day(30))
	lines := f.importLines(t, r.ID,
		models.StatementLine{Date: day(0), Description: "deposit", Amount: decimal.RequireFromString("100.00")},
		models.StatementLine{Date: day(1), Description: "stray", Amount: decimal.RequireFromString("-5.00")},
	)

	require.NoError(t, f.svc.Match(lines[0].ID, tx.ID))

	// one line still unmatched
	err := f.svc.Complete(r.ID)
	var incomplete models.UnbalancedReconciliationError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.UnmatchedLines)

	require.NoError(t, f.svc.MarkReconciled(lines[1].ID))

	require.NoError(t, f.svc.Complete(r.ID))
	session, err := f.svc.Session(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationCompleted, session.Status)

	for _, bt := range lines {
		line, err := f.storage.GetBankTransaction(bt.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchReconciled, line.MatchStatus)
	}

	// a new session for the same account may start now
	next := f.session(t, "100.00", day(30), day(60))
	assert.Equal(t, models.ReconciliationDraft, next.Status)
}

func TestComplete_BookDisagreementRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "100.00", day(0))

	// statement says 90 but the book balance is 100
	r := f.session(t, "90.00", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "deposit", Amount: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, f.svc.Match(lines[0].ID, tx.ID))

	err := f.svc.Complete(r.ID)
	var incomplete models.UnbalancedReconciliationError
	require.ErrorAs(t, err, &incomplete)
	assert.True(t, incomplete.BookBalance.Equal(decimal.NewFromInt(100)))

	session, err := f.svc.Session(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationInProgress, session.Status)
}

// flakyStore fails the first SaveMatch and passes everything after through.
type flakyStore struct {
	store.Storage
	failures int
}

func (s *flakyStore) SaveMatch(bt *models.BankTransaction, r *models.BankReconciliation) error {
	if s.failures > 0 {
		s.failures--
		return errSaveMatch
	}
	return s.Storage.SaveMatch(bt, r)
}

var errSaveMatch = errors.New("save match failed")

func TestMatch_StoreFailureReleasesSessionLock(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "-45.00", day(0))

	r := f.session(t, "0", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "check 204", Amount: decimal.RequireFromString("-45.00"),
	})

	flaky := &flakyStore{Storage: f.storage, failures: 1}
	svc := NewService(flaky, f.ledger, 5, epsilon, decimal.RequireFromString("10.00"))

	require.ErrorIs(t, svc.Match(lines[0].ID, tx.ID), errSaveMatch)

	// the session is still DRAFT in the store and the account is not
	// left claimed by the failed attempt
	session, err := svc.Session(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationDraft, session.Status)

	require.NoError(t, svc.Match(lines[0].ID, tx.ID))
	session, err = svc.Session(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationInProgress, session.Status)
}

func TestComplete_TwiceRejected(t *testing.T) {
	f := newFixture(t)
	tx := f.post(t, "100.00", day(0))

	r := f.session(t, "100.00", day(-30), day(30))
	lines := f.importLines(t, r.ID, models.StatementLine{
		Date: day(0), Description: "deposit", Amount: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, f.svc.Match(lines[0].ID, tx.ID))
	require.NoError(t, f.svc.Complete(r.ID))

	var transition models.TransitionError
	require.ErrorAs(t, f.svc.Complete(r.ID), &transition)
}
