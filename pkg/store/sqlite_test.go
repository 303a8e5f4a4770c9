package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlowe/fundbooks/pkg/models"
)

func newTestStore(t *testing.T, dbFile string) *SQLiteStore {
	t.Helper()
	os.Remove(dbFile)
	t.Cleanup(func() { os.Remove(dbFile) })

	s, err := NewSQLiteStore(dbFile)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func testAccount(accountType models.AccountType, number string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:        uuid.New(),
		Number:    number,
		Name:      "account " + number,
		Type:      accountType,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testFund(fundType models.FundType) *models.Fund {
	now := time.Now()
	return &models.Fund{
		ID:        uuid.New(),
		Name:      "fund",
		Type:      fundType,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func balancedTransaction(debitAccount, creditAccount *models.Account, fund *models.Fund, amount decimal.Decimal, date time.Time) *models.Transaction {
	id := uuid.New()
	now := time.Now()
	return &models.Transaction{
		ID:          id,
		Date:        date,
		Description: "test transaction",
		Kind:        models.KindStandard,
		Status:      models.TxPosted,
		Entries: []models.Entry{
			{ID: uuid.New(), TransactionID: id, AccountID: debitAccount.ID, FundID: fund.ID, Debit: amount, Credit: decimal.Zero},
			{ID: uuid.New(), TransactionID: id, AccountID: creditAccount.ID, FundID: fund.ID, Debit: decimal.Zero, Credit: amount},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_AccountRoundTrip(t *testing.T) {
	s := newTestStore(t, "test_accounts.db")

	a := testAccount(models.AccountAsset, "1000")
	require.NoError(t, s.CreateAccount(a))

	fetched, err := s.GetAccount(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Number, fetched.Number)
	assert.Equal(t, models.AccountAsset, fetched.Type)
	assert.True(t, fetched.Active)

	fetched.Active = false
	fetched.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateAccount(fetched))

	again, err := s.GetAccount(a.ID)
	require.NoError(t, err)
	assert.False(t, again.Active)

	_, err = s.GetAccount(uuid.New())
	var notFound models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSQLiteStore_TransactionWithEntries(t *testing.T) {
	s := newTestStore(t, "test_tx.db")

	cash := testAccount(models.AccountAsset, "1000")
	revenue := testAccount(models.AccountRevenue, "4000")
	fund := testFund(models.FundGeneral)
	require.NoError(t, s.CreateAccount(cash))
	require.NoError(t, s.CreateAccount(revenue))
	require.NoError(t, s.CreateFund(fund))

	amount := decimal.NewFromFloat(125.50)
	tx := balancedTransaction(cash, revenue, fund, amount, time.Now())
	require.NoError(t, s.CreateTransaction(tx))

	fetched, err := s.GetTransaction(tx.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Entries, 2)
	assert.True(t, fetched.Entries[0].Debit.Equal(amount))
	assert.True(t, fetched.Entries[1].Credit.Equal(amount))
	assert.Equal(t, models.TxPosted, fetched.Status)
}

func TestSQLiteStore_EntriesByFundIncludesVoided(t *testing.T) {
	s := newTestStore(t, "test_fund_entries.db")

	cash := testAccount(models.AccountAsset, "1000")
	revenue := testAccount(models.AccountRevenue, "4000")
	fund := testFund(models.FundGeneral)
	require.NoError(t, s.CreateAccount(cash))
	require.NoError(t, s.CreateAccount(revenue))
	require.NoError(t, s.CreateFund(fund))

	now := time.Now()
	tx := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(100), now)
	require.NoError(t, s.CreateTransaction(tx))

	voided := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(40), now)
	voided.Status = models.TxVoided
	require.NoError(t, s.CreateTransaction(voided))

	draft := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(7), now)
	draft.Status = models.TxDraft
	require.NoError(t, s.CreateTransaction(draft))

	entries, err := s.EntriesByFund(fund.ID, now.Add(time.Hour))
	require.NoError(t, err)
	// posted and voided count, drafts never do
	assert.Len(t, entries, 4)
}

func TestSQLiteStore_TransactionsByAccountExcludesVoided(t *testing.T) {
	s := newTestStore(t, "test_by_account.db")

	cash := testAccount(models.AccountAsset, "1000")
	revenue := testAccount(models.AccountRevenue, "4000")
	fund := testFund(models.FundGeneral)
	require.NoError(t, s.CreateAccount(cash))
	require.NoError(t, s.CreateAccount(revenue))
	require.NoError(t, s.CreateFund(fund))

	now := time.Now()
	posted := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(100), now)
	require.NoError(t, s.CreateTransaction(posted))

	voided := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(50), now)
	voided.Status = models.TxVoided
	require.NoError(t, s.CreateTransaction(voided))

	old := balancedTransaction(cash, revenue, fund, decimal.NewFromInt(25), now.AddDate(0, 0, -30))
	require.NoError(t, s.CreateTransaction(old))

	txs, err := s.TransactionsByAccount(cash.ID, now.AddDate(0, 0, -5), now.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, posted.ID, txs[0].ID)
	assert.Len(t, txs[0].Entries, 2)
}

func TestSQLiteStore_GenerateFromTemplateIsIdempotent(t *testing.T) {
	s := newTestStore(t, "test_generate.db")

	expense := testAccount(models.AccountExpense, "5000")
	payable := testAccount(models.AccountLiability, "2000")
	fund := testFund(models.FundGeneral)
	require.NoError(t, s.CreateAccount(expense))
	require.NoError(t, s.CreateAccount(payable))
	require.NoError(t, s.CreateFund(fund))

	due := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	tpl := &models.RecurringTemplate{
		ID:                 uuid.New(),
		Kind:               models.RecurringBill,
		Description:        "rent",
		CounterpartyID:     uuid.New(),
		Amount:             decimal.NewFromInt(1500),
		DebitAccountID:     expense.ID,
		CreditAccountID:    payable.ID,
		FundID:             fund.ID,
		Frequency:          models.FreqMonthly,
		NextGenerationDate: due,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, s.CreateTemplate(tpl))

	doc := balancedTransaction(expense, payable, fund, tpl.Amount, due)
	advanced := *tpl
	advanced.LastGeneratedDate = &due
	advanced.NextGenerationDate = models.NextDate(due, tpl.Frequency, tpl.DayOfMonth, tpl.CustomDays)
	require.NoError(t, s.GenerateFromTemplate(doc, &advanced, due))

	// second commit for the same due date must fail, nothing written
	doc2 := balancedTransaction(expense, payable, fund, tpl.Amount, due)
	err := s.GenerateFromTemplate(doc2, &advanced, due)
	var dup models.DuplicateGenerationError
	require.ErrorAs(t, err, &dup)

	_, err = s.GetTransaction(doc2.ID)
	var notFound models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func testCredit(createdBy uuid.UUID, status models.CreditStatus) *models.TuitionCredit {
	now := time.Now()
	return &models.TuitionCredit{
		ID:            uuid.New(),
		StudentID:     uuid.New(),
		ProviderID:    uuid.New(),
		PeriodStart:   now.AddDate(0, -1, 0),
		PeriodEnd:     now,
		CreditAmount:  decimal.NewFromInt(500),
		DPPPortion:    decimal.NewFromInt(400),
		FamilyPortion: decimal.NewFromInt(100),
		Status:        status,
		CreatedByID:   createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLiteStore_ProcessBatchRollsBackOnBadCredit(t *testing.T) {
	s := newTestStore(t, "test_batch.db")

	creator := uuid.New()
	good := testCredit(creator, models.CreditApproved)
	bad := testCredit(creator, models.CreditDraft) // cannot go to PROCESSED
	require.NoError(t, s.CreateCredit(good))
	require.NoError(t, s.CreateCredit(bad))

	now := time.Now()
	batch := &models.TuitionCreditBatch{
		ID:          uuid.New(),
		TotalAmount: good.DPPPortion.Add(bad.DPPPortion),
		Status:      models.BatchApproved,
		CreatedByID: creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateBatch(batch))
	for _, c := range []*models.TuitionCredit{good, bad} {
		c.BatchID = &batch.ID
		require.NoError(t, s.UpdateCredit(c))
	}

	processed := *batch
	processed.Status = models.BatchProcessed
	var members []*models.TuitionCredit
	for _, c := range []*models.TuitionCredit{good, bad} {
		m := *c
		m.Status = models.CreditProcessed
		members = append(members, &m)
	}
	err := s.ProcessBatch(&processed, members, nil)
	var transition models.TransitionError
	require.ErrorAs(t, err, &transition)

	// nothing moved: the good credit must still be APPROVED
	fetched, err := s.GetCredit(good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreditApproved, fetched.Status)

	fetchedBatch, err := s.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchApproved, fetchedBatch.Status)
	assert.Len(t, fetchedBatch.CreditIDs, 2)
}

func TestSQLiteStore_CreateBatchWithMembersRollsBackOnClaimedCredit(t *testing.T) {
	s := newTestStore(t, "test_batch_create.db")

	creator := uuid.New()
	free := testCredit(creator, models.CreditApproved)
	claimed := testCredit(creator, models.CreditApproved)
	require.NoError(t, s.CreateCredit(free))
	require.NoError(t, s.CreateCredit(claimed))

	// another batch claims one member behind the caller's back
	otherBatch := uuid.New()
	taken := *claimed
	taken.BatchID = &otherBatch
	require.NoError(t, s.UpdateCredit(&taken))

	now := time.Now()
	batch := &models.TuitionCreditBatch{
		ID:          uuid.New(),
		TotalAmount: free.DPPPortion.Add(claimed.DPPPortion),
		Status:      models.BatchDraft,
		CreatedByID: creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var members []*models.TuitionCredit
	for _, c := range []*models.TuitionCredit{free, claimed} {
		m := *c
		m.BatchID = &batch.ID
		members = append(members, &m)
	}
	require.Error(t, s.CreateBatchWithMembers(batch, members))

	// nothing persisted: no orphan batch row, the free credit stays unbatched
	_, err := s.GetBatch(batch.ID)
	var notFound models.NotFoundError
	require.ErrorAs(t, err, &notFound)

	fetched, err := s.GetCredit(free.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.BatchID)
}

func TestSQLiteStore_CreatePaymentRejectsConsumedCredit(t *testing.T) {
	s := newTestStore(t, "test_payment.db")

	creator := uuid.New()
	credit := testCredit(creator, models.CreditProcessed)
	require.NoError(t, s.CreateCredit(credit))

	now := time.Now()
	first := &models.ProviderPayment{
		ID:         uuid.New(),
		ProviderID: credit.ProviderID,
		Amount:     credit.DPPPortion,
		Status:     models.PaymentPending,
		CreatedAt:  now,
	}
	consumed := *credit
	consumed.PaymentID = &first.ID
	require.NoError(t, s.CreatePayment(first, []*models.TuitionCredit{&consumed}))

	second := &models.ProviderPayment{
		ID:         uuid.New(),
		ProviderID: credit.ProviderID,
		Amount:     credit.DPPPortion,
		Status:     models.PaymentPending,
		CreatedAt:  now,
	}
	again := *credit
	again.PaymentID = &second.ID
	err := s.CreatePayment(second, []*models.TuitionCredit{&again})
	var consumedErr models.CreditConsumedError
	require.ErrorAs(t, err, &consumedErr)
	assert.Equal(t, first.ID, consumedErr.PaymentID)

	fetched, err := s.GetPayment(first.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{credit.ID}, fetched.CreditIDs)
}

func TestSQLiteStore_ActiveReconciliation(t *testing.T) {
	s := newTestStore(t, "test_recon.db")

	bankAccount := uuid.New()
	now := time.Now()
	r := &models.BankReconciliation{
		ID:               uuid.New(),
		BankAccountID:    bankAccount,
		StatementBalance: decimal.NewFromInt(1000),
		StartDate:        now.AddDate(0, -1, 0),
		EndDate:          now,
		Status:           models.ReconciliationDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateReconciliation(r))

	active, err := s.ActiveReconciliation(bankAccount)
	require.NoError(t, err)
	assert.Nil(t, active)

	r.Status = models.ReconciliationInProgress
	require.NoError(t, s.UpdateReconciliation(r))

	active, err = s.ActiveReconciliation(bankAccount)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)

	// the partial unique index blocks a second IN_PROGRESS session
	dup := *r
	dup.ID = uuid.New()
	dup.Status = models.ReconciliationInProgress
	assert.Error(t, s.CreateReconciliation(&dup))
}

func TestSQLiteStore_BankTransactionsRoundTrip(t *testing.T) {
	s := newTestStore(t, "test_bank_lines.db")

	now := time.Now()
	r := &models.BankReconciliation{
		ID:               uuid.New(),
		BankAccountID:    uuid.New(),
		StatementBalance: decimal.NewFromInt(500),
		StartDate:        now.AddDate(0, -1, 0),
		EndDate:          now,
		Status:           models.ReconciliationDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateReconciliation(r))

	lines := []*models.BankTransaction{
		{ID: uuid.New(), ReconciliationID: r.ID, Date: now.AddDate(0, 0, -2), Description: "check 204", Amount: decimal.NewFromFloat(-45.00), MatchStatus: models.MatchUnmatched, CreatedAt: now},
		{ID: uuid.New(), ReconciliationID: r.ID, Date: now.AddDate(0, 0, -1), Description: "deposit", Amount: decimal.NewFromFloat(300.00), MatchStatus: models.MatchUnmatched, CreatedAt: now},
	}
	require.NoError(t, s.CreateBankTransactions(lines))

	fetched, err := s.ListBankTransactions(r.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.True(t, fetched[0].Amount.Equal(decimal.NewFromFloat(-45.00)))
	assert.Equal(t, models.MatchUnmatched, fetched[0].MatchStatus)
}
