package recurring

import (
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
	svc     *Service
	expense *models.Account
	payable *models.Account
	fund    *models.Fund
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Now()
	f := &fixture{
		storage: s,
		expense: &models.Account{ID: uuid.New(), Number: "5000", Name: "Rent expense", Type: models.AccountExpense, Active: true, CreatedAt: now, UpdatedAt: now},
		payable: &models.Account{ID: uuid.New(), Number: "2000", Name: "Accounts payable", Type: models.AccountLiability, Active: true, CreatedAt: now, UpdatedAt: now},
		fund:    &models.Fund{ID: uuid.New(), Name: "General", Type: models.FundGeneral, Active: true, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.CreateAccount(f.expense))
	require.NoError(t, s.CreateAccount(f.payable))
	require.NoError(t, s.CreateFund(f.fund))
	f.svc = NewService(s, ledger.NewService(s, epsilon))
	return f
}

func (f *fixture) template(t *testing.T, freq models.Frequency, next time.Time) *models.RecurringTemplate {
	t.Helper()
	tpl := &models.RecurringTemplate{
		Kind:               models.RecurringBill,
		Description:        "office rent",
		CounterpartyID:     uuid.New(),
		Amount:             decimal.RequireFromString("1500.00"),
		DebitAccountID:     f.expense.ID,
		CreditAccountID:    f.payable.ID,
		FundID:             f.fund.ID,
		Frequency:          freq,
		DueDays:            14,
		NextGenerationDate: next,
	}
	require.NoError(t, f.svc.CreateTemplate(tpl))
	return tpl
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerate_PostsBillAndAdvancesTemplate(t *testing.T) {
	f := newFixture(t)
	due := date(2026, 3, 1)
	tpl := f.template(t, models.FreqMonthly, due)

	doc, err := f.svc.Generate(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindBill, doc.Kind)
	assert.Equal(t, models.TxPosted, doc.Status)
	assert.True(t, doc.Date.Equal(due))
	require.NotNil(t, doc.DueDate)
	assert.True(t, doc.DueDate.Equal(due.AddDate(0, 0, 14)))
	assert.True(t, doc.AmountDue.Equal(tpl.Amount))
	assert.NotEmpty(t, doc.InvoiceNumber)

	stored, err := f.storage.GetTemplate(tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastGeneratedDate)
	assert.True(t, stored.LastGeneratedDate.Equal(due))
	assert.True(t, stored.NextGenerationDate.Equal(date(2026, 4, 1)))
}

func TestGenerate_MonthEndClamps(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, models.FreqMonthly, date(2026, 1, 31))
	tpl.DayOfMonth = 31
	require.NoError(t, f.storage.UpdateTemplate(tpl))

	_, err := f.svc.Generate(tpl.ID)
	require.NoError(t, err)

	stored, err := f.storage.GetTemplate(tpl.ID)
	require.NoError(t, err)
	// Jan 31 + 1 month lands on Feb 28, not Mar 3
	assert.True(t, stored.NextGenerationDate.Equal(date(2026, 2, 28)),
		"got %s", stored.NextGenerationDate.Format("2006-01-02"))
}

func TestGenerate_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, models.FreqMonthly, date(2026, 3, 1))

	_, err := f.svc.Generate(tpl.ID)
	require.NoError(t, err)

	// replaying the original commit after the template has advanced must
	// fail instead of creating a second bill for the same due date
	stale := *tpl
	stale.NextGenerationDate = date(2026, 3, 1)
	doc := f.svc.buildDocument(&stale, stale.NextGenerationDate)
	err = f.storage.GenerateFromTemplate(doc, &stale, date(2026, 3, 1))
	var dup models.DuplicateGenerationError
	require.ErrorAs(t, err, &dup)
}

func TestGenerate_InactiveTemplateRejected(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, models.FreqMonthly, date(2026, 3, 1))
	require.NoError(t, f.svc.Deactivate(tpl.ID))

	_, err := f.svc.Generate(tpl.ID)
	var transition models.TransitionError
	require.ErrorAs(t, err, &transition)
}

func TestGenerate_InvoiceTemplate(t *testing.T) {
	f := newFixture(t)
	receivable := &models.Account{ID: uuid.New(), Number: "1100", Name: "Receivable", Type: models.AccountAsset, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	revenue := &models.Account{ID: uuid.New(), Number: "4000", Name: "Program revenue", Type: models.AccountRevenue, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.storage.CreateAccount(receivable))
	require.NoError(t, f.storage.CreateAccount(revenue))

	tpl := &models.RecurringTemplate{
		Kind:               models.RecurringInvoice,
		Description:        "monthly program fee",
		CounterpartyID:     uuid.New(),
		Amount:             decimal.RequireFromString("250.00"),
		DebitAccountID:     receivable.ID,
		CreditAccountID:    revenue.ID,
		FundID:             f.fund.ID,
		Frequency:          models.FreqMonthly,
		NextGenerationDate: date(2026, 5, 1),
	}
	require.NoError(t, f.svc.CreateTemplate(tpl))

	doc, err := f.svc.Generate(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindInvoice, doc.Kind)
	assert.Equal(t, receivable.ID, doc.Entries[0].AccountID)
	assert.True(t, doc.Entries[0].Debit.Equal(tpl.Amount))
}

func TestDueTemplates(t *testing.T) {
	f := newFixture(t)
	due := f.template(t, models.FreqMonthly, date(2026, 3, 1))
	f.template(t, models.FreqMonthly, date(2026, 6, 1))

	templates, err := f.svc.DueTemplates(date(2026, 3, 15))
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, due.ID, templates[0].ID)
}

func TestNextDate_Frequencies(t *testing.T) {
	tests := []struct {
		name       string
		from       time.Time
		freq       models.Frequency
		dayOfMonth int
		customDays int
		want       time.Time
	}{
		{"weekly", date(2026, 3, 2), models.FreqWeekly, 0, 0, date(2026, 3, 9)},
		{"biweekly", date(2026, 3, 2), models.FreqBiweekly, 0, 0, date(2026, 3, 16)},
		{"monthly mid-month", date(2026, 3, 15), models.FreqMonthly, 0, 0, date(2026, 4, 15)},
		{"monthly jan 31 clamps to feb 28", date(2026, 1, 31), models.FreqMonthly, 0, 0, date(2026, 2, 28)},
		{"monthly jan 31 leap year", date(2024, 1, 31), models.FreqMonthly, 0, 0, date(2024, 2, 29)},
		{"monthly anchored day restores after short month", date(2026, 2, 28), models.FreqMonthly, 31, 0, date(2026, 3, 31)},
		{"quarterly", date(2026, 1, 31), models.FreqQuarterly, 0, 0, date(2026, 4, 30)},
		{"annually across year end", date(2026, 12, 15), models.FreqAnnually, 0, 0, date(2027, 12, 15)},
		{"custom", date(2026, 3, 1), models.FreqCustom, 0, 10, date(2026, 3, 11)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := models.NextDate(tc.from, tc.freq, tc.dayOfMonth, tc.customDays)
			assert.True(t, got.Equal(tc.want), "got %s want %s",
				got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
		})
	}
}
