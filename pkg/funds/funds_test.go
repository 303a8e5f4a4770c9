package funds

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
	storage  *store.MemoryStore
	ledger   *ledger.Service
	svc      *Service
	clearing *models.Account
	cash     *models.Account
	revenue  *models.Account
	general  *models.Fund
	building *models.Fund
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	now := time.Now()
	f := &fixture{
		storage:  s,
		clearing: &models.Account{ID: uuid.New(), Number: "1099", Name: "Clearing", Type: models.AccountAsset, Active: true, CreatedAt: now, UpdatedAt: now},
		cash:     &models.Account{ID: uuid.New(), Number: "1000", Name: "Cash", Type: models.AccountAsset, Active: true, CreatedAt: now, UpdatedAt: now},
		revenue:  &models.Account{ID: uuid.New(), Number: "4000", Name: "Donations", Type: models.AccountRevenue, Active: true, CreatedAt: now, UpdatedAt: now},
		general:  &models.Fund{ID: uuid.New(), Name: "General", Type: models.FundGeneral, Active: true, CreatedAt: now, UpdatedAt: now},
		building: &models.Fund{ID: uuid.New(), Name: "Building", Type: models.FundRestricted, Active: true, CreatedAt: now, UpdatedAt: now},
	}
	for _, a := range []*models.Account{f.clearing, f.cash, f.revenue} {
		require.NoError(t, s.CreateAccount(a))
	}
	require.NoError(t, s.CreateFund(f.general))
	require.NoError(t, s.CreateFund(f.building))
	f.ledger = ledger.NewService(s, epsilon)
	f.svc = NewService(s, f.ledger, f.clearing.ID, nil)
	return f
}

// seed posts a donation into the fund so it has a positive balance.
func (f *fixture) seed(t *testing.T, fundID uuid.UUID, amount string) {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	tx := &models.Transaction{
		Date:        time.Now(),
		Description: "seed",
		Entries: []models.Entry{
			{AccountID: f.cash.ID, FundID: fundID, Debit: amt},
			{AccountID: f.revenue.ID, FundID: fundID, Credit: amt},
		},
	}
	require.NoError(t, f.ledger.Post(tx))
}

func TestTransfer_MovesBalanceBetweenFunds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.general.ID, "1000.00")

	tx, err := f.svc.Transfer(f.general.ID, f.building.ID, decimal.NewFromInt(300), "fund building project")
	require.NoError(t, err)
	assert.Equal(t, models.KindTransfer, tx.Kind)

	asOf := time.Now().Add(time.Hour)
	general, err := f.ledger.FundBalance(f.general.ID, asOf)
	require.NoError(t, err)
	assert.True(t, general.Equal(decimal.NewFromInt(700)), "got %s", general)

	building, err := f.ledger.FundBalance(f.building.ID, asOf)
	require.NoError(t, err)
	assert.True(t, building.Equal(decimal.NewFromInt(300)), "got %s", building)
}

func TestTransfer_SameFundRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transfer(f.general.ID, f.general.ID, decimal.NewFromInt(10), "noop")
	var same models.SameFundError
	require.ErrorAs(t, err, &same)
}

func TestTransfer_RestrictedFundCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.building.ID, "100.00")

	_, err := f.svc.Transfer(f.building.ID, f.general.ID, decimal.NewFromInt(150), "too much")
	var insufficient models.InsufficientFundBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Balance.Equal(decimal.NewFromInt(100)))

	// balance untouched
	balance, err := f.ledger.FundBalance(f.building.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestTransfer_GeneralFundMayOverdraw(t *testing.T) {
	f := newFixture(t)

	// the default policy lets the general fund go negative
	_, err := f.svc.Transfer(f.general.ID, f.building.ID, decimal.NewFromInt(50), "advance")
	require.NoError(t, err)

	balance, err := f.ledger.FundBalance(f.general.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-50)), "got %s", balance)
}

func TestAllocate_SplitsAcrossFunds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.general.ID, "900.00")

	scholarship := &models.Fund{ID: uuid.New(), Name: "Scholarship", Type: models.FundRestricted, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.storage.CreateFund(scholarship))

	tx, err := f.svc.Allocate([]Allocation{
		{FundID: f.general.ID, Amount: decimal.NewFromInt(-900)},
		{FundID: f.building.ID, Amount: decimal.NewFromInt(600)},
		{FundID: scholarship.ID, Amount: decimal.NewFromInt(300)},
	}, "year-end allocation")
	require.NoError(t, err)
	assert.Equal(t, models.KindAllocation, tx.Kind)
	assert.Len(t, tx.Entries, 3)

	asOf := time.Now().Add(time.Hour)
	for _, tc := range []struct {
		fundID uuid.UUID
		want   int64
	}{
		{f.general.ID, 0},
		{f.building.ID, 600},
		{scholarship.ID, 300},
	} {
		balance, err := f.ledger.FundBalance(tc.fundID, asOf)
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(tc.want)), "fund %s: got %s", tc.fundID, balance)
	}
}

func TestAllocate_NonZeroSumRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Allocate([]Allocation{
		{FundID: f.general.ID, Amount: decimal.NewFromInt(-100)},
		{FundID: f.building.ID, Amount: decimal.NewFromInt(90)},
	}, "leaky")
	var unbalanced models.UnbalancedAllocationError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Sum.Equal(decimal.NewFromInt(-10)))
}

func TestAllocate_RestrictedSourceNeedsBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.building.ID, "50.00")

	_, err := f.svc.Allocate([]Allocation{
		{FundID: f.building.ID, Amount: decimal.NewFromInt(-80)},
		{FundID: f.general.ID, Amount: decimal.NewFromInt(80)},
	}, "overdraw restricted")
	var insufficient models.InsufficientFundBalanceError
	require.ErrorAs(t, err, &insufficient)
}

func TestAllocate_SplitLegsCannotJointlyOverdraw(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.building.ID, "100.00")

	// each leg alone fits within the 100 balance, together they do not
	_, err := f.svc.Allocate([]Allocation{
		{FundID: f.building.ID, Amount: decimal.NewFromInt(-60)},
		{FundID: f.building.ID, Amount: decimal.NewFromInt(-60)},
		{FundID: f.general.ID, Amount: decimal.NewFromInt(120)},
	}, "drain restricted fund")
	var insufficient models.InsufficientFundBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, f.building.ID, insufficient.FundID)
	assert.True(t, insufficient.Amount.Equal(decimal.NewFromInt(120)), "got %s", insufficient.Amount)

	// balance untouched
	balance, err := f.ledger.FundBalance(f.building.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestBalanceSheet_PerFundLines(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.general.ID, "500.00")
	f.seed(t, f.building.ID, "200.00")

	// accrue a liability in the general fund
	payable := &models.Account{ID: uuid.New(), Number: "2000", Name: "Payable", Type: models.AccountLiability, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	expense := &models.Account{ID: uuid.New(), Number: "5000", Name: "Expense", Type: models.AccountExpense, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.storage.CreateAccount(payable))
	require.NoError(t, f.storage.CreateAccount(expense))
	bill := &models.Transaction{
		Date: time.Now(),
		Entries: []models.Entry{
			{AccountID: expense.ID, FundID: f.general.ID, Debit: decimal.NewFromInt(120)},
			{AccountID: payable.ID, FundID: f.general.ID, Credit: decimal.NewFromInt(120)},
		},
	}
	require.NoError(t, f.ledger.Post(bill))

	sheet, err := f.svc.BalanceSheet(time.Now().Add(time.Hour))
	require.NoError(t, err)
	byName := make(map[string]FundBalanceSheet)
	for _, line := range sheet {
		byName[line.FundName] = line
	}

	general := byName["General"]
	assert.True(t, general.Assets.Equal(decimal.NewFromInt(500)), "assets %s", general.Assets)
	assert.True(t, general.Liabilities.Equal(decimal.NewFromInt(120)), "liabilities %s", general.Liabilities)
	assert.True(t, general.FundBalance.Equal(decimal.NewFromInt(380)), "balance %s", general.FundBalance)

	building := byName["Building"]
	assert.True(t, building.FundBalance.Equal(decimal.NewFromInt(200)))
}
