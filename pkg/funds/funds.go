package funds

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

// OverdraftPolicy decides whether a fund type may carry a negative balance.
// The restriction rules for restricted funds are policy, not code, so they
// live in configuration.
type OverdraftPolicy func(models.FundType) bool

// Service computes fund balances and validates transfers and allocations
// against the ledger. All money movement goes through ledger.Post; the
// service never mutates balances directly.
type Service struct {
	storage           store.Storage
	ledger            *ledger.Service
	clearingAccountID uuid.UUID
	overdraftAllowed  OverdraftPolicy
}

// NewService creates a fund accounting Service. clearingAccountID is the
// asset account both sides of a transfer or allocation post against.
func NewService(s store.Storage, l *ledger.Service, clearingAccountID uuid.UUID, policy OverdraftPolicy) *Service {
	if policy == nil {
		policy = func(t models.FundType) bool { return t == models.FundGeneral }
	}
	return &Service{storage: s, ledger: l, clearingAccountID: clearingAccountID, overdraftAllowed: policy}
}

// Transfer moves amount between two funds as a single balanced transaction:
// one debit entry in the destination fund and one credit entry in the source
// fund, both against the clearing account. It fails with SameFundError when
// source and destination coincide and with InsufficientFundBalanceError when
// the source fund would overdraw under its policy.
func (s *Service) Transfer(fromFundID, toFundID uuid.UUID, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if fromFundID == toFundID {
		return nil, models.SameFundError{FundID: fromFundID}
	}
	if amount.IsNegative() || amount.IsZero() {
		return nil, models.InvalidEntryError{Reason: "transfer amount must be positive"}
	}
	from, err := s.storage.GetFund(fromFundID)
	if err != nil {
		return nil, err
	}
	if _, err := s.storage.GetFund(toFundID); err != nil {
		return nil, err
	}

	if !s.overdraftAllowed(from.Type) {
		balance, err := s.ledger.FundBalance(fromFundID, time.Now())
		if err != nil {
			return nil, err
		}
		if balance.LessThan(amount) {
			return nil, models.InsufficientFundBalanceError{FundID: fromFundID, Balance: balance, Amount: amount}
		}
	}

	t := &models.Transaction{
		Date:        time.Now(),
		Description: description,
		Kind:        models.KindTransfer,
		Entries: []models.Entry{
			{AccountID: s.clearingAccountID, FundID: toFundID, Debit: amount},
			{AccountID: s.clearingAccountID, FundID: fromFundID, Credit: amount},
		},
	}
	if err := s.ledger.Post(t); err != nil {
		return nil, err
	}
	log.Infof("transferred %s from fund %s to fund %s", amount.StringFixed(2), fromFundID, toFundID)
	return t, nil
}

// Allocation is one leg of an N-way split. Positive amounts move money into
// the fund (debit), negative amounts out of it (credit).
type Allocation struct {
	FundID uuid.UUID       `json:"fund_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocate generalizes Transfer to N-way splits. The signed amounts must sum
// to zero, otherwise it fails with UnbalancedAllocationError before any
// mutation.
func (s *Service) Allocate(allocations []Allocation, description string) (*models.Transaction, error) {
	if len(allocations) < 2 {
		return nil, models.InvalidEntryError{Reason: "allocation needs at least two legs"}
	}
	sum := decimal.Zero
	for _, a := range allocations {
		sum = sum.Add(a.Amount)
	}
	if !sum.IsZero() {
		return nil, models.UnbalancedAllocationError{Sum: sum}
	}

	// Overdraft is judged on each fund's net effect, so several legs against
	// the same fund cannot each pass the check individually.
	net := make(map[uuid.UUID]decimal.Decimal)
	order := make([]uuid.UUID, 0, len(allocations))
	for _, a := range allocations {
		if _, ok := net[a.FundID]; !ok {
			order = append(order, a.FundID)
		}
		net[a.FundID] = net[a.FundID].Add(a.Amount)
	}
	for _, fundID := range order {
		draw := net[fundID].Neg()
		if !draw.IsPositive() || s.overdraftAllowed(s.fundType(fundID)) {
			continue
		}
		balance, err := s.ledger.FundBalance(fundID, time.Now())
		if err != nil {
			return nil, err
		}
		if balance.LessThan(draw) {
			return nil, models.InsufficientFundBalanceError{FundID: fundID, Balance: balance, Amount: draw}
		}
	}

	t := &models.Transaction{
		Date:        time.Now(),
		Description: description,
		Kind:        models.KindAllocation,
	}
	for _, a := range allocations {
		e := models.Entry{AccountID: s.clearingAccountID, FundID: a.FundID}
		if a.Amount.IsNegative() {
			e.Credit = a.Amount.Neg()
		} else {
			e.Debit = a.Amount
		}
		t.Entries = append(t.Entries, e)
	}
	if err := s.ledger.Post(t); err != nil {
		return nil, err
	}
	log.Infof("allocated across %d funds", len(allocations))
	return t, nil
}

func (s *Service) fundType(fundID uuid.UUID) models.FundType {
	f, err := s.storage.GetFund(fundID)
	if err != nil {
		return models.FundRestricted // unknown funds get the strict policy
	}
	return f.Type
}

// FundBalanceSheet is the per-fund line of a balance sheet.
type FundBalanceSheet struct {
	FundID      uuid.UUID       `json:"fund_id"`
	FundName    string          `json:"fund_name"`
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
	FundBalance decimal.Decimal `json:"fund_balance"`
}

// BalanceSheet aggregates posted entries through accounts tagged by type
// into per-fund assets, liabilities and fund balance. It is a pure read
// derived from the ledger; nothing here is a source of truth.
func (s *Service) BalanceSheet(asOf time.Time) ([]FundBalanceSheet, error) {
	fundList, err := s.storage.ListFunds()
	if err != nil {
		return nil, err
	}
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		return nil, err
	}
	types := make(map[uuid.UUID]models.AccountType, len(accounts))
	for _, a := range accounts {
		types[a.ID] = a.Type
	}
	entries, err := s.storage.EntriesThrough(asOf)
	if err != nil {
		return nil, err
	}

	byFund := make(map[uuid.UUID]*FundBalanceSheet, len(fundList))
	var sheet []FundBalanceSheet
	ordered := make([]uuid.UUID, 0, len(fundList))
	for _, f := range fundList {
		byFund[f.ID] = &FundBalanceSheet{FundID: f.ID, FundName: f.Name,
			Assets: decimal.Zero, Liabilities: decimal.Zero, FundBalance: decimal.Zero}
		ordered = append(ordered, f.ID)
	}
	for _, e := range entries {
		line, ok := byFund[e.FundID]
		if !ok {
			continue
		}
		switch types[e.AccountID] {
		case models.AccountAsset:
			line.Assets = line.Assets.Add(e.Debit).Sub(e.Credit)
		case models.AccountLiability:
			line.Liabilities = line.Liabilities.Add(e.Credit).Sub(e.Debit)
		}
	}
	for _, id := range ordered {
		line := byFund[id]
		line.FundBalance = line.Assets.Sub(line.Liabilities)
		sheet = append(sheet, *line)
	}
	return sheet, nil
}
