package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/harlowe/fundbooks/pkg/models"
)

// Config is the top-level fundbooks.yaml configuration. It holds the policy
// constants the accounting core leaves tunable: the balancing epsilon, the
// bank-match window, and the fund overdraft policy.
type Config struct {
	Ledger   LedgerConfig   `yaml:"ledger"`
	Funds    FundsConfig    `yaml:"funds"`
	Tuition  TuitionConfig  `yaml:"tuition"`
	Matching MatchingConfig `yaml:"matching"`
}

// LedgerConfig controls posting validation.
type LedgerConfig struct {
	// Epsilon is the maximum tolerated debit/credit difference, as a decimal
	// string. Defaults to half a cent.
	Epsilon string `yaml:"epsilon"`
}

// FundsConfig controls fund transfers and allocations.
type FundsConfig struct {
	// ClearingAccountID is the asset account both sides of a transfer or
	// allocation post against.
	ClearingAccountID string `yaml:"clearing_account_id"`
	// AllowOverdraft lists fund types permitted to carry a negative balance.
	// Restricted fund types are never listed by default.
	AllowOverdraft []string `yaml:"allow_overdraft"`
}

// TuitionConfig names the accounts tuition processing posts against.
type TuitionConfig struct {
	ExpenseAccountID string `yaml:"expense_account_id"`
	PayableAccountID string `yaml:"payable_account_id"`
	CashAccountID    string `yaml:"cash_account_id"`
	FundID           string `yaml:"fund_id"`
}

// MatchingConfig controls bank reconciliation candidate search and matching.
type MatchingConfig struct {
	// DateWindowDays is the +/- window around a statement line's date when
	// searching for candidates.
	DateWindowDays int `yaml:"date_window_days"`
	// AmountTolerance is how far a candidate's amount may stray from the
	// statement line's, as a decimal string. Matching itself still requires
	// agreement within the ledger epsilon.
	AmountTolerance string `yaml:"amount_tolerance"`
}

// Default returns the built-in policy constants.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{Epsilon: "0.005"},
		Funds: FundsConfig{
			AllowOverdraft: []string{string(models.FundGeneral)},
		},
		Matching: MatchingConfig{
			DateWindowDays:  5,
			AmountTolerance: "10.00",
		},
	}
}

// Load reads a fundbooks.yaml file from disk, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Ledger.Epsilon == "" {
		cfg.Ledger.Epsilon = "0.005"
	}
	if cfg.Matching.DateWindowDays <= 0 {
		cfg.Matching.DateWindowDays = 5
	}
	if cfg.Matching.AmountTolerance == "" {
		cfg.Matching.AmountTolerance = "10.00"
	}
	return cfg, nil
}

// Epsilon parses the configured balancing epsilon.
func (c *Config) Epsilon() (decimal.Decimal, error) {
	eps, err := decimal.NewFromString(c.Ledger.Epsilon)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing epsilon %q: %w", c.Ledger.Epsilon, err)
	}
	return eps, nil
}

// AmountTolerance parses the configured candidate amount tolerance.
func (c *Config) AmountTolerance() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(c.Matching.AmountTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount tolerance %q: %w", c.Matching.AmountTolerance, err)
	}
	return tol, nil
}

// OverdraftAllowed reports whether the fund type may go negative.
func (c *Config) OverdraftAllowed(t models.FundType) bool {
	for _, ft := range c.Funds.AllowOverdraft {
		if models.FundType(ft) == t {
			return true
		}
	}
	return false
}

// AccountID parses one of the configured account id fields.
func AccountID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing account id %q: %w", s, err)
	}
	return id, nil
}
