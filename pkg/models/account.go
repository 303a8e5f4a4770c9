package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountType classifies a chart-of-accounts entry.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

// Account is one entry in the chart of accounts. Once an account is referenced
// by a posted entry only Name and Active may change; accounts are deactivated,
// never deleted.
type Account struct {
	ID        uuid.UUID   `json:"id"`
	Number    string      `json:"number"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FundType classifies a fund by its restriction policy.
type FundType string

const (
	FundGeneral               FundType = "GENERAL"
	FundRestricted            FundType = "RESTRICTED"
	FundTemporarilyRestricted FundType = "TEMPORARILY_RESTRICTED"
	FundPermanentlyRestricted FundType = "PERMANENTLY_RESTRICTED"
	FundBoardDesignated       FundType = "BOARD_DESIGNATED"
)

// Fund is a segregated pool of money. Its balance is always derived from
// posted entries, never stored authoritatively.
type Fund struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Type             FundType   `json:"type"`
	Active           bool       `json:"active"`
	Restriction      string     `json:"restriction,omitempty"`
	RestrictionStart *time.Time `json:"restriction_start,omitempty"`
	RestrictionEnd   *time.Time `json:"restriction_end,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
