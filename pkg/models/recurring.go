package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is the cadence of a recurrence template.
type Frequency string

const (
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqBiweekly Frequency = "BIWEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqQuarterly Frequency = "QUARTERLY"
	FreqAnnually Frequency = "ANNUALLY"
	FreqCustom   Frequency = "CUSTOM"
)

// RecurringKind says whether a template spawns bills or invoices.
type RecurringKind string

const (
	RecurringBill    RecurringKind = "BILL"
	RecurringInvoice RecurringKind = "INVOICE"
)

// RecurringTemplate periodically spawns concrete bills or invoices. It is
// mutated only by the generator advancing NextGenerationDate and
// LastGeneratedDate after a successful generation; deactivated, never deleted.
type RecurringTemplate struct {
	ID             uuid.UUID       `json:"id"`
	Kind           RecurringKind   `json:"kind"`
	Description    string          `json:"description"`
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	DebitAccountID  uuid.UUID      `json:"debit_account_id"`
	CreditAccountID uuid.UUID      `json:"credit_account_id"`
	FundID         uuid.UUID       `json:"fund_id"`
	Frequency      Frequency       `json:"frequency"`
	// DayOfMonth anchors MONTHLY/QUARTERLY/ANNUALLY generation; 0 keeps the
	// day of the previous due date. Clamped to the last day of short months.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// CustomDays is the interval for FreqCustom.
	CustomDays int `json:"custom_days,omitempty"`
	// DueDays is how many days after generation the document falls due.
	DueDays int `json:"due_days,omitempty"`

	NextGenerationDate time.Time  `json:"next_generation_date"`
	LastGeneratedDate  *time.Time `json:"last_generated_date,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NextDate computes the due date following from for the given cadence.
// For month-based frequencies the target day is dayOfMonth (or from's day
// when zero), clamped to the last day of the target month so a Jan 31
// monthly template lands on Feb 28/29.
func NextDate(from time.Time, freq Frequency, dayOfMonth, customDays int) time.Time {
	switch freq {
	case FreqDaily:
		return from.AddDate(0, 0, 1)
	case FreqWeekly:
		return from.AddDate(0, 0, 7)
	case FreqBiweekly:
		return from.AddDate(0, 0, 14)
	case FreqMonthly:
		return addMonthsClamped(from, 1, dayOfMonth)
	case FreqQuarterly:
		return addMonthsClamped(from, 3, dayOfMonth)
	case FreqAnnually:
		return addMonthsClamped(from, 12, dayOfMonth)
	case FreqCustom:
		if customDays < 1 {
			customDays = 1
		}
		return from.AddDate(0, 0, customDays)
	}
	return from.AddDate(0, 0, 1)
}

// addMonthsClamped advances by whole months without time.AddDate's rollover
// (Jan 31 + 1 month must be Feb 28, not Mar 3).
func addMonthsClamped(from time.Time, months, dayOfMonth int) time.Time {
	day := dayOfMonth
	if day <= 0 {
		day = from.Day()
	}
	year, month := from.Year(), int(from.Month())+months
	for month > 12 {
		month -= 12
		year++
	}
	if last := daysInMonth(year, time.Month(month)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, from.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
