package recurring

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

// Service turns recurrence templates into dated, posted bills and invoices.
// It owns no schedule of its own: an external scheduler discovers due
// templates with DueTemplates and calls Generate.
type Service struct {
	storage store.Storage
	ledger  *ledger.Service
}

// NewService creates a recurring generator Service.
func NewService(s store.Storage, l *ledger.Service) *Service {
	return &Service{storage: s, ledger: l}
}

// CreateTemplate stores a new recurrence template.
func (s *Service) CreateTemplate(t *models.RecurringTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Amount.IsNegative() || t.Amount.IsZero() {
		return models.InvalidEntryError{Reason: "template amount must be positive"}
	}
	now := time.Now()
	t.Active = true
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.storage.CreateTemplate(t)
}

// Deactivate retires a template. Templates are never deleted.
func (s *Service) Deactivate(templateID uuid.UUID) error {
	t, err := s.storage.GetTemplate(templateID)
	if err != nil {
		return err
	}
	t.Active = false
	t.UpdatedAt = time.Now()
	return s.storage.UpdateTemplate(t)
}

// DueTemplates returns active templates whose NextGenerationDate is at or
// before asOf.
func (s *Service) DueTemplates(asOf time.Time) ([]*models.RecurringTemplate, error) {
	return s.storage.DueTemplates(asOf)
}

// Generate builds the template's next document dated at NextGenerationDate,
// posts it, and advances the template. Generation is keyed by
// (templateID, nextGenerationDate): a second call for the same due date
// fails with DuplicateGenerationError instead of creating a second document,
// so a caller can safely retry after a timeout.
func (s *Service) Generate(templateID uuid.UUID) (*models.Transaction, error) {
	tpl, err := s.storage.GetTemplate(templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, models.TransitionError{Entity: "recurring template", ID: templateID, From: "INACTIVE", To: "GENERATED"}
	}
	dueDate := tpl.NextGenerationDate

	doc := s.buildDocument(tpl, dueDate)
	// Run the posting validations without committing; the commit happens
	// atomically with the template advance below.
	if err := s.validate(doc); err != nil {
		return nil, err
	}

	generated := dueDate
	next := models.NextDate(dueDate, tpl.Frequency, tpl.DayOfMonth, tpl.CustomDays)
	tpl.LastGeneratedDate = &generated
	tpl.NextGenerationDate = next
	tpl.UpdatedAt = time.Now()

	if err := s.storage.GenerateFromTemplate(doc, tpl, dueDate); err != nil {
		return nil, err
	}
	log.Infof("generated %s %s from template %s for %s, next due %s",
		doc.Kind, doc.ID, tpl.ID, dueDate.Format("2006-01-02"), next.Format("2006-01-02"))
	return doc, nil
}

// buildDocument assembles the bill or invoice a template spawns. Bills post
// expense against payable; invoices post receivable against revenue.
func (s *Service) buildDocument(tpl *models.RecurringTemplate, dueDate time.Time) *models.Transaction {
	kind := models.KindBill
	if tpl.Kind == models.RecurringInvoice {
		kind = models.KindInvoice
	}
	due := dueDate.AddDate(0, 0, tpl.DueDays)
	doc := &models.Transaction{
		ID:             uuid.New(),
		Date:           dueDate,
		Description:    tpl.Description,
		Kind:           kind,
		Status:         models.TxPosted,
		CounterpartyID: &tpl.CounterpartyID,
		InvoiceNumber:  fmt.Sprintf("%s-%s", shortID(tpl.ID), dueDate.Format("20060102")),
		DueDate:        &due,
		AmountDue:      tpl.Amount,
		Entries: []models.Entry{
			{AccountID: tpl.DebitAccountID, FundID: tpl.FundID, Debit: tpl.Amount},
			{AccountID: tpl.CreditAccountID, FundID: tpl.FundID, Credit: tpl.Amount},
		},
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	for i := range doc.Entries {
		doc.Entries[i].ID = uuid.New()
		doc.Entries[i].TransactionID = doc.ID
	}
	return doc
}

// validate runs the ledger's posting checks on a document that will be
// committed through GenerateFromTemplate rather than Post.
func (s *Service) validate(doc *models.Transaction) error {
	check := *doc
	check.Status = models.TxDraft
	entries := make([]models.Entry, len(doc.Entries))
	copy(entries, doc.Entries)
	check.Entries = entries
	return s.ledger.Validate(&check)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
