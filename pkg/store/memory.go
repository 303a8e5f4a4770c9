package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harlowe/fundbooks/pkg/models"
)

// MemoryStore is an in-memory Storage implementation. It backs the service
// tests and works as an ephemeral store. All state is copied on the way in
// and out, so callers never share memory with the store; composite methods
// validate everything before mutating anything, which gives them the same
// all-or-nothing behavior as the SQLite implementation.
type MemoryStore struct {
	mu sync.RWMutex

	accounts        map[uuid.UUID]models.Account
	funds           map[uuid.UUID]models.Fund
	transactions    map[uuid.UUID]models.Transaction
	templates       map[uuid.UUID]models.RecurringTemplate
	credits         map[uuid.UUID]models.TuitionCredit
	batches         map[uuid.UUID]models.TuitionCreditBatch
	payments        map[uuid.UUID]models.ProviderPayment
	reconciliations map[uuid.UUID]models.BankReconciliation
	bankTxs         map[uuid.UUID]models.BankTransaction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:        make(map[uuid.UUID]models.Account),
		funds:           make(map[uuid.UUID]models.Fund),
		transactions:    make(map[uuid.UUID]models.Transaction),
		templates:       make(map[uuid.UUID]models.RecurringTemplate),
		credits:         make(map[uuid.UUID]models.TuitionCredit),
		batches:         make(map[uuid.UUID]models.TuitionCreditBatch),
		payments:        make(map[uuid.UUID]models.ProviderPayment),
		reconciliations: make(map[uuid.UUID]models.BankReconciliation),
		bankTxs:         make(map[uuid.UUID]models.BankTransaction),
	}
}

func copyTransaction(t models.Transaction) models.Transaction {
	entries := make([]models.Entry, len(t.Entries))
	copy(entries, t.Entries)
	t.Entries = entries
	return t
}

func copyIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

func copyBatch(b models.TuitionCreditBatch) models.TuitionCreditBatch {
	b.CreditIDs = copyIDs(b.CreditIDs)
	b.ProviderIDs = copyIDs(b.ProviderIDs)
	return b
}

func copyPayment(p models.ProviderPayment) models.ProviderPayment {
	p.CreditIDs = copyIDs(p.CreditIDs)
	return p
}

// --- accounts ---

func (m *MemoryStore) CreateAccount(a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetAccount(id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "account", ID: id}
	}
	return &a, nil
}

func (m *MemoryStore) UpdateAccount(a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		return models.NotFoundError{Entity: "account", ID: a.ID}
	}
	m.accounts[a.ID] = *a
	return nil
}

func (m *MemoryStore) ListAccounts() ([]*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		a := a
		out = append(out, &a)
	}
	return out, nil
}

// --- funds ---

func (m *MemoryStore) CreateFund(f *models.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[f.ID] = *f
	return nil
}

func (m *MemoryStore) GetFund(id uuid.UUID) (*models.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.funds[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "fund", ID: id}
	}
	return &f, nil
}

func (m *MemoryStore) UpdateFund(f *models.Fund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.funds[f.ID]; !ok {
		return models.NotFoundError{Entity: "fund", ID: f.ID}
	}
	m.funds[f.ID] = *f
	return nil
}

func (m *MemoryStore) ListFunds() ([]*models.Fund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Fund, 0, len(m.funds))
	for _, f := range m.funds {
		f := f
		out = append(out, &f)
	}
	return out, nil
}

// --- transactions ---

func (m *MemoryStore) CreateTransaction(t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = copyTransaction(*t)
	return nil
}

func (m *MemoryStore) GetTransaction(id uuid.UUID) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "transaction", ID: id}
	}
	t = copyTransaction(t)
	return &t, nil
}

func (m *MemoryStore) ListTransactions() ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		t := copyTransaction(t)
		out = append(out, &t)
	}
	return out, nil
}

func (m *MemoryStore) TransactionsByAccount(accountID uuid.UUID, from, to time.Time) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Transaction
	for _, t := range m.transactions {
		if !t.Status.Posted() || t.Status == models.TxVoided {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		for _, e := range t.Entries {
			if e.AccountID == accountID {
				t := copyTransaction(t)
				out = append(out, &t)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) EntriesByFund(fundID uuid.UUID, asOf time.Time) ([]*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Entry
	for _, t := range m.transactions {
		if !t.Status.Posted() || t.Date.After(asOf) {
			continue
		}
		for _, e := range t.Entries {
			if e.FundID == fundID {
				e := e
				out = append(out, &e)
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) EntriesThrough(asOf time.Time) ([]*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Entry
	for _, t := range m.transactions {
		if !t.Status.Posted() || t.Date.After(asOf) {
			continue
		}
		for _, e := range t.Entries {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *MemoryStore) SavePayment(payment, updated *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[updated.ID]; !ok {
		return models.NotFoundError{Entity: "transaction", ID: updated.ID}
	}
	m.transactions[payment.ID] = copyTransaction(*payment)
	m.transactions[updated.ID] = copyTransaction(*updated)
	return nil
}

func (m *MemoryStore) SaveReversal(reversal, original *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[original.ID]; !ok {
		return models.NotFoundError{Entity: "transaction", ID: original.ID}
	}
	m.transactions[reversal.ID] = copyTransaction(*reversal)
	m.transactions[original.ID] = copyTransaction(*original)
	return nil
}

// --- recurring templates ---

func (m *MemoryStore) CreateTemplate(t *models.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = *t
	return nil
}

func (m *MemoryStore) GetTemplate(id uuid.UUID) (*models.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "recurring template", ID: id}
	}
	return &t, nil
}

func (m *MemoryStore) UpdateTemplate(t *models.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return models.NotFoundError{Entity: "recurring template", ID: t.ID}
	}
	m.templates[t.ID] = *t
	return nil
}

func (m *MemoryStore) DueTemplates(asOf time.Time) ([]*models.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RecurringTemplate
	for _, t := range m.templates {
		if t.Active && !t.NextGenerationDate.After(asOf) {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GenerateFromTemplate(doc *models.Transaction, tpl *models.RecurringTemplate, dueDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.templates[tpl.ID]
	if !ok {
		return models.NotFoundError{Entity: "recurring template", ID: tpl.ID}
	}
	// CAS guard: a concurrent or repeated generation for the same due date
	// finds the template already advanced.
	if !stored.NextGenerationDate.Equal(dueDate) {
		return models.DuplicateGenerationError{TemplateID: tpl.ID, DueDate: dueDate.Format("2006-01-02")}
	}
	m.transactions[doc.ID] = copyTransaction(*doc)
	m.templates[tpl.ID] = *tpl
	return nil
}

// --- tuition ---

func (m *MemoryStore) CreateCredit(c *models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCredit(id uuid.UUID) (*models.TuitionCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credits[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "tuition credit", ID: id}
	}
	return &c, nil
}

func (m *MemoryStore) UpdateCredit(c *models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[c.ID]; !ok {
		return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
	}
	m.credits[c.ID] = *c
	return nil
}

func (m *MemoryStore) ListCreditsByProvider(providerID uuid.UUID) ([]*models.TuitionCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TuitionCredit
	for _, c := range m.credits {
		if c.ProviderID == providerID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateBatch(b *models.TuitionCreditBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = copyBatch(*b)
	return nil
}

func (m *MemoryStore) CreateBatchWithMembers(b *models.TuitionCreditBatch, credits []*models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Check every member before touching any, so a concurrent claim on one
	// credit leaves the whole batch uncreated.
	for _, c := range credits {
		cur, ok := m.credits[c.ID]
		if !ok {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if cur.Status != models.CreditApproved {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(cur.Status), To: string(models.CreditProcessed)}
		}
		if cur.BatchID != nil {
			return fmt.Errorf("credit %s already belongs to batch %s", c.ID, *cur.BatchID)
		}
	}
	for _, c := range credits {
		m.credits[c.ID] = *c
	}
	m.batches[b.ID] = copyBatch(*b)
	return nil
}

func (m *MemoryStore) GetBatch(id uuid.UUID) (*models.TuitionCreditBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "tuition credit batch", ID: id}
	}
	b = copyBatch(b)
	return &b, nil
}

func (m *MemoryStore) UpdateBatch(b *models.TuitionCreditBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return models.NotFoundError{Entity: "tuition credit batch", ID: b.ID}
	}
	m.batches[b.ID] = copyBatch(*b)
	return nil
}

func (m *MemoryStore) ProcessBatch(b *models.TuitionCreditBatch, credits []*models.TuitionCredit, recognition *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.batches[b.ID]
	if !ok {
		return models.NotFoundError{Entity: "tuition credit batch", ID: b.ID}
	}
	if !stored.Status.CanTransition(models.BatchProcessed) {
		return models.TransitionError{Entity: "tuition credit batch", ID: b.ID, From: string(stored.Status), To: string(models.BatchProcessed)}
	}
	// Check every member before touching any, so a bad Nth credit leaves the
	// whole batch untouched.
	for _, c := range credits {
		cur, ok := m.credits[c.ID]
		if !ok {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if !cur.Status.CanTransition(models.CreditProcessed) {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(cur.Status), To: string(models.CreditProcessed)}
		}
	}
	for _, c := range credits {
		m.credits[c.ID] = *c
	}
	m.batches[b.ID] = copyBatch(*b)
	if recognition != nil {
		m.transactions[recognition.ID] = copyTransaction(*recognition)
	}
	return nil
}

func (m *MemoryStore) CreatePayment(p *models.ProviderPayment, consumed []*models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range consumed {
		cur, ok := m.credits[c.ID]
		if !ok {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if cur.PaymentID != nil {
			return models.CreditConsumedError{CreditID: c.ID, PaymentID: *cur.PaymentID}
		}
	}
	for _, c := range consumed {
		m.credits[c.ID] = *c
	}
	m.payments[p.ID] = copyPayment(*p)
	return nil
}

func (m *MemoryStore) GetPayment(id uuid.UUID) (*models.ProviderPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "provider payment", ID: id}
	}
	p = copyPayment(p)
	return &p, nil
}

func (m *MemoryStore) UpdatePayment(p *models.ProviderPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return models.NotFoundError{Entity: "provider payment", ID: p.ID}
	}
	m.payments[p.ID] = copyPayment(*p)
	return nil
}

func (m *MemoryStore) CompletePayment(p *models.ProviderPayment, credits []*models.TuitionCredit, settlement *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return models.NotFoundError{Entity: "provider payment", ID: p.ID}
	}
	for _, c := range credits {
		cur, ok := m.credits[c.ID]
		if !ok {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
		if !cur.Status.CanTransition(models.CreditPaid) {
			return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(cur.Status), To: string(models.CreditPaid)}
		}
	}
	for _, c := range credits {
		m.credits[c.ID] = *c
	}
	m.payments[p.ID] = copyPayment(*p)
	if settlement != nil {
		m.transactions[settlement.ID] = copyTransaction(*settlement)
	}
	return nil
}

func (m *MemoryStore) ReleaseCredits(p *models.ProviderPayment, credits []*models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return models.NotFoundError{Entity: "provider payment", ID: p.ID}
	}
	for _, c := range credits {
		if _, ok := m.credits[c.ID]; !ok {
			return models.NotFoundError{Entity: "tuition credit", ID: c.ID}
		}
	}
	for _, c := range credits {
		m.credits[c.ID] = *c
	}
	m.payments[p.ID] = copyPayment(*p)
	return nil
}

func (m *MemoryStore) SaveCreditAdjustment(adjustment, original *models.TuitionCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[original.ID]; !ok {
		return models.NotFoundError{Entity: "tuition credit", ID: original.ID}
	}
	m.credits[adjustment.ID] = *adjustment
	m.credits[original.ID] = *original
	return nil
}

// --- reconciliation ---

func (m *MemoryStore) CreateReconciliation(r *models.BankReconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliations[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetReconciliation(id uuid.UUID) (*models.BankReconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reconciliations[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "reconciliation", ID: id}
	}
	return &r, nil
}

func (m *MemoryStore) UpdateReconciliation(r *models.BankReconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reconciliations[r.ID]; !ok {
		return models.NotFoundError{Entity: "reconciliation", ID: r.ID}
	}
	m.reconciliations[r.ID] = *r
	return nil
}

func (m *MemoryStore) ActiveReconciliation(bankAccountID uuid.UUID) (*models.BankReconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeReconciliationLocked(bankAccountID), nil
}

func (m *MemoryStore) activeReconciliationLocked(bankAccountID uuid.UUID) *models.BankReconciliation {
	for _, r := range m.reconciliations {
		if r.BankAccountID == bankAccountID && r.Status == models.ReconciliationInProgress {
			r := r
			return &r
		}
	}
	return nil
}

func (m *MemoryStore) CreateBankTransactions(lines []*models.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bt := range lines {
		m.bankTxs[bt.ID] = *bt
	}
	return nil
}

func (m *MemoryStore) GetBankTransaction(id uuid.UUID) (*models.BankTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bt, ok := m.bankTxs[id]
	if !ok {
		return nil, models.NotFoundError{Entity: "bank transaction", ID: id}
	}
	return &bt, nil
}

func (m *MemoryStore) ListBankTransactions(reconciliationID uuid.UUID) ([]*models.BankTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.BankTransaction
	for _, bt := range m.bankTxs {
		if bt.ReconciliationID == reconciliationID {
			bt := bt
			out = append(out, &bt)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveMatch(bt *models.BankTransaction, r *models.BankReconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bankTxs[bt.ID]; !ok {
		return models.NotFoundError{Entity: "bank transaction", ID: bt.ID}
	}
	if err := m.guardInProgressLocked(r); err != nil {
		return err
	}
	m.bankTxs[bt.ID] = *bt
	m.reconciliations[r.ID] = *r
	return nil
}

func (m *MemoryStore) SaveBankAdjustment(adjustment *models.Transaction, bt *models.BankTransaction, r *models.BankReconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bankTxs[bt.ID]; !ok {
		return models.NotFoundError{Entity: "bank transaction", ID: bt.ID}
	}
	if err := m.guardInProgressLocked(r); err != nil {
		return err
	}
	m.transactions[adjustment.ID] = copyTransaction(*adjustment)
	m.bankTxs[bt.ID] = *bt
	m.reconciliations[r.ID] = *r
	return nil
}

// guardInProgressLocked enforces at most one IN_PROGRESS session per bank
// account when a session is being moved to IN_PROGRESS.
func (m *MemoryStore) guardInProgressLocked(r *models.BankReconciliation) error {
	if r.Status != models.ReconciliationInProgress {
		return nil
	}
	if other := m.activeReconciliationLocked(r.BankAccountID); other != nil && other.ID != r.ID {
		return models.AlreadyInProgressError{BankAccountID: r.BankAccountID, ReconciliationID: other.ID}
	}
	return nil
}

func (m *MemoryStore) CompleteReconciliation(r *models.BankReconciliation, lines []*models.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reconciliations[r.ID]; !ok {
		return models.NotFoundError{Entity: "reconciliation", ID: r.ID}
	}
	for _, bt := range lines {
		if _, ok := m.bankTxs[bt.ID]; !ok {
			return models.NotFoundError{Entity: "bank transaction", ID: bt.ID}
		}
	}
	for _, bt := range lines {
		m.bankTxs[bt.ID] = *bt
	}
	m.reconciliations[r.ID] = *r
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
