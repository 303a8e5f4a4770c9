package tuition

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/store"
)

// Accounts names the ledger accounts tuition processing posts against.
type Accounts struct {
	ExpenseAccountID uuid.UUID
	PayableAccountID uuid.UUID
	CashAccountID    uuid.UUID
	FundID           uuid.UUID
}

// Service runs the tuition credit lifecycle: draft through approval,
// batching, processing and provider payment. Credits are never deleted;
// voiding issues an equal-and-opposite adjustment credit, mirroring the
// ledger's append-only policy.
type Service struct {
	storage  store.Storage
	ledger   *ledger.Service
	accounts Accounts
}

// NewService creates a tuition Service.
func NewService(s store.Storage, l *ledger.Service, accounts Accounts) *Service {
	return &Service{storage: s, ledger: l, accounts: accounts}
}

// CreateCreditParams holds the fields for a new draft credit.
type CreateCreditParams struct {
	StudentID     uuid.UUID
	ProviderID    uuid.UUID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	CreditAmount  decimal.Decimal
	DPPPortion    decimal.Decimal
	FamilyPortion decimal.Decimal
	CreatedByID   uuid.UUID
}

// CreateCredit stores a new DRAFT credit. The split invariant
// DPPPortion + FamilyPortion == CreditAmount is checked here and on every
// later transition.
func (s *Service) CreateCredit(p CreateCreditParams) (*models.TuitionCredit, error) {
	c := &models.TuitionCredit{
		ID:            uuid.New(),
		StudentID:     p.StudentID,
		ProviderID:    p.ProviderID,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		CreditAmount:  p.CreditAmount,
		DPPPortion:    p.DPPPortion,
		FamilyPortion: p.FamilyPortion,
		Status:        models.CreditDraft,
		CreatedByID:   p.CreatedByID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if !c.SplitValid() {
		return nil, models.InvalidSplitError{CreditID: c.ID, CreditAmount: c.CreditAmount,
			DPPPortion: c.DPPPortion, FamilyPortion: c.FamilyPortion}
	}
	if c.CreditAmount.IsNegative() || c.CreditAmount.IsZero() {
		return nil, models.InvalidEntryError{Reason: "credit amount must be positive"}
	}
	if err := s.storage.CreateCredit(c); err != nil {
		return nil, fmt.Errorf("storing credit: %w", err)
	}
	return c, nil
}

// Submit moves a DRAFT credit to PENDING_APPROVAL. Only the creator may
// submit.
func (s *Service) Submit(creditID, actorID uuid.UUID) error {
	c, err := s.storage.GetCredit(creditID)
	if err != nil {
		return err
	}
	if c.CreatedByID != actorID {
		return fmt.Errorf("credit %s may only be submitted by its creator", creditID)
	}
	return s.transitionCredit(c, models.CreditPendingApproval)
}

// Approve moves a PENDING_APPROVAL credit to APPROVED. The approver must be
// distinct from the creator.
func (s *Service) Approve(creditID, approverID uuid.UUID) error {
	c, err := s.storage.GetCredit(creditID)
	if err != nil {
		return err
	}
	if approverID == uuid.Nil || approverID == c.CreatedByID {
		return fmt.Errorf("credit %s requires an approver distinct from its creator", creditID)
	}
	c.ApprovedByID = &approverID
	return s.transitionCredit(c, models.CreditApproved)
}

// Reject moves a PENDING_APPROVAL credit to REJECTED. A non-empty reason is
// required, and like Approve the reviewer must be distinct from the creator.
func (s *Service) Reject(creditID, approverID uuid.UUID, reason string) error {
	if reason == "" {
		return fmt.Errorf("rejecting credit %s requires a reason", creditID)
	}
	c, err := s.storage.GetCredit(creditID)
	if err != nil {
		return err
	}
	if approverID == uuid.Nil || approverID == c.CreatedByID {
		return fmt.Errorf("credit %s requires a reviewer distinct from its creator", creditID)
	}
	c.RejectedByID = &approverID
	c.RejectionReason = reason
	return s.transitionCredit(c, models.CreditRejected)
}

func (s *Service) transitionCredit(c *models.TuitionCredit, next models.CreditStatus) error {
	if !c.Status.CanTransition(next) {
		return models.TransitionError{Entity: "tuition credit", ID: c.ID, From: string(c.Status), To: string(next)}
	}
	if !c.SplitValid() {
		return models.InvalidSplitError{CreditID: c.ID, CreditAmount: c.CreditAmount,
			DPPPortion: c.DPPPortion, FamilyPortion: c.FamilyPortion}
	}
	c.Status = next
	c.UpdatedAt = time.Now()
	return s.storage.UpdateCredit(c)
}

// CreateBatch groups APPROVED, unbatched credits for processing. TotalAmount
// is the sum of member DPP portions and ProviderIDs is derived from the
// members.
func (s *Service) CreateBatch(creditIDs []uuid.UUID, actorID uuid.UUID) (*models.TuitionCreditBatch, error) {
	if len(creditIDs) == 0 {
		return nil, fmt.Errorf("batch needs at least one credit")
	}
	batchID := uuid.New()
	total := decimal.Zero
	providerSeen := make(map[uuid.UUID]bool)
	var providers []uuid.UUID
	credits := make([]*models.TuitionCredit, 0, len(creditIDs))
	for _, id := range creditIDs {
		c, err := s.storage.GetCredit(id)
		if err != nil {
			return nil, err
		}
		if c.Status != models.CreditApproved {
			return nil, models.TransitionError{Entity: "tuition credit", ID: id, From: string(c.Status), To: string(models.CreditProcessed)}
		}
		if c.BatchID != nil {
			return nil, fmt.Errorf("credit %s already belongs to batch %s", id, *c.BatchID)
		}
		total = total.Add(c.DPPPortion)
		if !providerSeen[c.ProviderID] {
			providerSeen[c.ProviderID] = true
			providers = append(providers, c.ProviderID)
		}
		credits = append(credits, c)
	}

	b := &models.TuitionCreditBatch{
		ID:          batchID,
		CreditIDs:   creditIDs,
		ProviderIDs: providers,
		TotalAmount: total,
		Status:      models.BatchDraft,
		CreatedByID: actorID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for _, c := range credits {
		c.BatchID = &batchID
		c.UpdatedAt = time.Now()
	}
	// One atomic step: the store re-validates membership, so a credit
	// claimed by a concurrent batch fails the whole creation.
	if err := s.storage.CreateBatchWithMembers(b, credits); err != nil {
		return nil, fmt.Errorf("storing batch: %w", err)
	}
	return b, nil
}

// SubmitBatch moves a DRAFT batch to PENDING_APPROVAL.
func (s *Service) SubmitBatch(batchID uuid.UUID) error {
	return s.transitionBatch(batchID, models.BatchPendingApproval, nil)
}

// ApproveBatch moves a PENDING_APPROVAL batch to APPROVED. The approver must
// be distinct from the batch creator.
func (s *Service) ApproveBatch(batchID, approverID uuid.UUID) error {
	guard := func(b *models.TuitionCreditBatch) error {
		if approverID == uuid.Nil || approverID == b.CreatedByID {
			return fmt.Errorf("batch %s requires an approver distinct from its creator", batchID)
		}
		return nil
	}
	return s.transitionBatch(batchID, models.BatchApproved, guard)
}

func (s *Service) transitionBatch(batchID uuid.UUID, next models.BatchStatus, guard func(*models.TuitionCreditBatch) error) error {
	b, err := s.storage.GetBatch(batchID)
	if err != nil {
		return err
	}
	if guard != nil {
		if err := guard(b); err != nil {
			return err
		}
	}
	if !b.Status.CanTransition(next) {
		return models.TransitionError{Entity: "tuition credit batch", ID: batchID, From: string(b.Status), To: string(next)}
	}
	b.Status = next
	b.UpdatedAt = time.Now()
	return s.storage.UpdateBatch(b)
}

// ProcessBatch transitions every member credit APPROVED -> PROCESSED and the
// batch itself to PROCESSED, posting one recognition transaction for the
// batch total, all in a single atomic step. If any member cannot transition
// the whole operation fails and no state changes, so a caller can retry
// after a timeout without double effect.
func (s *Service) ProcessBatch(batchID uuid.UUID) error {
	b, err := s.storage.GetBatch(batchID)
	if err != nil {
		return err
	}
	if !b.Status.CanTransition(models.BatchProcessed) {
		return models.TransitionError{Entity: "tuition credit batch", ID: batchID, From: string(b.Status), To: string(models.BatchProcessed)}
	}

	now := time.Now()
	credits := make([]*models.TuitionCredit, 0, len(b.CreditIDs))
	for _, id := range b.CreditIDs {
		c, err := s.storage.GetCredit(id)
		if err != nil {
			return err
		}
		if !c.Status.CanTransition(models.CreditProcessed) {
			return models.TransitionError{Entity: "tuition credit", ID: id, From: string(c.Status), To: string(models.CreditProcessed)}
		}
		c.Status = models.CreditProcessed
		c.UpdatedAt = now
		credits = append(credits, c)
	}

	recognition := &models.Transaction{
		ID:          uuid.New(),
		Date:        now,
		Description: fmt.Sprintf("Tuition credit batch %s", batchID),
		Reference:   batchID.String(),
		Kind:        models.KindStandard,
		Status:      models.TxPosted,
		CreatedAt:   now,
		UpdatedAt:   now,
		Entries: []models.Entry{
			{AccountID: s.accounts.ExpenseAccountID, FundID: s.accounts.FundID, Debit: b.TotalAmount},
			{AccountID: s.accounts.PayableAccountID, FundID: s.accounts.FundID, Credit: b.TotalAmount},
		},
	}
	for i := range recognition.Entries {
		recognition.Entries[i].ID = uuid.New()
		recognition.Entries[i].TransactionID = recognition.ID
	}
	if err := s.validateRecognition(recognition); err != nil {
		return err
	}

	b.Status = models.BatchProcessed
	b.UpdatedAt = now
	if err := s.storage.ProcessBatch(b, credits, recognition); err != nil {
		return fmt.Errorf("processing batch %s: %w", batchID, err)
	}
	log.Infof("processed batch %s: %d credits, total %s", batchID, len(credits), b.TotalAmount.StringFixed(2))
	return nil
}

func (s *Service) validateRecognition(t *models.Transaction) error {
	check := *t
	check.Status = models.TxDraft
	entries := make([]models.Entry, len(t.Entries))
	copy(entries, t.Entries)
	check.Entries = entries
	return s.ledger.Validate(&check)
}

// GeneratePayment creates a PENDING provider payment consuming the given
// PROCESSED credits. The amount is the sum of DPP portions. Credits are
// marked consumed immediately so no other payment can take them, but they
// become PAID only when the payment completes — money must actually move
// first.
func (s *Service) GeneratePayment(providerID uuid.UUID, creditIDs []uuid.UUID) (*models.ProviderPayment, error) {
	if len(creditIDs) == 0 {
		return nil, fmt.Errorf("payment needs at least one credit")
	}
	paymentID := uuid.New()
	amount := decimal.Zero
	credits := make([]*models.TuitionCredit, 0, len(creditIDs))
	for _, id := range creditIDs {
		c, err := s.storage.GetCredit(id)
		if err != nil {
			return nil, err
		}
		if c.ProviderID != providerID {
			return nil, fmt.Errorf("credit %s belongs to provider %s, not %s", id, c.ProviderID, providerID)
		}
		if c.Status != models.CreditProcessed {
			return nil, models.TransitionError{Entity: "tuition credit", ID: id, From: string(c.Status), To: string(models.CreditPaid)}
		}
		if c.Consumed() {
			return nil, models.CreditConsumedError{CreditID: id, PaymentID: *c.PaymentID}
		}
		amount = amount.Add(c.DPPPortion)
		c.PaymentID = &paymentID
		c.UpdatedAt = time.Now()
		credits = append(credits, c)
	}

	p := &models.ProviderPayment{
		ID:         paymentID,
		ProviderID: providerID,
		Amount:     amount,
		CreditIDs:  creditIDs,
		Status:     models.PaymentPending,
		CreatedAt:  time.Now(),
	}
	if err := s.storage.CreatePayment(p, credits); err != nil {
		return nil, fmt.Errorf("storing payment: %w", err)
	}
	log.Infof("generated payment %s for provider %s: %s across %d credits",
		p.ID, providerID, amount.StringFixed(2), len(credits))
	return p, nil
}

// CompletePayment marks the payment COMPLETED, moves its credits to PAID and
// posts the settlement transaction, atomically. reference is the id returned
// by the external payment rail.
func (s *Service) CompletePayment(paymentID uuid.UUID, reference string) error {
	p, err := s.storage.GetPayment(paymentID)
	if err != nil {
		return err
	}
	if !p.Status.CanTransition(models.PaymentCompleted) {
		return models.TransitionError{Entity: "provider payment", ID: paymentID, From: string(p.Status), To: string(models.PaymentCompleted)}
	}

	now := time.Now()
	credits := make([]*models.TuitionCredit, 0, len(p.CreditIDs))
	for _, id := range p.CreditIDs {
		c, err := s.storage.GetCredit(id)
		if err != nil {
			return err
		}
		if !c.Status.CanTransition(models.CreditPaid) {
			return models.TransitionError{Entity: "tuition credit", ID: id, From: string(c.Status), To: string(models.CreditPaid)}
		}
		c.Status = models.CreditPaid
		c.UpdatedAt = now
		credits = append(credits, c)
	}

	settlement := &models.Transaction{
		ID:          uuid.New(),
		Date:        now,
		Description: fmt.Sprintf("Provider payment %s", paymentID),
		Reference:   reference,
		Kind:        models.KindPayment,
		Status:      models.TxPosted,
		CreatedAt:   now,
		UpdatedAt:   now,
		Entries: []models.Entry{
			{AccountID: s.accounts.PayableAccountID, FundID: s.accounts.FundID, Debit: p.Amount},
			{AccountID: s.accounts.CashAccountID, FundID: s.accounts.FundID, Credit: p.Amount},
		},
	}
	for i := range settlement.Entries {
		settlement.Entries[i].ID = uuid.New()
		settlement.Entries[i].TransactionID = settlement.ID
	}
	if err := s.validateRecognition(settlement); err != nil {
		return err
	}

	p.Status = models.PaymentCompleted
	p.Reference = reference
	p.CompletedAt = &now
	if err := s.storage.CompletePayment(p, credits, settlement); err != nil {
		return fmt.Errorf("completing payment %s: %w", paymentID, err)
	}
	log.Infof("completed payment %s (%s)", paymentID, reference)
	return nil
}

// FailPayment marks the payment FAILED and releases its credits back to
// PROCESSED so a later payment can pick them up.
func (s *Service) FailPayment(paymentID uuid.UUID, reason string) error {
	return s.releasePayment(paymentID, models.PaymentFailed, reason)
}

// VoidPayment cancels a payment that never went out and releases its
// credits.
func (s *Service) VoidPayment(paymentID uuid.UUID) error {
	return s.releasePayment(paymentID, models.PaymentVoided, "")
}

func (s *Service) releasePayment(paymentID uuid.UUID, next models.PaymentStatus, reason string) error {
	p, err := s.storage.GetPayment(paymentID)
	if err != nil {
		return err
	}
	if !p.Status.CanTransition(next) {
		return models.TransitionError{Entity: "provider payment", ID: paymentID, From: string(p.Status), To: string(next)}
	}
	now := time.Now()
	credits := make([]*models.TuitionCredit, 0, len(p.CreditIDs))
	for _, id := range p.CreditIDs {
		c, err := s.storage.GetCredit(id)
		if err != nil {
			return err
		}
		c.PaymentID = nil
		c.UpdatedAt = now
		credits = append(credits, c)
	}
	p.Status = next
	p.FailureReason = reason
	if err := s.storage.ReleaseCredits(p, credits); err != nil {
		return fmt.Errorf("releasing credits for payment %s: %w", paymentID, err)
	}
	log.Infof("payment %s moved to %s, %d credits released", paymentID, next, len(credits))
	return nil
}

// VoidCredit voids an APPROVED or PROCESSED credit by issuing an adjustment
// credit with equal and opposite amounts, rather than deleting anything.
func (s *Service) VoidCredit(creditID, actorID uuid.UUID) (*models.TuitionCredit, error) {
	c, err := s.storage.GetCredit(creditID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(models.CreditVoided) {
		return nil, models.TransitionError{Entity: "tuition credit", ID: creditID, From: string(c.Status), To: string(models.CreditVoided)}
	}
	if c.Consumed() {
		return nil, models.CreditConsumedError{CreditID: creditID, PaymentID: *c.PaymentID}
	}

	now := time.Now()
	adjustment := &models.TuitionCredit{
		ID:               uuid.New(),
		StudentID:        c.StudentID,
		ProviderID:       c.ProviderID,
		PeriodStart:      c.PeriodStart,
		PeriodEnd:        c.PeriodEnd,
		CreditAmount:     c.CreditAmount.Neg(),
		DPPPortion:       c.DPPPortion.Neg(),
		FamilyPortion:    c.FamilyPortion.Neg(),
		Status:           models.CreditApproved,
		IsAdjustment:     true,
		OriginalCreditID: &c.ID,
		CreatedByID:      actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	c.Status = models.CreditVoided
	c.UpdatedAt = now

	if err := s.storage.SaveCreditAdjustment(adjustment, c); err != nil {
		return nil, fmt.Errorf("storing adjustment for credit %s: %w", creditID, err)
	}
	log.Infof("voided credit %s with adjustment %s", creditID, adjustment.ID)
	return adjustment, nil
}

// Credit returns one credit.
func (s *Service) Credit(id uuid.UUID) (*models.TuitionCredit, error) {
	return s.storage.GetCredit(id)
}

// Batch returns one batch.
func (s *Service) Batch(id uuid.UUID) (*models.TuitionCreditBatch, error) {
	return s.storage.GetBatch(id)
}

// Payment returns one provider payment.
func (s *Service) Payment(id uuid.UUID) (*models.ProviderPayment, error) {
	return s.storage.GetPayment(id)
}
