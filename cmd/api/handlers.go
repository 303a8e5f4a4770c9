package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"github.com/harlowe/fundbooks/pkg/funds"
	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/models"
	"github.com/harlowe/fundbooks/pkg/reconcile"
	"github.com/harlowe/fundbooks/pkg/recurring"
	"github.com/harlowe/fundbooks/pkg/store"
	"github.com/harlowe/fundbooks/pkg/tuition"
)

// Server holds the service instances behind the HTTP API. The funds and
// tuition services are nil until their accounts are configured; their routes
// then answer 503.
type Server struct {
	storage   store.Storage
	ledger    *ledger.Service
	funds     *funds.Service
	recurring *recurring.Service
	tuition   *tuition.Service
	reconcile *reconcile.Service
}

// Routes registers every endpoint on the router.
func (s *Server) Routes(router *mux.Router) {
	router.HandleFunc("/accounts", s.createAccountHandler).Methods("POST")
	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}", s.getAccountHandler).Methods("GET")
	router.HandleFunc("/accounts/{id}", s.updateAccountHandler).Methods("PUT")

	router.HandleFunc("/funds", s.createFundHandler).Methods("POST")
	router.HandleFunc("/funds", s.listFundsHandler).Methods("GET")
	router.HandleFunc("/funds/balance-sheet", s.balanceSheetHandler).Methods("GET")
	router.HandleFunc("/funds/transfer", s.transferHandler).Methods("POST")
	router.HandleFunc("/funds/allocate", s.allocateHandler).Methods("POST")
	router.HandleFunc("/funds/{id}", s.getFundHandler).Methods("GET")
	router.HandleFunc("/funds/{id}/balance", s.fundBalanceHandler).Methods("GET")

	router.HandleFunc("/transactions", s.postTransactionHandler).Methods("POST")
	router.HandleFunc("/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/transactions/{id}", s.getTransactionHandler).Methods("GET")
	router.HandleFunc("/transactions/{id}/payments", s.applyPaymentHandler).Methods("POST")
	router.HandleFunc("/transactions/{id}/void", s.voidTransactionHandler).Methods("POST")

	router.HandleFunc("/recurring", s.createTemplateHandler).Methods("POST")
	router.HandleFunc("/recurring/due", s.dueTemplatesHandler).Methods("GET")
	router.HandleFunc("/recurring/{id}/generate", s.generateHandler).Methods("POST")
	router.HandleFunc("/recurring/{id}/deactivate", s.deactivateTemplateHandler).Methods("POST")

	router.HandleFunc("/credits", s.createCreditHandler).Methods("POST")
	router.HandleFunc("/credits/{id}", s.getCreditHandler).Methods("GET")
	router.HandleFunc("/credits/{id}/submit", s.submitCreditHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/approve", s.approveCreditHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/reject", s.rejectCreditHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/void", s.voidCreditHandler).Methods("POST")
	router.HandleFunc("/batches", s.createBatchHandler).Methods("POST")
	router.HandleFunc("/batches/{id}", s.getBatchHandler).Methods("GET")
	router.HandleFunc("/batches/{id}/submit", s.submitBatchHandler).Methods("POST")
	router.HandleFunc("/batches/{id}/approve", s.approveBatchHandler).Methods("POST")
	router.HandleFunc("/batches/{id}/process", s.processBatchHandler).Methods("POST")
	router.HandleFunc("/payments", s.generatePaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}", s.getPaymentHandler).Methods("GET")
	router.HandleFunc("/payments/{id}/complete", s.completePaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}/fail", s.failPaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id}/void", s.voidPaymentHandler).Methods("POST")

	router.HandleFunc("/reconciliations", s.startReconciliationHandler).Methods("POST")
	router.HandleFunc("/reconciliations/{id}", s.getReconciliationHandler).Methods("GET")
	router.HandleFunc("/reconciliations/{id}/statement", s.importStatementHandler).Methods("POST")
	router.HandleFunc("/reconciliations/{id}/lines", s.listLinesHandler).Methods("GET")
	router.HandleFunc("/reconciliations/{id}/complete", s.completeReconciliationHandler).Methods("POST")
	router.HandleFunc("/bank-transactions/{id}/candidates", s.candidatesHandler).Methods("GET")
	router.HandleFunc("/bank-transactions/{id}/match", s.matchHandler).Methods("POST")
	router.HandleFunc("/bank-transactions/{id}/adjustment", s.adjustmentHandler).Methods("POST")
	router.HandleFunc("/bank-transactions/{id}/reconcile", s.markReconciledHandler).Methods("POST")
}

// writeError maps the typed domain errors onto HTTP status codes. Every
// error body carries the ids and amounts the error holds.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		notFound     models.NotFoundError
		transition   models.TransitionError
		consumed     models.CreditConsumedError
		duplicate    models.DuplicateGenerationError
		inProgress   models.AlreadyInProgressError
		unbalanced   models.UnbalancedEntriesError
		invalidEntry models.InvalidEntryError
		inactiveAcct models.InactiveAccountError
		inactiveFund models.InactiveFundError
		overpayment  models.OverpaymentError
		sameFund     models.SameFundError
		insufficient models.InsufficientFundBalanceError
		allocation   models.UnbalancedAllocationError
		split        models.InvalidSplitError
		mismatch     models.AmountMismatchError
		incomplete   models.UnbalancedReconciliationError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &transition), errors.As(err, &consumed),
		errors.As(err, &duplicate), errors.As(err, &inProgress):
		status = http.StatusConflict
	case errors.As(err, &unbalanced), errors.As(err, &invalidEntry),
		errors.As(err, &inactiveAcct), errors.As(err, &inactiveFund),
		errors.As(err, &overpayment), errors.As(err, &sameFund),
		errors.As(err, &insufficient), errors.As(err, &allocation),
		errors.As(err, &split), errors.As(err, &mismatch), errors.As(err, &incomplete):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Errorf("internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// actorID is the authenticated user forwarded by the gateway. Authentication
// itself happens upstream.
func actorID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.Header.Get("X-User-ID"))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// --- accounts ---

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number string             `json:"number"`
		Name   string             `json:"name"`
		Type   models.AccountType `json:"type"`
	}
	if !decode(w, r, &req) {
		return
	}
	now := time.Now()
	a := &models.Account{
		ID:        uuid.New(),
		Number:    req.Number,
		Name:      req.Name,
		Type:      req.Type,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateAccount(a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccounts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	a, err := s.storage.GetAccount(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// updateAccountHandler changes only name and active flag. Number and type
// are fixed once the account exists; referenced accounts are deactivated,
// never deleted.
func (s *Server) updateAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	a, err := s.storage.GetAccount(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.Active != nil {
		a.Active = *req.Active
	}
	a.UpdatedAt = time.Now()
	if err := s.storage.UpdateAccount(a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- funds ---

func (s *Server) createFundHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Type        models.FundType `json:"type"`
		Restriction string          `json:"restriction"`
	}
	if !decode(w, r, &req) {
		return
	}
	now := time.Now()
	f := &models.Fund{
		ID:          uuid.New(),
		Name:        req.Name,
		Type:        req.Type,
		Active:      true,
		Restriction: req.Restriction,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.CreateFund(f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) listFundsHandler(w http.ResponseWriter, r *http.Request) {
	fundList, err := s.storage.ListFunds()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fundList)
}

func (s *Server) getFundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid fund ID", http.StatusBadRequest)
		return
	}
	f, err := s.storage.GetFund(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) fundBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid fund ID", http.StatusBadRequest)
		return
	}
	asOf := asOfParam(r)
	balance, err := s.ledger.FundBalance(id, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fund_id": id,
		"as_of":   asOf,
		"balance": balance,
	})
}

func asOfParam(r *http.Request) time.Time {
	if v := r.URL.Query().Get("as_of"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}
	return time.Now()
}

func (s *Server) balanceSheetHandler(w http.ResponseWriter, r *http.Request) {
	if s.funds == nil {
		http.Error(w, "Fund accounting is not configured", http.StatusServiceUnavailable)
		return
	}
	sheet, err := s.funds.BalanceSheet(asOfParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	if s.funds == nil {
		http.Error(w, "Fund accounting is not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		FromFundID  uuid.UUID       `json:"from_fund_id"`
		ToFundID    uuid.UUID       `json:"to_fund_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.funds.Transfer(req.FromFundID, req.ToFundID, req.Amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) allocateHandler(w http.ResponseWriter, r *http.Request) {
	if s.funds == nil {
		http.Error(w, "Fund accounting is not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Allocations []funds.Allocation `json:"allocations"`
		Description string             `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.funds.Allocate(req.Allocations, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// --- transactions ---

func (s *Server) postTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var t models.Transaction
	if !decode(w, r, &t) {
		return
	}
	if err := s.ledger.Post(&t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Transactions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.Transaction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount              decimal.Decimal `json:"amount"`
		Date                time.Time       `json:"date"`
		SettlementAccountID uuid.UUID       `json:"settlement_account_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now()
	}
	payment, err := s.ledger.ApplyPayment(id, req.Amount, req.Date, req.SettlementAccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) voidTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}
	reversal, err := s.ledger.Void(id, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reversal)
}

// --- recurring ---

func (s *Server) createTemplateHandler(w http.ResponseWriter, r *http.Request) {
	var t models.RecurringTemplate
	if !decode(w, r, &t) {
		return
	}
	if err := s.recurring.CreateTemplate(&t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) dueTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	templates, err := s.recurring.DueTemplates(asOfParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid template ID", http.StatusBadRequest)
		return
	}
	doc, err := s.recurring.Generate(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) deactivateTemplateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid template ID", http.StatusBadRequest)
		return
	}
	if err := s.recurring.Deactivate(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- tuition ---

func (s *Server) requireTuition(w http.ResponseWriter) bool {
	if s.tuition == nil {
		http.Error(w, "Tuition accounts are not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) createCreditHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	var req struct {
		StudentID     uuid.UUID       `json:"student_id"`
		ProviderID    uuid.UUID       `json:"provider_id"`
		PeriodStart   time.Time       `json:"period_start"`
		PeriodEnd     time.Time       `json:"period_end"`
		CreditAmount  decimal.Decimal `json:"credit_amount"`
		DPPPortion    decimal.Decimal `json:"dpp_portion"`
		FamilyPortion decimal.Decimal `json:"family_portion"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := s.tuition.CreateCredit(tuition.CreateCreditParams{
		StudentID:     req.StudentID,
		ProviderID:    req.ProviderID,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		CreditAmount:  req.CreditAmount,
		DPPPortion:    req.DPPPortion,
		FamilyPortion: req.FamilyPortion,
		CreatedByID:   actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCreditHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	c, err := s.tuition.Credit(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) creditAction(w http.ResponseWriter, r *http.Request, action func(creditID, actor uuid.UUID) error) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	if err := action(id, actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) submitCreditHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.tuition.Submit)
}

func (s *Server) approveCreditHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.tuition.Approve)
}

func (s *Server) rejectCreditHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.tuition.Reject(id, actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) voidCreditHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	adjustment, err := s.tuition.VoidCredit(id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adjustment)
}

func (s *Server) createBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	var req struct {
		CreditIDs []uuid.UUID `json:"credit_ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	b, err := s.tuition.CreateBatch(req.CreditIDs, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}
	b, err := s.tuition.Batch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) submitBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}
	if err := s.tuition.SubmitBatch(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		http.Error(w, "Missing X-User-ID", http.StatusBadRequest)
		return
	}
	if err := s.tuition.ApproveBatch(id, actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) processBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid batch ID", http.StatusBadRequest)
		return
	}
	if err := s.tuition.ProcessBatch(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	var req struct {
		ProviderID uuid.UUID   `json:"provider_id"`
		CreditIDs  []uuid.UUID `json:"credit_ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.tuition.GeneratePayment(req.ProviderID, req.CreditIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	p, err := s.tuition.Payment(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) completePaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reference string `json:"reference"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.tuition.CompletePayment(id, req.Reference); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) failPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.tuition.FailPayment(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) voidPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireTuition(w) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}
	if err := s.tuition.VoidPayment(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- reconciliation ---

func (s *Server) startReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankAccountID    uuid.UUID       `json:"bank_account_id"`
		StatementBalance decimal.Decimal `json:"statement_balance"`
		StartDate        time.Time       `json:"start_date"`
		EndDate          time.Time       `json:"end_date"`
	}
	if !decode(w, r, &req) {
		return
	}
	session, err := s.reconcile.Start(req.BankAccountID, req.StatementBalance, req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reconciliation ID", http.StatusBadRequest)
		return
	}
	session, err := s.reconcile.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) importStatementHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reconciliation ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Lines []models.StatementLine `json:"lines"`
	}
	if !decode(w, r, &req) {
		return
	}
	lines, err := s.reconcile.ImportStatement(id, req.Lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lines)
}

func (s *Server) listLinesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reconciliation ID", http.StatusBadRequest)
		return
	}
	lines, err := s.reconcile.Lines(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) candidatesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid bank transaction ID", http.StatusBadRequest)
		return
	}
	candidates, err := s.reconcile.FindMatchCandidates(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) matchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid bank transaction ID", http.StatusBadRequest)
		return
	}
	var req struct {
		TransactionID uuid.UUID `json:"transaction_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.reconcile.Match(id, req.TransactionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adjustmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid bank transaction ID", http.StatusBadRequest)
		return
	}
	var req struct {
		AccountID uuid.UUID                `json:"account_id"`
		FundID    uuid.UUID                `json:"fund_id"`
		Kind      reconcile.AdjustmentType `json:"kind"`
	}
	if !decode(w, r, &req) {
		return
	}
	adj, err := s.reconcile.CreateAdjustment(id, req.AccountID, req.FundID, req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (s *Server) markReconciledHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid bank transaction ID", http.StatusBadRequest)
		return
	}
	if err := s.reconcile.MarkReconciled(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeReconciliationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid reconciliation ID", http.StatusBadRequest)
		return
	}
	if err := s.reconcile.Complete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
