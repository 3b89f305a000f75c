package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"treasury-service/internal/models"
	"treasury-service/internal/services"
)

type FundHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

func NewFundHandler(ledger *services.LedgerService, logger *zap.Logger) *FundHandler {
	return &FundHandler{ledger: ledger, logger: logger}
}

func (h *FundHandler) List(w http.ResponseWriter, r *http.Request) {
	funds, err := h.ledger.ListFunds(r.Context(), principalFrom(r.Context()), queryBool(r, "include_inactive"))
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, funds)
}

func (h *FundHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	fund, err := h.ledger.GetFund(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, fund)
}

func (h *FundHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.FundInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	fund, err := h.ledger.CreateFund(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, fund)
}

func (h *FundHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.FundInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	fund, err := h.ledger.UpdateFund(r.Context(), principalFrom(r.Context()), id, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, fund)
}

func (h *FundHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	fund, err := h.ledger.ArchiveFund(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, fund)
}

// Ledger serves the balance history, optionally bounded by from/to dates.
func (h *FundHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	from, err := queryDate(r, "from", false)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	to, err := queryDate(r, "to", true)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	view, err := h.ledger.Ledger(r.Context(), principalFrom(r.Context()), id, from, to)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *FundHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	result, err := h.ledger.ReconcileFund(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *FundHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var in services.TransferInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	result, err := h.ledger.Transfer(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

type TransactionHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

func NewTransactionHandler(ledger *services.LedgerService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, logger: logger}
}

func transactionQuery(r *http.Request) (models.TransactionQuery, error) {
	var (
		q   models.TransactionQuery
		err error
	)
	if q.FundID, err = queryInt64(r, "fund_id"); err != nil {
		return q, err
	}
	if q.ChurchID, err = queryInt64(r, "church_id"); err != nil {
		return q, err
	}
	if q.From, err = queryDate(r, "from", false); err != nil {
		return q, err
	}
	if q.To, err = queryDate(r, "to", true); err != nil {
		return q, err
	}
	if q.Month, err = queryInt(r, "month"); err != nil {
		return q, err
	}
	if q.Year, err = queryInt(r, "year"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	q.Offset, err = queryInt(r, "offset")
	return q, err
}

func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := transactionQuery(r)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	page, err := h.ledger.ListTransactions(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	t, err := h.ledger.GetTransaction(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	t, err := h.ledger.CreateTransaction(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, t)
}

func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	var in services.TransactionUpdate
	if err := decodeJSON(r, &in); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	t, err := h.ledger.UpdateTransaction(r.Context(), principalFrom(r.Context()), id, in)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	if err := h.ledger.DeleteTransaction(r.Context(), principalFrom(r.Context()), id); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Transaction deleted"})
}
