package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"treasury-service/internal/services"
)

type DataHandler struct {
	ingestionService *services.IngestionService
	logger           *zap.Logger
}

func NewDataHandler(ingestionService *services.IngestionService, logger *zap.Logger) *DataHandler {
	return &DataHandler{
		ingestionService: ingestionService,
		logger:           logger,
	}
}

type BulkTransactionsRequest struct {
	Transactions []services.TransactionInput `json:"transactions"`
}

func (h *DataHandler) CreateTransactionsBulk(w http.ResponseWriter, r *http.Request) {
	var request BulkTransactionsRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.ingestionService.CreateTransactionsBulk(r.Context(), principalFrom(r.Context()), request.Transactions)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}

	// a rejected batch commits nothing
	status := http.StatusCreated
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	respondWithJSON(w, status, result)
}
