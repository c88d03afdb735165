package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Mr-browny/ethy/business/domain/transfer"
	"github.com/Mr-browny/ethy/entities"
	"go.uber.org/zap"
)

type StatusProvider interface {
	Status(ctx context.Context) transfer.Status
	Transactions() ([]entities.TransactionRecord, bool)
}

type Handler struct {
	sp     StatusProvider
	logger *zap.SugaredLogger
}

type HealthResponse struct {
	Status string `json:"status"`
}

type TransactionsResponse struct {
	Account      entities.Account             `json:"account"`
	Transactions []entities.TransactionRecord `json:"transactions"`
}

func NewHandler(sp StatusProvider, logger *zap.SugaredLogger) *Handler {
	return &Handler{sp: sp, logger: logger}
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, HealthResponse{Status: "UP"})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.sp.Status(r.Context()))
}

// GetTransactions serves the cached ledger history. A missing entry means no account is connected
// or the view expired and has not been re-read yet.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	records, ok := h.sp.Transactions()
	if !ok {
		http.Error(w, "no transactions loaded", http.StatusNotFound)
		return
	}
	if records == nil {
		records = []entities.TransactionRecord{}
	}
	h.writeJSON(w, TransactionsResponse{
		Account:      h.sp.Status(r.Context()).Account,
		Transactions: records,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, response any) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		h.logger.Errorw("Error encoding response", "error", err)
		http.Error(w, "Error encoding response", http.StatusInternalServerError)
	}
}
