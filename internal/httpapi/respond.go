package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/ordering"
)

const (
	msgOrderNotFound     = "Order not found"
	msgInventoryNotFound = "Inventory record not found"
	msgSearchTooShort    = "Termo de busca inválido. Forneça pelo menos 3 caracteres."
	msgInternal          = "Internal server error"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		details := make([]string, 0, len(validation.Errs))
		for _, e := range validation.Errs {
			details = append(details, e.Error())
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid order", Details: details})
	case errors.Is(err, ordering.ErrSearchTermTooShort):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": msgSearchTooShort})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgOrderNotFound})
	case errors.Is(err, domain.ErrInventoryNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgInventoryNotFound})
	case errors.Is(err, domain.ErrInventoryOperationInvalid),
		errors.Is(err, domain.ErrItemProductRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInventoryConstraint),
		errors.Is(err, domain.ErrOrderAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}
