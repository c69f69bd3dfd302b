package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

type adjustInventoryRequest struct {
	Quantity  *int64 `json:"quantity"`
	Operation string `json:"operation"`
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	record, err := h.orders.GetInventory(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var req adjustInventoryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}
	if req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "quantity is required"})
		return
	}

	operation := domain.ParseInventoryOperation(req.Operation)
	if operation == "" {
		operation = domain.InventoryOperationSet
	}

	record, err := h.orders.AdjustInventory(r.Context(), chi.URLParam(r, "productId"), domain.InventoryAdjustment{
		Operation: operation,
		Quantity:  *req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
