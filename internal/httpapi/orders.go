package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/ordering"
)

type createOrderResponse struct {
	Order domain.Order `json:"order"`
}

type searchResponse struct {
	Count  int            `json:"count"`
	Orders []domain.Order `json:"orders"`
}

// orderStatusView: проекция заказа для страницы статуса.
type orderStatusView struct {
	OrderID             string                  `json:"orderId"`
	OrderNumber         string                  `json:"orderNumber"`
	CustomerName        string                  `json:"customerName"`
	CustomerEmail       string                  `json:"customerEmail"`
	CustomerPhone       string                  `json:"customerPhone,omitempty"`
	CustomerCPF         string                  `json:"customerCPF,omitempty"`
	ShippingAddress     *domain.ShippingAddress `json:"shippingAddress,omitempty"`
	Items               []domain.OrderItem      `json:"items"`
	Subtotal            domain.Money            `json:"subtotal"`
	ShippingCost        domain.Money            `json:"shippingCost"`
	Total               domain.Money            `json:"total"`
	Status              domain.OrderStatus      `json:"status"`
	PaymentStatus       domain.PaymentStatus    `json:"paymentStatus"`
	PaymentStatusDetail string                  `json:"paymentStatusDetail,omitempty"`
	PaymentID           string                  `json:"paymentId,omitempty"`
	PaymentMethod       string                  `json:"paymentMethod,omitempty"`
	TransactionAmount   *domain.Money           `json:"transactionAmount,omitempty"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
	PaymentApprovedAt   *time.Time              `json:"paymentApprovedAt,omitempty"`
}

func newOrderStatusView(o domain.Order) orderStatusView {
	return orderStatusView{
		OrderID:             o.ID,
		OrderNumber:         o.OrderNumber,
		CustomerName:        o.CustomerName,
		CustomerEmail:       o.CustomerEmail,
		CustomerPhone:       o.CustomerPhone,
		CustomerCPF:         o.CustomerCPF,
		ShippingAddress:     o.ShippingAddress,
		Items:               o.Items,
		Subtotal:            o.Subtotal,
		ShippingCost:        o.ShippingCost,
		Total:               o.Total,
		Status:              o.Status,
		PaymentStatus:       o.PaymentStatus,
		PaymentStatusDetail: o.PaymentStatusDetail,
		PaymentID:           o.PaymentID,
		PaymentMethod:       o.PaymentMethod,
		TransactionAmount:   o.TransactionAmount,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		PaymentApprovedAt:   o.PaymentApprovedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{Order: order})
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderStatusView(order))
}

func (h *Handler) searchOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.SearchOrders(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Count: len(orders), Orders: orders})
}
