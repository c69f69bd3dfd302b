package notification

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

const storeName = "Sweet Bar"

// ConfirmationSubject возвращает тему письма с подтверждением.
func ConfirmationSubject(order domain.Order) string {
	return fmt.Sprintf("Pedido Confirmado - %s #%s", storeName, order.DisplayNumber())
}

// ConfirmationText собирает короткий текст подтверждения без оформления.
func ConfirmationText(order domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s!\n\n", order.CustomerName)
	fmt.Fprintf(&b, "Seu pedido #%s foi confirmado.\n", order.DisplayNumber())
	if ref := transactionRef(order); ref != "" {
		fmt.Fprintf(&b, "ID Transação: %s\n", ref)
	}
	b.WriteString("\nItens:\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "- %s: %dx R$ %s = R$ %s\n", item.Name, item.Quantity, item.UnitPrice, item.LineTotal())
	}
	fmt.Fprintf(&b, "\nSubtotal: R$ %s\n", order.Subtotal)
	fmt.Fprintf(&b, "Frete: R$ %s\n", order.ShippingCost)
	fmt.Fprintf(&b, "Total: R$ %s\n", order.Total)
	fmt.Fprintf(&b, "\nObrigado pela preferência!\n%s\n", storeName)
	return b.String()
}

func transactionRef(order domain.Order) string {
	if order.TransactionID != "" {
		return order.TransactionID
	}
	return order.PaymentID
}

// NormalizePhone приводит телефон к формату WhatsApp API: только цифры
// с кодом страны 55. Номер без кода страны содержит не больше 11 цифр.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) > 11 && strings.HasPrefix(digits, "55") {
		return digits
	}
	return "55" + digits
}
