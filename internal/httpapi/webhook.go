package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/service/reconciliation"
)

// paymentWebhook всегда отвечает 200, иначе провайдер будет повторять доставку.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.WithField("panic", fmt.Sprint(rec)).Error("webhook handler panicked")
			writeJSON(w, http.StatusOK, reconciliation.Result{Received: true, Error: msgInternal})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WithError(err).Warn("failed to read webhook body")
	}

	n, err := reconciliation.ParseNotification(body, r.URL.Query())
	if err != nil {
		h.logger.WithError(err).Warn("webhook body is not valid JSON, using query parameters")
	}

	// Отключение провайдера не должно обрывать уже начатую сверку.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.webhookTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, h.reconciler.Handle(ctx, n))
}
