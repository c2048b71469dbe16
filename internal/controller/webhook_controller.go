package controller

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/infrastructure/observability"
	"github.com/oakmart/payments/internal/service"
)

const maxWebhookBodySize = 1 << 20

// WebhookController receives provider callbacks. Responses here are wire
// protocol: anything other than the provider's expected ack triggers
// redelivery, so failures after the event is recorded still return 200.
type WebhookController struct {
	webhooks *service.WebhookService
	metrics  *observability.Metrics
}

func NewWebhookController(webhooks *service.WebhookService, metrics *observability.Metrics) *WebhookController {
	return &WebhookController{webhooks: webhooks, metrics: metrics}
}

// Notify handles POST /payment/webhook/{provider}
func (h *WebhookController) Notify(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read body", Code: "invalid_body"})
		return
	}
	if len(body) > maxWebhookBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
		return
	}

	ack, outcome, err := h.webhooks.Process(r.Context(), provider, body, r.Header)
	if err != nil {
		if errors.Is(err, domainErrors.ErrProviderNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown provider", Code: "unknown_provider"})
			return
		}
		// Event row was never stored; a 500 makes the provider redeliver.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"})
		return
	}

	if h.metrics != nil {
		h.metrics.WebhooksReceived.WithLabelValues(provider, string(outcome)).Inc()
		h.metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}

	contentType := ack.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(ack.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(ack.Body)
}

// ListFailed handles GET /payment/webhooks/failed
func (h *WebhookController) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.webhooks.ListFailed(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := WebhookEventsResponse{Success: true, Events: make([]*WebhookEventView, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, FromWebhookEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
