package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/safar/go-storefront/internal/service"
)

func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	var req service.LineItem
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.Payments.Quote(r.Context(), customerFromContext(r.Context()), req)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handlers) pay(w http.ResponseWriter, r *http.Request) {
	var req service.PayInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	res, err := h.Payments.Pay(r.Context(), customerFromContext(r.Context()), req)
	switch {
	case errors.Is(err, service.ErrPaymentPendingVerification) && res != nil:
		writeJSON(w, http.StatusAccepted, res)
	case err != nil:
		respondError(w, r, err, audienceCustomer)
	case res.Replayed:
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.Payments.Get(r.Context(), customerFromContext(r.Context()), paymentID)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *handlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.PaymentMethods.List(r.Context(), customerFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (h *handlers) addPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req service.AddPaymentMethodInput
	if !decodeJSON(w, r, &req) {
		return
	}

	method, err := h.PaymentMethods.Add(r.Context(), customerFromContext(r.Context()), req)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

func (h *handlers) setDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	methodID, ok := idParam(w, r, "methodID")
	if !ok {
		return
	}

	if err := h.PaymentMethods.SetDefault(r.Context(), customerFromContext(r.Context()), methodID); err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) removePaymentMethod(w http.ResponseWriter, r *http.Request) {
	methodID, ok := idParam(w, r, "methodID")
	if !ok {
		return
	}

	if err := h.PaymentMethods.Remove(r.Context(), customerFromContext(r.Context()), methodID); err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutInput
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.Orders.CreateOrder(r.Context(), customerFromContext(r.Context()), req)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.Orders.List(r.Context(), customerFromContext(r.Context()), r.URL.Query().Get("cursor"), queryInt(r, "limit"))
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.Orders.Get(r.Context(), customerFromContext(r.Context()), orderID)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type refundRequestBody struct {
	Reason string `json:"reason"`
}

func (h *handlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "paymentID")
	if !ok {
		return
	}
	var req refundRequestBody
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	request, err := h.Refunds.Request(r.Context(), customerFromContext(r.Context()), paymentID, req.Reason)
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *handlers) listCustomerRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Refunds.ListForCustomer(r.Context(), customerFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *handlers) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Loyalty.Summary(r.Context(), customerFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err, audienceCustomer)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
