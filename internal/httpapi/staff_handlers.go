package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/service"
)

type refundDecisionBody struct {
	Action        string `json:"action"`
	Response      string `json:"response"`
	AdminResponse string `json:"admin_response"`
}

func (b refundDecisionBody) text() string {
	if b.Response != "" {
		return b.Response
	}
	return b.AdminResponse
}

func (h *handlers) decideRefund(w http.ResponseWriter, r *http.Request) {
	requestID, ok := idParam(w, r, "requestID")
	if !ok {
		return
	}
	var req refundDecisionBody
	if !decodeJSON(w, r, &req) {
		return
	}

	decided, err := h.Refunds.Decide(r.Context(), requestID, req.Action, req.text(), staffFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (h *handlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Refunds.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

type orderStatusBody struct {
	Status string `json:"status"`
}

func (h *handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}
	var req orderStatusBody
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.Orders.UpdateStatus(r.Context(), orderID, strings.TrimSpace(req.Status))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.Payments.Verify(r.Context(), paymentID)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *handlers) unreconciledPayments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Payments.Unreconciled(r.Context(), queryInt(r, "limit"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) monthlyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.Monthly(r.Context(), queryInt(r, "year"), queryInt(r, "month"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) yearlyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.Yearly(r.Context(), queryInt(r, "year"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCustomerInput
	if !decodeJSON(w, r, &req) {
		return
	}

	customer, err := h.Catalog.CreateCustomer(r.Context(), req)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *handlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	page, err := h.Catalog.ListCustomers(r.Context(), queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := idParam(w, r, "customerID")
	if !ok {
		return
	}

	customer, err := h.Catalog.GetCustomer(r.Context(), customerID)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProductInput
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := h.Catalog.CreateProduct(r.Context(), req)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.Catalog.ListProducts(r.Context(), queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.Catalog.GetProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *handlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req service.StockAdjustment
	if !decodeJSON(w, r, &req) {
		return
	}

	variant, err := h.Catalog.AdjustStock(r.Context(), chi.URLParam(r, "code"), req)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

func (h *handlers) createPromotion(w http.ResponseWriter, r *http.Request) {
	var req service.PromotionInput
	if !decodeJSON(w, r, &req) {
		return
	}

	promotion, err := h.Catalog.CreatePromotion(r.Context(), req)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusCreated, promotion)
}

func (h *handlers) listPromotions(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.Catalog.ListPromotions(r.Context(), r.URL.Query().Get("product_code"))
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, promotions)
}

func (h *handlers) updatePromotion(w http.ResponseWriter, r *http.Request) {
	promotionID, ok := idParam(w, r, "promotionID")
	if !ok {
		return
	}
	var req service.PromotionInput
	if !decodeJSON(w, r, &req) {
		return
	}

	promotion, err := h.Catalog.UpdatePromotion(r.Context(), promotionID, req)
	if err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	writeJSON(w, http.StatusOK, promotion)
}

func (h *handlers) deletePromotion(w http.ResponseWriter, r *http.Request) {
	promotionID, ok := idParam(w, r, "promotionID")
	if !ok {
		return
	}

	if err := h.Catalog.DeletePromotion(r.Context(), promotionID); err != nil {
		respondError(w, r, err, audienceStaff)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
