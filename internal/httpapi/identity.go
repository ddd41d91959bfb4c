package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Identity is asserted by the upstream authentication proxy.
const (
	headerCustomerID = "X-Customer-ID"
	headerStaffID    = "X-Staff-ID"
)

type customerKey struct{}
type staffKey struct{}

func customerFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(customerKey{}).(int64)
	return id
}

func staffFromContext(ctx context.Context) string {
	id, _ := ctx.Value(staffKey{}).(string)
	return id
}

func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(headerCustomerID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			writeError(r.Context(), w, newError("unauthenticated", "customer identity required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), customerKey{}, id)))
	})
}

func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerStaffID))
		if id == "" {
			writeError(r.Context(), w, newError("forbidden", "staff identity required", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), staffKey{}, id)))
	})
}
