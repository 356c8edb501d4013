package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// CustomerTokenHeader carries the token the storefront session layer issues at login.
	CustomerTokenHeader = "X-Customer-Token"
	customerIDHeader    = "X-Customer-ID"
)

// IssueCustomerToken returns "<customer id>.<hex hmac>" for the given customer.
func IssueCustomerToken(secret, customerID string) string {
	return customerID + "." + customerMAC(secret, customerID)
}

// VerifyCustomerToken returns the customer id a token was issued for.
func VerifyCustomerToken(secret, token string) (string, bool) {
	i := strings.LastIndexByte(token, '.')
	if secret == "" || i <= 0 {
		return "", false
	}
	customerID, mac := token[:i], token[i+1:]
	if !hmac.Equal([]byte(mac), []byte(customerMAC(secret, customerID))) {
		return "", false
	}
	return customerID, true
}

func customerMAC(secret, customerID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(customerID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identify replaces any client-supplied customer id with the one proven by the
// customer token. Requests without a token reach the services anonymously.
func (h *Handler) Identify(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(customerIDHeader)

		token := r.Header.Get(CustomerTokenHeader)
		if token == "" {
			next(w, r)
			return
		}
		customerID, ok := VerifyCustomerToken(h.customerSecret, token)
		if !ok {
			h.logger.Info("customer token rejected", "method", r.Method, "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r.Header.Set(customerIDHeader, customerID)
		next(w, r)
	}
}
