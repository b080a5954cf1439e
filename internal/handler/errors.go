package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/promotion"
)

// errorPayload is the JSON body for every error response. Code is a stable
// machine-readable kind; Message is shopper-displayable; Details carries the
// unmet condition for conditions_not_met.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Code: code, Message: message})
}

// writeDomainError maps domain error kinds onto HTTP statuses and stable
// codes. Unknown errors become an opaque 500; domain failures are always
// reported with their reason since the shopper must learn why a coupon did
// not apply.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var notMet *promotion.ConditionsNotMetError

	switch {
	case errors.Is(err, coupon.ErrNotFound), errors.Is(err, promotion.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, coupon.ErrInactive), errors.Is(err, coupon.ErrPromotionInactive):
		writeError(w, http.StatusUnprocessableEntity, "inactive", err.Error())
	case errors.Is(err, coupon.ErrExpired):
		writeError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, coupon.ErrNotYetStarted):
		writeError(w, http.StatusUnprocessableEntity, "not_yet_started", err.Error())
	case errors.Is(err, coupon.ErrGlobalLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, "global_limit_exceeded", err.Error())
	case errors.Is(err, coupon.ErrUserLimitExceeded):
		writeError(w, http.StatusUnprocessableEntity, "user_limit_exceeded", err.Error())
	case errors.Is(err, coupon.ErrConcurrentExhaustion):
		writeError(w, http.StatusConflict, "concurrent_exhaustion", err.Error())
	case errors.Is(err, coupon.ErrDuplicateCode):
		writeError(w, http.StatusConflict, "duplicate_code", err.Error())
	case errors.Is(err, cart.ErrOwnershipViolation):
		writeError(w, http.StatusForbidden, "ownership_violation", err.Error())
	case errors.As(err, &notMet):
		writeJSON(w, http.StatusUnprocessableEntity, errorPayload{
			Code:    "conditions_not_met",
			Message: notMet.Error(),
			Details: string(notMet.Reason),
		})
	default:
		logError(r, err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
