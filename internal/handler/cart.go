package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/pricing"
)

type bindCouponRequest struct {
	Code string        `json:"code"`
	Cart cart.Snapshot `json:"cart"`
}

// bindCoupon attaches a coupon code to the cart after re-validating it.
// The binding is advisory; order placement validates again.
func (h *Handler) bindCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIdentity(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "user identity required")
		return
	}

	var req bindCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	b, err := h.carts.Bind(r.Context(), chi.URLParam(r, "cartID"), userID, req.Code, req.Cart)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cartId":  b.CartID,
		"code":    b.Code,
		"boundAt": b.BoundAt,
	})
}

func (h *Handler) unbindCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIdentity(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "user identity required")
		return
	}

	if err := h.carts.Unbind(r.Context(), chi.URLParam(r, "cartID"), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type evaluateCartRequest struct {
	// CartID lets evaluation pick up the coupon bound to the cart when no
	// explicit couponCode is supplied.
	CartID     string        `json:"cartId,omitempty"`
	Cart       cart.Snapshot `json:"cart"`
	CouponCode string        `json:"couponCode,omitempty"`
	SellerID   *string       `json:"sellerId,omitempty"`
}

type appliedJSON struct {
	PromotionID  string          `json:"promotionId"`
	Name         string          `json:"name"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping,omitempty"`
}

type evaluateCartResponse struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	Total         decimal.Decimal `json:"total"`
	FreeShipping  bool            `json:"freeShipping"`
	Applied       []appliedJSON   `json:"applied"`
	// CouponError explains why a supplied coupon did not apply; pricing
	// proceeded with automatic promotions only.
	CouponError string `json:"couponError,omitempty"`
}

// evaluateCart runs the full pricing pipeline for a cart and returns the
// applied promotion set with per-promotion amounts. Read-only.
func (h *Handler) evaluateCart(w http.ResponseWriter, r *http.Request) {
	userID, group := userIdentity(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "user identity required")
		return
	}

	var req evaluateCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	code := req.CouponCode
	if code == "" && req.CartID != "" {
		bound, err := h.carts.BoundCode(r.Context(), req.CartID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		code = bound
	}

	res, err := h.pricing.EvaluateCart(r.Context(), pricing.Request{
		Cart:            req.Cart,
		UserID:          userID,
		CustomerGroupID: group,
		CouponCode:      code,
		SellerID:        req.SellerID,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := evaluateCartResponse{
		Subtotal:      res.Subtotal,
		TotalDiscount: res.TotalDiscount,
		Total:         res.Total,
		FreeShipping:  res.FreeShipping,
		Applied:       make([]appliedJSON, len(res.Applied)),
	}
	for i, a := range res.Applied {
		resp.Applied[i] = appliedJSON{
			PromotionID:  a.Promotion.ID,
			Name:         a.Promotion.Name,
			Discount:     a.Discount.Amount,
			FreeShipping: a.Discount.FreeShipping,
		}
	}
	if res.CouponErr != nil {
		resp.CouponError = res.CouponErr.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}
