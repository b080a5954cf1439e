package handler

import (
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
)

type validateCouponRequest struct {
	Code string        `json:"code"`
	Cart cart.Snapshot `json:"cart"`
}

type validateCouponResponse struct {
	Code         string          `json:"code"`
	PromotionID  string          `json:"promotionId"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping"`
	Description  string          `json:"description,omitempty"`
}

// validateCoupon previews the discount a coupon would grant against the
// submitted cart. Read-only: nothing is reserved, so a positive preview can
// still lose the redemption race at order placement.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, group := userIdentity(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "user identity required")
		return
	}

	var req validateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code required")
		return
	}

	v, err := h.ledger.Validate(r.Context(), req.Code, userID, req.Cart, group)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateCouponResponse{
		Code:         v.Coupon.Code,
		PromotionID:  v.Promotion.ID,
		Discount:     v.Discount.Amount,
		FreeShipping: v.Discount.FreeShipping,
		Description:  v.Discount.Description,
	})
}

type redeemRequest struct {
	CouponID       string          `json:"couponId"`
	UserID         string          `json:"userId"`
	OrderID        string          `json:"orderId"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type usageJSON struct {
	ID             string          `json:"id"`
	CouponID       string          `json:"couponId"`
	UserID         string          `json:"userId"`
	OrderID        string          `json:"orderId"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// redeemCoupon commits one usage unit for a placed order. Called only by the
// order placement service; a concurrent_exhaustion response means the caller
// must re-price or fail the order before finalizing it.
func (h *Handler) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	u, err := h.ledger.Redeem(r.Context(), coupon.RedeemRequest{
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, usageJSON{
		ID:             u.ID,
		CouponID:       u.CouponID,
		UserID:         u.UserID,
		OrderID:        u.OrderID,
		DiscountAmount: u.DiscountAmount,
		CreatedAt:      u.CreatedAt,
	})
}

type createCouponRequest struct {
	Code        string     `json:"code"`
	PromotionID string     `json:"promotionId"`
	UsageLimit  *int       `json:"usageLimit,omitempty"`
	UserLimit   int        `json:"userLimit,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	code := coupon.NormalizeCode(req.Code)
	if code == "" || req.PromotionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and promotionId required")
		return
	}
	if _, err := h.promotions.GetByID(r.Context(), req.PromotionID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	userLimit := req.UserLimit
	if userLimit == 0 {
		userLimit = 1
	}

	c := &coupon.Coupon{
		ID:          ulid.Make().String(),
		Code:        code,
		PromotionID: req.PromotionID,
		UsageLimit:  req.UsageLimit,
		UserLimit:   userLimit,
		ExpiresAt:   req.ExpiresAt,
		Status:      coupon.StatusActive,
	}
	if err := h.coupons.Create(r.Context(), c); err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          c.ID,
		"code":        c.Code,
		"promotionId": c.PromotionID,
		"userLimit":   c.UserLimit,
		"status":      c.Status,
	})
}
