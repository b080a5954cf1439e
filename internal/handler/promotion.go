package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/harborline/promo-engine/internal/domain/promotion"
)

// promotionJSON is the wire shape for a promotion, shared by the public list
// and the admin CRUD endpoints.
type promotionJSON struct {
	ID             string                `json:"id,omitempty"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Type           promotion.Type        `json:"type"`
	Status         promotion.Status      `json:"status"`
	Priority       int                   `json:"priority"`
	StartsAt       time.Time             `json:"startsAt"`
	EndsAt         *time.Time            `json:"endsAt,omitempty"`
	Conditions     promotion.Conditions  `json:"conditions"`
	Action         promotion.Action      `json:"action"`
	Stackable      bool                  `json:"isStackable"`
	UsageLimit     *int                  `json:"usageLimit,omitempty"`
	UsageCount     int                   `json:"usageCount"`
	UserUsageLimit *int                  `json:"userUsageLimit,omitempty"`
	SellerID       *string               `json:"sellerId,omitempty"`
}

func toPromotionJSON(p promotion.Promotion) promotionJSON {
	return promotionJSON{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Type:           p.Type,
		Status:         p.Status,
		Priority:       p.Priority,
		StartsAt:       p.StartsAt,
		EndsAt:         p.EndsAt,
		Conditions:     p.Conditions,
		Action:         p.Action,
		Stackable:      p.Stackable,
		UsageLimit:     p.UsageLimit,
		UsageCount:     p.UsageCount,
		UserUsageLimit: p.UserUsageLimit,
		SellerID:       p.SellerID,
	}
}

func (j promotionJSON) toDomain() promotion.Promotion {
	return promotion.Promotion{
		ID:             j.ID,
		Name:           j.Name,
		Description:    j.Description,
		Type:           j.Type,
		Status:         j.Status,
		Priority:       j.Priority,
		StartsAt:       j.StartsAt,
		EndsAt:         j.EndsAt,
		Conditions:     j.Conditions,
		Action:         j.Action,
		Stackable:      j.Stackable,
		UsageLimit:     j.UsageLimit,
		UsageCount:     j.UsageCount,
		UserUsageLimit: j.UserUsageLimit,
		SellerID:       j.SellerID,
	}
}

// listPromotions returns the currently active promotions, optionally scoped
// to one seller via ?sellerId=.
func (h *Handler) listPromotions(w http.ResponseWriter, r *http.Request) {
	var sellerID *string
	if s := r.URL.Query().Get("sellerId"); s != "" {
		sellerID = &s
	}

	promos, err := h.promotions.ListActive(r.Context(), time.Now(), sellerID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]promotionJSON, len(promos))
	for i, p := range promos {
		out[i] = toPromotionJSON(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotions": out})
}

func (h *Handler) createPromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p := req.toDomain()
	p.ID = ulid.Make().String()
	if p.Status == "" {
		p.Status = promotion.StatusDraft
	}
	normalizeActionDecimals(&p.Action)

	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_promotion", err.Error())
		return
	}
	if err := h.promotions.Create(r.Context(), &p); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionJSON(p))
}

func (h *Handler) updatePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p := req.toDomain()
	p.ID = chi.URLParam(r, "promotionID")
	normalizeActionDecimals(&p.Action)

	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_promotion", err.Error())
		return
	}
	if err := h.promotions.Update(r.Context(), &p); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionJSON(p))
}

func (h *Handler) deletePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.promotions.Delete(r.Context(), chi.URLParam(r, "promotionID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// normalizeActionDecimals zeroes the decimal fields that do not belong to the
// action's type, so JSON payloads carrying stray fields round-trip cleanly.
func normalizeActionDecimals(a *promotion.Action) {
	switch a.Type {
	case promotion.TypePercentage:
		a.FixedAmount = decimal.Zero
	case promotion.TypeFixed:
		a.Percentage = decimal.Zero
	}
}
