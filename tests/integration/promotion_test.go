//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

func TestListPromotions_SeededCatalog(t *testing.T) {
	resp := doGet(t, "/api/promotions")
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusOK)

	list := decodeJSON[promotionListResponse](t, resp)
	if len(list.Promotions) < 4 {
		t.Fatalf("expected at least 4 seeded promotions, got %d", len(list.Promotions))
	}

	byID := make(map[string]promotionResponse, len(list.Promotions))
	for _, p := range list.Promotions {
		byID[p.ID] = p
	}
	if _, ok := byID["promo-summer-10"]; !ok {
		t.Error("seeded promotion promo-summer-10 missing from list")
	}
	if p, ok := byID["promo-save20"]; !ok {
		t.Error("seeded promotion promo-save20 missing from list")
	} else if p.Stackable {
		t.Error("promo-save20 should not be stackable")
	}

	// Priority ordering: highest first.
	for i := 1; i < len(list.Promotions); i++ {
		if list.Promotions[i].Priority > list.Promotions[i-1].Priority {
			t.Fatalf("promotions not ordered by priority: %d after %d",
				list.Promotions[i].Priority, list.Promotions[i-1].Priority)
		}
	}
}

func TestListPromotions_SellerScope(t *testing.T) {
	// All seeded promotions are platform-wide, so a seller scope returns none.
	resp := doGet(t, "/api/promotions?sellerId=seller-xyz")
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusOK)

	list := decodeJSON[promotionListResponse](t, resp)
	if len(list.Promotions) != 0 {
		t.Fatalf("expected no seller-scoped promotions, got %d", len(list.Promotions))
	}
}

func TestAdminPromotionLifecycle(t *testing.T) {
	create := map[string]any{
		"name":        "Integration flash sale",
		"type":        "percentage_discount",
		"status":      "active",
		"priority":    3,
		"isStackable": true,
		"startsAt":    time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"conditions":  map[string]any{"eligibilityType": "all"},
		"action":      map[string]any{"type": "percentage_discount", "percentage": "5"},
	}

	resp := doInternal(t, http.MethodPost, "/api/admin/promotions", create)
	wantStatus(t, resp, http.StatusCreated)
	created := decodeJSON[promotionResponse](t, resp)
	resp.Body.Close()

	if created.ID == "" {
		t.Fatal("created promotion has no id")
	}

	// It shows up in the active list.
	resp = doGet(t, "/api/promotions")
	list := decodeJSON[promotionListResponse](t, resp)
	resp.Body.Close()

	found := false
	for _, p := range list.Promotions {
		if p.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created promotion %s not in active list", created.ID)
	}

	// Delete removes it again.
	resp = doInternal(t, http.MethodDelete, "/api/admin/promotions/"+created.ID, nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doInternal(t, http.MethodDelete, "/api/admin/promotions/"+created.ID, nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAdminCreatePromotion_Invalid(t *testing.T) {
	create := map[string]any{
		"name":     "Broken",
		"type":     "percentage_discount",
		"startsAt": time.Now().UTC().Format(time.RFC3339),
		"action":   map[string]any{"type": "percentage_discount", "percentage": "150"},
	}

	resp := doInternal(t, http.MethodPost, "/api/admin/promotions", create)
	defer resp.Body.Close()

	wantStatus(t, resp, http.StatusUnprocessableEntity)

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != "invalid_promotion" {
		t.Errorf("expected code invalid_promotion, got %q", body.Code)
	}
}
