// Package handler exposes the engine over HTTP: promotion listing, coupon
// validation, cart coupon binding, the internal redeem endpoint, and admin
// CRUD for promotions and coupons.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/harborline/promo-engine/internal/domain/cart"
	"github.com/harborline/promo-engine/internal/domain/coupon"
	"github.com/harborline/promo-engine/internal/domain/pricing"
	"github.com/harborline/promo-engine/internal/domain/promotion"
)

const maxBodySize = 64 * 1024

// Identity headers set by the upstream gateway. The engine treats the user id
// as opaque; authentication happened before the request got here.
const (
	headerUserID        = "X-User-ID"
	headerCustomerGroup = "X-Customer-Group"
	headerInternalToken = "X-Internal-Token"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// InternalToken guards the redeem endpoint, which only the order
	// placement service may call.
	InternalToken string
}

// Handler wires the domain services to chi routes.
type Handler struct {
	cfg        Config
	pricing    *pricing.Service
	ledger     *coupon.Ledger
	carts      *cart.Service
	promotions promotion.Repository
	coupons    coupon.Repository
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	pricingSvc *pricing.Service,
	ledger *coupon.Ledger,
	carts *cart.Service,
	promotions promotion.Repository,
	coupons coupon.Repository,
) *Handler {
	return &Handler{
		cfg:        cfg,
		pricing:    pricingSvc,
		ledger:     ledger,
		carts:      carts,
		promotions: promotions,
		coupons:    coupons,
	}
}

// Routes returns the chi router for the API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/promotions", h.listPromotions)
	r.Post("/coupons/validate", h.validateCoupon)
	r.Post("/cart/evaluate", h.evaluateCart)

	r.Route("/carts/{cartID}/coupon", func(r chi.Router) {
		r.Post("/", h.bindCoupon)
		r.Delete("/", h.unbindCoupon)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(h.requireInternalToken)
		r.Post("/redeem", h.redeemCoupon)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireInternalToken)
		r.Post("/promotions", h.createPromotion)
		r.Put("/promotions/{promotionID}", h.updatePromotion)
		r.Delete("/promotions/{promotionID}", h.deletePromotion)
		r.Post("/coupons", h.createCoupon)
	})

	return r
}

// requireInternalToken rejects calls to internal endpoints unless the caller
// presents the configured token. Comparison is constant-time.
func (h *Handler) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(headerInternalToken)
		if h.cfg.InternalToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.InternalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userIdentity extracts the opaque user id and customer group from the
// gateway headers. An empty user id is an authentication failure for
// endpoints that need one.
func userIdentity(r *http.Request) (userID, customerGroup string) {
	return r.Header.Get(headerUserID), r.Header.Get(headerCustomerGroup)
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) > maxBodySize {
		return errors.New("request body too large")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Wrap(err, "parse body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logError records unexpected (non-domain) failures with the request-scoped
// logger before the generic 500 goes out.
func logError(r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}
