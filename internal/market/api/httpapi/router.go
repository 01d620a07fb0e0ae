// Package httpapi exposes the market engine over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/beholdlabs/listings/internal/market/engine"
	"github.com/beholdlabs/listings/internal/market/ledger"
	apperrors "github.com/beholdlabs/listings/internal/platform/errors"
)

// Router handles HTTP requests for the listings API.
type Router struct {
	eng      *engine.Engine
	verifier *Verifier
	limiter  *purchaseLimiter
	mux      *http.ServeMux
}

// NewRouter creates the HTTP router for the given engine. Purchase requests
// are rate limited per buyer with the provided per-second rate and burst.
func NewRouter(eng *engine.Engine, verifier *Verifier, purchasesPerSecond float64, purchaseBurst int) *Router {
	r := &Router{
		eng:      eng,
		verifier: verifier,
		limiter:  newPurchaseLimiter(purchasesPerSecond, purchaseBurst),
		mux:      http.NewServeMux(),
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("GET /health", r.health)

	// Ledger reads are public.
	r.mux.HandleFunc("GET /v1/listings/{id}", r.getListing)
	r.mux.HandleFunc("GET /v1/listings/{id}/price", r.getListingPrice)
	r.mux.HandleFunc("GET /v1/listings/{id}/status", r.getListingStatus)
	r.mux.HandleFunc("GET /v1/listings/{id}/receipts", r.getListingReceipts)

	auth := r.verifier.Middleware
	r.mux.Handle("PUT /v1/listings/{id}", auth(http.HandlerFunc(r.putListing)))
	r.mux.Handle("POST /v1/listings/batch", auth(http.HandlerFunc(r.putListingBatch)))
	r.mux.Handle("PUT /v1/listings/{id}/price", auth(http.HandlerFunc(r.putListingPrice)))
	r.mux.Handle("POST /v1/listings/{id}/toggle", auth(http.HandlerFunc(r.toggleListing)))
	r.mux.Handle("POST /v1/listings/{id}/purchase", auth(http.HandlerFunc(r.purchase)))

	r.mux.Handle("GET /v1/admin/roles", auth(http.HandlerFunc(r.adminRoles)))
	r.mux.Handle("GET /v1/admin/balance", auth(http.HandlerFunc(r.adminBalance)))
	r.mux.Handle("PUT /v1/admin/token-owner", auth(http.HandlerFunc(r.putTokenOwner)))
	r.mux.Handle("PUT /v1/admin/payout", auth(http.HandlerFunc(r.putPayout)))
	r.mux.Handle("POST /v1/admin/transfer-ownership", auth(http.HandlerFunc(r.transferOwnership)))
	r.mux.Handle("POST /v1/admin/withdraw", auth(http.HandlerFunc(r.withdraw)))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

type listingResponse struct {
	ItemID uint64 `json:"item_id"`
	Price  uint64 `json:"price"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type priceResponse struct {
	Price uint64 `json:"price"`
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

type rolesResponse struct {
	Owner     string `json:"owner"`
	ItemOwner string `json:"item_owner"`
	Payout    string `json:"payout"`
}

type receiptResponse struct {
	ID          string `json:"id"`
	ItemID      uint64 `json:"item_id"`
	Buyer       string `json:"buyer"`
	Amount      uint64 `json:"amount"`
	PurchasedAt string `json:"purchased_at"`
}

type putListingRequest struct {
	Price  uint64 `json:"price"`
	Active bool   `json:"active"`
}

type putListingBatchRequest struct {
	ItemIDs []uint64 `json:"item_ids"`
	Prices  []uint64 `json:"prices"`
	Active  bool     `json:"active"`
}

type putPriceRequest struct {
	Price uint64 `json:"price"`
}

type purchaseRequest struct {
	Payment uint64 `json:"payment"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type withdrawResponse struct {
	Amount uint64 `json:"amount"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "listings",
	})
}

func (r *Router) getListing(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	listing, err := r.eng.GetListing(req.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingResponse{
		ItemID: listing.ItemID,
		Price:  listing.Price,
		Status: listing.Status.String(),
	})
}

func (r *Router) getListingPrice(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := r.eng.GetListingPrice(req.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Price: price})
}

func (r *Router) getListingStatus(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := r.eng.GetListingStatus(req.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status.String()})
}

func (r *Router) getListingReceipts(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	receipts, err := r.eng.Receipts(req.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]receiptResponse, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, receiptResponse{
			ID:          receipt.ID,
			ItemID:      receipt.ItemID,
			Buyer:       receipt.Buyer,
			Amount:      receipt.Amount,
			PurchasedAt: receipt.PurchasedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) putListing(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	var body putListingRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	caller := CallerAddress(req.Context())
	if err := r.eng.SetListing(req.Context(), caller, itemID, body.Price, body.Active); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("listing %d set by %s", itemID, caller)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) putListingBatch(w http.ResponseWriter, req *http.Request) {
	var body putListingBatchRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	caller := CallerAddress(req.Context())
	if err := r.eng.SetListingBatch(req.Context(), caller, body.ItemIDs, body.Prices, body.Active); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("listing batch of %d set by %s", len(body.ItemIDs), caller)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) putListingPrice(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	var body putPriceRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := r.eng.SetListingPrice(req.Context(), CallerAddress(req.Context()), itemID, body.Price); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) toggleListing(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := r.eng.ToggleListingStatus(req.Context(), CallerAddress(req.Context()), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status.String()})
}

func (r *Router) purchase(w http.ResponseWriter, req *http.Request) {
	itemID, err := itemIDFromPath(req)
	if err != nil {
		writeError(w, err)
		return
	}
	buyer := CallerAddress(req.Context())
	if !r.limiter.allow(buyer) {
		writeStatusError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many purchase attempts")
		return
	}
	var body purchaseRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := r.eng.Purchase(req.Context(), buyer, itemID, body.Payment)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("listing %d purchased by %s for %d", itemID, buyer, receipt.Amount)
	writeJSON(w, http.StatusOK, receiptResponse{
		ID:          receipt.ID,
		ItemID:      receipt.ItemID,
		Buyer:       receipt.Buyer,
		Amount:      receipt.Amount,
		PurchasedAt: receipt.PurchasedAt.Format(time.RFC3339),
	})
}

func (r *Router) adminRoles(w http.ResponseWriter, req *http.Request) {
	roles, err := r.requireOwner(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rolesResponse{
		Owner:     roles.Owner,
		ItemOwner: roles.ItemOwner,
		Payout:    roles.Payout,
	})
}

func (r *Router) adminBalance(w http.ResponseWriter, req *http.Request) {
	if _, err := r.requireOwner(req); err != nil {
		writeError(w, err)
		return
	}
	balance, err := r.eng.Balance(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

func (r *Router) putTokenOwner(w http.ResponseWriter, req *http.Request) {
	var body addressRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := r.eng.SetTokenOwnerAddress(req.Context(), CallerAddress(req.Context()), body.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) putPayout(w http.ResponseWriter, req *http.Request) {
	var body addressRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := r.eng.SetPayoutAddress(req.Context(), CallerAddress(req.Context()), body.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) transferOwnership(w http.ResponseWriter, req *http.Request) {
	var body addressRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, err)
		return
	}
	caller := CallerAddress(req.Context())
	if err := r.eng.TransferOwnership(req.Context(), caller, body.Address); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("ownership transferred from %s to %s", caller, body.Address)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) withdraw(w http.ResponseWriter, req *http.Request) {
	caller := CallerAddress(req.Context())
	amount, err := r.eng.Withdraw(req.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("balance of %d withdrawn by %s", amount, caller)
	writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

// requireOwner gates admin reads to the contract owner.
func (r *Router) requireOwner(req *http.Request) (ledger.Roles, error) {
	roles, err := r.eng.Roles(req.Context())
	if err != nil {
		return ledger.Roles{}, err
	}
	if !roles.Owns(CallerAddress(req.Context())) {
		return ledger.Roles{}, apperrors.New(apperrors.CodeNotAuthorized, "caller is not the owner")
	}
	return roles, nil
}

func itemIDFromPath(req *http.Request) (uint64, error) {
	raw := req.PathValue("id")
	itemID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"item id must be a non-negative integer",
			map[string]string{"id": raw},
		)
	}
	return itemID, nil
}

func decodeJSON(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	resp := errorResponse{Code: string(code), Message: err.Error()}
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		resp.Message = coded.Message
		resp.Details = coded.Metadata
	}
	if code == apperrors.CodeStorage || code == apperrors.CodeUnknown {
		log.Printf("internal error: %v", err)
		resp.Message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), resp)
}

func writeStatusError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
