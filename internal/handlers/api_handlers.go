package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/aetherpay/aetherpay-backend/internal/entities"
	"github.com/aetherpay/aetherpay-backend/internal/usecases"
	"github.com/aetherpay/aetherpay-backend/internal/usecases/repository"
)

// callerHeader carries the caller's address. There is no signature scheme on
// the HTTP surface; authenticating callers is the deployment's concern.
const callerHeader = "X-Caller"

var (
	_ OrderService    = (*usecases.OrderRegistry)(nil)
	_ MerchantService = (*usecases.MerchantRegistry)(nil)
	_ OracleService   = (*usecases.OracleConsensus)(nil)
	_ QuoteService    = (*usecases.FXSettlement)(nil)
	_ AssetService    = (*usecases.AssetRegistry)(nil)
	_ DonationService = (*usecases.DonationRouter)(nil)
)

type HTTPHandler struct {
	logger    *slog.Logger
	orders    OrderService
	merchants MerchantService
	oracle    OracleService
	quotes    QuoteService
	assets    AssetService
	donations DonationService

	orderHistory        OrderHistory
	contributionHistory ContributionHistory
}

func NewHTTPHandler(
	logger *slog.Logger,
	orders OrderService,
	merchants MerchantService,
	oracle OracleService,
	quotes QuoteService,
	assets AssetService,
	donations DonationService,
	orderHistory OrderHistory,
	contributionHistory ContributionHistory,
) *HTTPHandler {
	return &HTTPHandler{
		logger:              logger,
		orders:              orders,
		merchants:           merchants,
		oracle:              oracle,
		quotes:              quotes,
		assets:              assets,
		donations:           donations,
		orderHistory:        orderHistory,
		contributionHistory: contributionHistory,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Merchants
	router.HandleFunc("/api/merchants", h.RegisterMerchant).Methods("POST")
	router.HandleFunc("/api/merchants/withdraw", h.Withdraw).Methods("POST")
	router.HandleFunc("/api/merchants/{address}/fee", h.SetMerchantFee).Methods("PUT")
	router.HandleFunc("/api/merchants/{address}", h.GetMerchant).Methods("GET")

	// Orders
	router.HandleFunc("/api/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/api/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/api/orders/hash/{hash}", h.GetOrderByHash).Methods("GET")
	router.HandleFunc("/api/orders/{id}/pay", h.PayOrder).Methods("POST")
	router.HandleFunc("/api/orders/{id}/cancel", h.CancelOrder).Methods("POST")
	router.HandleFunc("/api/orders/{id}", h.GetOrder).Methods("GET")

	// Settlement
	router.HandleFunc("/api/quote", h.GetQuote).Methods("GET")
	router.HandleFunc("/api/rates/{base}/{quote}", h.GetRate).Methods("GET")

	// Oracle administration and reporting
	router.HandleFunc("/api/oracle/rates", h.SubmitRate).Methods("POST")
	router.HandleFunc("/api/oracle/params", h.SetConsensusParams).Methods("PUT")
	router.HandleFunc("/api/oracle/nodes", h.AddOracleNode).Methods("POST")
	router.HandleFunc("/api/oracle/nodes", h.ListOracleNodes).Methods("GET")
	router.HandleFunc("/api/oracle/nodes/{address}", h.GetOracleNode).Methods("GET")
	router.HandleFunc("/api/oracle/nodes/{address}", h.RemoveOracleNode).Methods("DELETE")

	// Assets
	router.HandleFunc("/api/assets", h.AddAsset).Methods("POST")
	router.HandleFunc("/api/assets", h.ListAssets).Methods("GET")
	router.HandleFunc("/api/assets/{symbol}", h.RemoveAsset).Methods("DELETE")

	// Contributions
	router.HandleFunc("/api/donation/bps", h.SetDonationBps).Methods("PUT")
	router.HandleFunc("/api/contributors/top", h.TopContributors).Methods("GET")
	router.HandleFunc("/api/contributors/{address}", h.GetContributor).Methods("GET")
}

type orderResponse struct {
	ID              string     `json:"id"`
	Hash            string     `json:"hash"`
	Merchant        string     `json:"merchant"`
	DesignatedPayer *string    `json:"designated_payer,omitempty"`
	Amount          string     `json:"amount"`
	PaymentAsset    string     `json:"payment_asset"`
	SettlementAsset string     `json:"settlement_asset"`
	PaidAmount      string     `json:"paid_amount"`
	ReceivedAmount  string     `json:"received_amount"`
	RateUsed        string     `json:"rate_used"`
	PlatformFee     string     `json:"platform_fee"`
	MerchantFee     string     `json:"merchant_fee"`
	AllowPartial    bool       `json:"allow_partial"`
	MetadataRef     *string    `json:"metadata_ref,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func toOrderResponse(o *entities.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Hash:            o.Hash.Hex(),
		Merchant:        o.Merchant,
		DesignatedPayer: optionalString(o.DesignatedPayer),
		Amount:          o.Amount.String(),
		PaymentAsset:    o.PaymentAsset,
		SettlementAsset: o.SettlementAsset,
		PaidAmount:      o.PaidAmount.String(),
		ReceivedAmount:  o.ReceivedAmount.String(),
		RateUsed:        o.RateUsed.String(),
		PlatformFee:     o.PlatformFee.String(),
		MerchantFee:     o.MerchantFee.String(),
		AllowPartial:    o.AllowPartial,
		MetadataRef:     optionalString(o.MetadataRef),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
	}
	if !o.ExpiresAt.IsZero() {
		expiresAt := o.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return pointy.String(s)
}

// RegisterMerchant registers the caller as a merchant. Idempotent.
func (h *HTTPHandler) RegisterMerchant(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, err := h.merchants.Register(caller, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, view)
}

func (h *HTTPHandler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	view, err := h.merchants.GetInfo(mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "Invalid amount format", http.StatusBadRequest)
		return
	}

	if err = h.merchants.Withdraw(r.Context(), caller, req.Asset, amount); err != nil {
		h.logger.Error("withdrawal failed", "merchant", caller, "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *HTTPHandler) SetMerchantFee(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	merchant := mux.Vars(r)["address"]

	var req struct {
		FeeBps int64 `json:"fee_bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.merchants.SetFeeRate(caller, merchant, req.FeeBps); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		ID              string     `json:"id"`
		Amount          string     `json:"amount"`
		PaymentAsset    string     `json:"payment_asset"`
		SettlementAsset string     `json:"settlement_asset"`
		MetadataRef     string     `json:"metadata_ref"`
		AllowPartial    bool       `json:"allow_partial"`
		DesignatedPayer string     `json:"designated_payer"`
		ExpiresAt       *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "Invalid amount format", http.StatusBadRequest)
		return
	}

	params := usecases.CreateOrderParams{
		ID:              req.ID,
		Amount:          amount,
		PaymentAsset:    req.PaymentAsset,
		SettlementAsset: req.SettlementAsset,
		MetadataRef:     req.MetadataRef,
		AllowPartial:    req.AllowPartial,
		DesignatedPayer: req.DesignatedPayer,
	}
	if req.ExpiresAt != nil {
		params.ExpiresAt = *req.ExpiresAt
	}

	order, err := h.orders.CreateOrder(r.Context(), caller, params)
	if err != nil {
		h.logger.Error("order creation failed", "merchant", caller, "order_id", req.ID, "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetOrderByHash resolves an order by its canonical 32-byte hash.
func (h *HTTPHandler) GetOrderByHash(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByHash(common.HexToHash(mux.Vars(r)["hash"]))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListOrders serves filtered order history from the Postgres mirror.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if h.orderHistory == nil {
		http.Error(w, "Order history is not enabled", http.StatusNotImplemented)
		return
	}

	filter := repository.OrdersFilter{
		Merchant: r.URL.Query().Get("merchant"),
		Status:   r.URL.Query().Get("status"),
		Limit:    100,
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.ParseUint(limitParam, 10, 32)
		if err != nil {
			http.Error(w, "Invalid limit format", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	rows, err := h.orderHistory.ListOrders(r.Context(), filter)
	if err != nil {
		h.logger.Error("order history query failed", "error", err)
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

func (h *HTTPHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	orderID := mux.Vars(r)["id"]

	var req struct {
		Amount           string `json:"amount"`
		MinSettlementOut string `json:"min_settlement_out"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "Invalid amount format", http.StatusBadRequest)
		return
	}

	minOut := decimal.Zero
	if req.MinSettlementOut != "" {
		if minOut, err = decimal.NewFromString(req.MinSettlementOut); err != nil {
			http.Error(w, "Invalid min_settlement_out format", http.StatusBadRequest)
			return
		}
	}

	receipt, err := h.orders.ProcessPayment(r.Context(), caller, orderID, amount, minOut)
	if err != nil {
		h.logger.Error("payment failed", "order_id", orderID, "payer", caller, "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	orderID := mux.Vars(r)["id"]

	if err := h.orders.Cancel(r.Context(), caller, orderID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *HTTPHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	amountParam := r.URL.Query().Get("amount")
	fromParam := r.URL.Query().Get("from")
	toParam := r.URL.Query().Get("to")
	if amountParam == "" || fromParam == "" || toParam == "" {
		http.Error(w, "Missing required parameters: amount, from, to", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(amountParam)
	if err != nil {
		http.Error(w, "Invalid amount format", http.StatusBadRequest)
		return
	}

	from, err := h.assets.Get(fromParam)
	if err != nil {
		h.writeError(w, err)
		return
	}
	to, err := h.assets.Get(toParam)
	if err != nil {
		h.writeError(w, err)
		return
	}

	quote, err := h.quotes.GetQuote(amount, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

func (h *HTTPHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair := entities.PairKey(vars["base"], vars["quote"])

	rate, err := h.oracle.GetRate(pair)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rate)
}

// SubmitRate accepts a price report from an oracle node.
func (h *HTTPHandler) SubmitRate(w http.ResponseWriter, r *http.Request) {
	node := r.Header.Get(callerHeader)

	var req struct {
		Pair string `json:"pair"`
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		http.Error(w, "Invalid rate format", http.StatusBadRequest)
		return
	}

	if err = h.oracle.SubmitRate(node, req.Pair, rate, time.Time{}); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// SetConsensusParams replaces the consensus tunables. Durations are seconds.
func (h *HTTPHandler) SetConsensusParams(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		RequiredSubmissions  int     `json:"required_submissions"`
		WindowSeconds        int     `json:"window_seconds"`
		MaxDeviationBps      int64   `json:"max_deviation_bps"`
		AgreementBps         int64   `json:"agreement_bps"`
		MinUpdateIntervalSec int     `json:"min_update_interval_sec"`
		MinConfidence        float64 `json:"min_confidence"`
		MaxStalenessSec      int     `json:"max_staleness_sec"`
		ReputationStart      int64   `json:"reputation_start"`
		ReputationCap        int64   `json:"reputation_cap"`
		AgreeStep            int64   `json:"agree_step"`
		DisagreeStep         int64   `json:"disagree_step"`
		SuspendBelow         int64   `json:"suspend_below"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := usecases.ConsensusParams{
		RequiredSubmissions: req.RequiredSubmissions,
		Window:              time.Duration(req.WindowSeconds) * time.Second,
		MaxDeviationBps:     req.MaxDeviationBps,
		AgreementBps:        req.AgreementBps,
		MinUpdateInterval:   time.Duration(req.MinUpdateIntervalSec) * time.Second,
		MinConfidence:       req.MinConfidence,
		MaxStaleness:        time.Duration(req.MaxStalenessSec) * time.Second,
		ReputationStart:     req.ReputationStart,
		ReputationCap:       req.ReputationCap,
		AgreeStep:           req.AgreeStep,
		DisagreeStep:        req.DisagreeStep,
		SuspendBelow:        req.SuspendBelow,
	}
	if err := h.oracle.SetParams(caller, params); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *HTTPHandler) AddOracleNode(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.oracle.AddNode(caller, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

func (h *HTTPHandler) RemoveOracleNode(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	if err := h.oracle.RemoveNode(caller, mux.Vars(r)["address"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *HTTPHandler) GetOracleNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.oracle.GetNode(mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, node)
}

func (h *HTTPHandler) ListOracleNodes(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.oracle.ActiveNodes())
}

func (h *HTTPHandler) AddAsset(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		Symbol   string `json:"symbol"`
		Contract string `json:"contract"`
		Decimals int32  `json:"decimals"`
		Class    string `json:"class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.assets.Add(caller, req.Symbol, req.Contract, req.Decimals, entities.AssetClass(req.Class)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

func (h *HTTPHandler) RemoveAsset(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	if err := h.assets.Remove(caller, mux.Vars(r)["symbol"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *HTTPHandler) ListAssets(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.assets.List())
}

func (h *HTTPHandler) GetContributor(w http.ResponseWriter, r *http.Request) {
	rec, err := h.donations.GetContributor(mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// SetDonationBps updates the donated share of the platform fee. Admin-only.
func (h *HTTPHandler) SetDonationBps(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)

	var req struct {
		Bps int64 `json:"bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.donations.SetDonationBps(caller, req.Bps); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// TopContributors serves the contributor leaderboard from the Postgres mirror.
func (h *HTTPHandler) TopContributors(w http.ResponseWriter, r *http.Request) {
	if h.contributionHistory == nil {
		http.Error(w, "Contribution history is not enabled", http.StatusNotImplemented)
		return
	}

	limit := 20
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit format", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	rows, err := h.contributionHistory.TopContributors(r.Context(), limit)
	if err != nil {
		h.logger.Error("contribution history query failed", "error", err)
		http.Error(w, "Failed to list contributors", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entities.ErrOrderNotFound),
		errors.Is(err, entities.ErrMerchantNotFound),
		errors.Is(err, entities.ErrContributorNotFound),
		errors.Is(err, entities.ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entities.ErrUnauthorized),
		errors.Is(err, entities.ErrUnauthorizedPayer),
		errors.Is(err, entities.ErrNodeInactive):
		status = http.StatusForbidden
	case errors.Is(err, entities.ErrDuplicateOrder),
		errors.Is(err, entities.ErrNotPending),
		errors.Is(err, entities.ErrInvalidTransition),
		errors.Is(err, entities.ErrExpired):
		status = http.StatusConflict
	case errors.Is(err, entities.ErrTooFrequent):
		status = http.StatusTooManyRequests
	case errors.Is(err, entities.ErrInvalidAmount),
		errors.Is(err, entities.ErrUnsupportedAsset),
		errors.Is(err, entities.ErrAmountMismatch),
		errors.Is(err, entities.ErrArithmeticOverflow),
		errors.Is(err, entities.ErrInsufficientBalance),
		errors.Is(err, entities.ErrRateDeviationTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, entities.ErrSlippageExceeded),
		errors.Is(err, entities.ErrRateUnavailable),
		errors.Is(err, entities.ErrRateStale),
		errors.Is(err, entities.ErrConfidenceTooLow),
		errors.Is(err, entities.ErrTokenTransferFailed):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
