package transaction

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/transport"
)

type ServiceAPI interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	HandleCallback(ctx context.Context, payload map[string]any, raw []byte) (*Transaction, error)
	CheckStatus(ctx context.Context, custRefNum string) (*StatusResult, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)
	GetTransaction(ctx context.Context, custRefNum string) (*Transaction, error)
}

type StatusPoller interface {
	Poll(ctx context.Context, custRefNum string) (*StatusResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Poller  StatusPoller
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, poller StatusPoller) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
		Poller:      poller,
	}
}

// InitiatePayment handles POST /api/v1/payment/init
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeInvalidRequest))
		return
	}

	result, err := h.Service.Initiate(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("InitiatePayment: payment initiated",
		"cust_ref_num", result.CustRefNum,
		"pay_status", result.PayStatus)

	h.WriteSuccess(w, http.StatusOK, result, "")
}

// PaymentStatus handles GET /api/v1/payment/status?custRefNum=&wait=
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	custRefNum := r.URL.Query().Get("custRefNum")
	if custRefNum == "" {
		h.HandleError(w, errors.ErrMissingReference)
		return
	}

	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.HandleError(w, errors.NewValidationFieldError("wait", "wait must be true or false", errors.ErrCodeInvalidRequest))
			return
		}
		wait = parsed
	}

	var (
		result *StatusResult
		err    error
	)
	if wait && h.Poller != nil {
		result, err = h.Poller.Poll(r.Context(), custRefNum)
	} else {
		result, err = h.Service.CheckStatus(r.Context(), custRefNum)
	}
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, result.Transaction.ToResponse(), result.Warning)
}

// ListTransactions handles GET /api/v1/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.Service.ListTransactions(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if operator := errors.OperatorFromContext(r.Context()); operator != "" {
		h.Logger.Debug("transactions listed", "operator", operator, "count", len(txns))
	}
	h.WriteSuccess(w, http.StatusOK, ToResponseSlice(txns), "")
}

// GetTransaction handles GET /api/v1/transactions/{custRefNum}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.Service.GetTransaction(r.Context(), chi.URLParam(r, "custRefNum"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, txn.ToResponse(), "")
}
