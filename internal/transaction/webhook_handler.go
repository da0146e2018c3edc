package transaction

import (
	"io"
	"mime"
	"net/http"
	"net/url"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transport"
)

const maxCallbackBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// HandlePaymentCallback handles POST /api/v1/payment/callback. The gateway
// posts either {"respData": "..."} or the plain status fields, as JSON or as
// a form.
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.Logger.Error("failed to read payment callback", "error", err)
		h.HandleError(w, errors.ErrInvalidCallback)
		return
	}

	payload, raw, err := decodeCallback(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.Logger.Warn("invalid payment callback body", "error", err)
		h.HandleError(w, errors.ErrInvalidCallback)
		return
	}

	txn, err := h.Service.HandleCallback(r.Context(), payload, raw)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("payment callback processed",
		"cust_ref_num", txn.CustRefNum,
		"pay_status", txn.PayStatus)

	h.WriteSuccess(w, http.StatusOK, CallbackAck{
		Message:    "Callback processed successfully",
		CustRefNum: txn.CustRefNum,
		PayStatus:  txn.PayStatus,
	}, "")
}

// HandleCallbackRedirect handles GET /api/v1/payment/callback, where the
// payer's browser lands after paying. It only redirects and never writes.
func (h *WebhookHandler) HandleCallbackRedirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	custRefNum := query.Get("CustRefNum")
	if custRefNum == "" {
		custRefNum = query.Get("custRefNum")
	}

	if custRefNum == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	target := "/transaction/" + url.PathEscape(custRefNum) + "?status=" + url.QueryEscape(query.Get("payStatus"))
	http.Redirect(w, r, target, http.StatusFound)
}

// decodeCallback returns the callback fields and, for JSON bodies, the body
// itself as the audit copy. Form bodies have no JSON copy.
func decodeCallback(contentType string, body []byte) (map[string]any, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, nil, err
		}
		payload := make(map[string]any, len(values))
		for key := range values {
			payload[key] = values.Get(key)
		}
		return payload, nil, nil
	}
	payload, err := paymentgatewaytypes.DecodeObject(body)
	if err != nil {
		return nil, nil, err
	}
	return payload, body, nil
}
