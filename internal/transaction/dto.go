package transaction

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/skillpay-gateway/internal/core/common/validation"
)

// InitiateRequest is the body of POST /api/v1/payment/init. amount accepts a
// JSON number or a numeric string.
type InitiateRequest struct {
	Amount    *decimal.Decimal `json:"amount"`
	ContactNo string           `json:"contactNo"`
	EmailID   string           `json:"emailId"`
}

func (r *InitiateRequest) Validate() error {
	validator := validation.NewValidator()

	validation.AmountRules(validator.Field("amount", r.Amount))
	validation.ContactNoRules(validator.Field("contactNo", r.ContactNo))
	validation.EmailRules(validator.Field("emailId", r.EmailID))

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InitiateResult struct {
	CustRefNum  string       `json:"custRefNum"`
	AggRefNo    string       `json:"aggRefNo"`
	QRString    string       `json:"qrString"`
	PayStatus   PayStatus    `json:"payStatus"`
	RespMessage string       `json:"respMessage"`
	Transaction *Transaction `json:"-"`
}

const (
	StatusSourceLocal   = "local"
	StatusSourceGateway = "gateway"

	StatusWarningGatewayUnavailable = "Unable to fetch latest status from payment gateway"
	StatusWarningPollTimeout        = "Payment is still pending after waiting for a final status"
)

// StatusResult is the answer to a status query. Warning is set when the
// record could not be refreshed from the gateway.
type StatusResult struct {
	Transaction *Transaction
	Source      string
	Warning     string
}

type TransactionResponse struct {
	ID              int64           `json:"id"`
	CustRefNum      string          `json:"custRefNum"`
	AggRefNo        string          `json:"aggRefNo,omitempty"`
	AuthID          string          `json:"authId"`
	Amount          string          `json:"amount"`
	ContactNo       string          `json:"contactNo"`
	EmailID         string          `json:"emailId"`
	PaymentDate     time.Time       `json:"paymentDate"`
	PayStatus       PayStatus       `json:"payStatus"`
	State           State           `json:"state"`
	RespCode        string          `json:"respCode,omitempty"`
	RespMessage     string          `json:"respMessage,omitempty"`
	ServiceRRN      string          `json:"serviceRRN,omitempty"`
	MOP             string          `json:"mop,omitempty"`
	QRString        string          `json:"qrString,omitempty"`
	PayRespDate     *time.Time      `json:"payRespDate,omitempty"`
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (t *Transaction) ToResponse() TransactionResponse {
	return TransactionResponse{
		ID:              t.ID,
		CustRefNum:      t.CustRefNum,
		AggRefNo:        t.AggRefNo,
		AuthID:          t.AuthID,
		Amount:          t.Amount.StringFixed(2),
		ContactNo:       t.ContactNo,
		EmailID:         t.EmailID,
		PaymentDate:     t.PaymentDate,
		PayStatus:       t.PayStatus,
		State:           t.State(),
		RespCode:        t.RespCode,
		RespMessage:     t.RespMessage,
		ServiceRRN:      t.ServiceRRN,
		MOP:             t.MOP,
		QRString:        t.QRString,
		PayRespDate:     t.PayRespDate,
		GatewayResponse: t.GatewayResponse,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func ToResponseSlice(txns []*Transaction) []TransactionResponse {
	result := make([]TransactionResponse, len(txns))
	for i, t := range txns {
		result[i] = t.ToResponse()
	}
	return result
}

type CallbackAck struct {
	Message    string    `json:"message"`
	CustRefNum string    `json:"custRefNum"`
	PayStatus  PayStatus `json:"payStatus"`
}
