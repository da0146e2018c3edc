package paymentgateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Gateway status markers. Any other value is treated as still pending.
const (
	PayStatusSuccess = "Ok"
	PayStatusFailed  = "F"
	PayStatusPending = "PPPP"
)

const (
	IntegrationSeamless = "seamless"
	ModeUPI             = "UPI"
	ModeDetailsIntent   = "I"
	AdditionalFieldNA   = "NA"
)

// InitiationRequest is the plaintext body encrypted into encData for
// /paymentinit. Field names are fixed by the gateway.
type InitiationRequest struct {
	AuthID          string `json:"AuthID"`
	AuthKey         string `json:"AuthKey"`
	CustRefNum      string `json:"CustRefNum"`
	TxnAmount       string `json:"txn_Amount"`
	PaymentDate     string `json:"PaymentDate"`
	ContactNo       string `json:"ContactNo"`
	EmailID         string `json:"EmailId"`
	IntegrationType string `json:"IntegrationType"`
	CallbackURL     string `json:"CallbackURL"`
	Adf1            string `json:"adf1"`
	Adf2            string `json:"adf2"`
	Adf3            string `json:"adf3"`
	MOP             string `json:"MOP"`
	MOPType         string `json:"MOPType"`
	MOPDetails      string `json:"MOPDetails"`
}

func (r *InitiationRequest) Validate() error {
	if r.AuthID == "" {
		return errors.New("AuthID is required")
	}
	if r.CustRefNum == "" {
		return errors.New("CustRefNum is required")
	}
	if r.TxnAmount == "" {
		return errors.New("txn_Amount is required")
	}
	if r.CallbackURL == "" {
		return errors.New("CallbackURL is required")
	}
	return nil
}

// Envelope wraps an encrypted gateway payload.
type Envelope struct {
	RespData string `json:"respData"`
}

// ErrorBody is what the gateway returns alongside a non-2xx status.
type ErrorBody struct {
	RespCode    string `json:"resp_code"`
	RespMessage string `json:"resp_message"`
}

// StatusUpdate is the canonical shape of every status-bearing gateway payload:
// the init response, a callback and a status enquiry answer.
type StatusUpdate struct {
	CustRefNum  string          `json:"custRefNum,omitempty"`
	AggRefNo    string          `json:"aggRefNo,omitempty"`
	PayStatus   string          `json:"payStatus,omitempty"`
	RespCode    string          `json:"respCode,omitempty"`
	RespMessage string          `json:"respMessage,omitempty"`
	ServiceRRN  string          `json:"serviceRRN,omitempty"`
	MOP         string          `json:"mop,omitempty"`
	QRString    string          `json:"qrString,omitempty"`
	PayRespDate string          `json:"payRespDate,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// field aliases observed across gateway endpoints, first match wins
var statusAliases = map[string][]string{
	"CustRefNum":  {"CustRefNum", "custRefNum", "cust_ref_num"},
	"AggRefNo":    {"AggRefNo", "aggRefNo", "agg_ref_no"},
	"PayStatus":   {"payStatus", "PayStatus", "pay_status"},
	"RespCode":    {"resp_code", "respCode", "RespCode"},
	"RespMessage": {"resp_message", "respMessage", "RespMessage"},
	"ServiceRRN":  {"serviceRRN", "ServiceRRN", "service_rrn"},
	"MOP":         {"MOP", "mop"},
	"QRString":    {"qrString", "QRString", "qr_string"},
	"PayRespDate": {"payrespDate", "payRespDate", "PayRespDate", "pay_resp_date"},
}

// ParseStatusUpdate normalizes a JSON object from any gateway boundary into a
// StatusUpdate.
func ParseStatusUpdate(data []byte) (*StatusUpdate, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return NormalizeStatusUpdate(fields, data), nil
}

// NormalizeStatusUpdate maps a decoded object onto StatusUpdate. raw is kept
// as the audit copy and may be nil.
func NormalizeStatusUpdate(fields map[string]any, raw []byte) *StatusUpdate {
	pick := func(name string) string {
		for _, alias := range statusAliases[name] {
			if v, ok := fields[alias]; ok {
				if s := scalarString(v); s != "" {
					return s
				}
			}
		}
		return ""
	}

	return &StatusUpdate{
		CustRefNum:  pick("CustRefNum"),
		AggRefNo:    pick("AggRefNo"),
		PayStatus:   pick("PayStatus"),
		RespCode:    pick("RespCode"),
		RespMessage: pick("RespMessage"),
		ServiceRRN:  pick("ServiceRRN"),
		MOP:         pick("MOP"),
		QRString:    pick("QRString"),
		PayRespDate: pick("PayRespDate"),
		Raw:         json.RawMessage(raw),
	}
}

// DecodeObject parses a JSON object keeping numbers verbatim.
func DecodeObject(data []byte) (map[string]any, error) {
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode gateway payload: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode gateway payload: not a JSON object")
	}
	return fields, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
