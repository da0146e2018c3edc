package transaction

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	transactionDatamodel "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
)

type PayStatus string

const (
	// StatusPending is stored when the gateway answered without a status.
	StatusPending        PayStatus = "Pending"
	StatusGatewayPending PayStatus = paymentgatewaytypes.PayStatusPending
	StatusSuccess        PayStatus = paymentgatewaytypes.PayStatusSuccess
	StatusFailed         PayStatus = paymentgatewaytypes.PayStatusFailed
)

// TerminalStatuses lists the final outcomes. Terminal records are never
// polled again. Anything else, including values the gateway may add later,
// is still pending.
var TerminalStatuses = map[PayStatus]struct{}{
	StatusSuccess: {},
	StatusFailed:  {},
}

func (s PayStatus) IsTerminal() bool {
	_, ok := TerminalStatuses[s]
	return ok
}

// IsPending reports whether the gateway has not answered with an outcome yet.
// payRespDate is only recorded once a record has left these statuses.
func (s PayStatus) IsPending() bool {
	return s == "" || s == StatusPending || s == StatusGatewayPending
}

type State string

const (
	StateCreated         State = "created"
	StateAwaitingPayment State = "awaiting_payment"
	StateSettled         State = "settled"
	StateFailed          State = "failed"
)

type Transaction struct {
	ID              int64
	CustRefNum      string
	AggRefNo        string
	AuthID          string
	Amount          decimal.Decimal
	ContactNo       string
	EmailID         string
	PaymentDate     time.Time
	PayStatus       PayStatus
	RespCode        string
	RespMessage     string
	ServiceRRN      string
	MOP             string
	QRString        string
	PayRespDate     *time.Time
	GatewayResponse json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t *Transaction) IsTerminal() bool {
	return t.PayStatus.IsTerminal()
}

func (t *Transaction) State() State {
	switch {
	case t.PayStatus == StatusSuccess:
		return StateSettled
	case t.PayStatus == StatusFailed:
		return StateFailed
	case t.AggRefNo != "":
		return StateAwaitingPayment
	default:
		return StateCreated
	}
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	if t.PayRespDate != nil {
		d := *t.PayRespDate
		cp.PayRespDate = &d
	}
	if t.GatewayResponse != nil {
		cp.GatewayResponse = append(json.RawMessage(nil), t.GatewayResponse...)
	}
	return &cp
}

// Fields is a sparse patch: nil members leave the stored value alone.
type Fields struct {
	AggRefNo        *string
	AuthID          *string
	Amount          *decimal.Decimal
	ContactNo       *string
	EmailID         *string
	PaymentDate     *time.Time
	PayStatus       *PayStatus
	RespCode        *string
	RespMessage     *string
	ServiceRRN      *string
	MOP             *string
	QRString        *string
	PayRespDate     *time.Time
	GatewayResponse json.RawMessage
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FieldsFromStatusUpdate keeps only the values the gateway actually sent.
func FieldsFromStatusUpdate(u *paymentgatewaytypes.StatusUpdate) Fields {
	f := Fields{
		AggRefNo:    stringPtr(u.AggRefNo),
		RespCode:    stringPtr(u.RespCode),
		RespMessage: stringPtr(u.RespMessage),
		ServiceRRN:  stringPtr(u.ServiceRRN),
		MOP:         stringPtr(u.MOP),
		QRString:    stringPtr(u.QRString),
	}
	if u.PayStatus != "" {
		status := PayStatus(u.PayStatus)
		f.PayStatus = &status
	}
	if u.PayRespDate != "" {
		if at, err := paymentgateway.ParseGatewayTimestamp(u.PayRespDate); err == nil {
			f.PayRespDate = &at
		}
	}
	if len(u.Raw) > 0 {
		f.GatewayResponse = append(json.RawMessage(nil), u.Raw...)
	}
	return f
}

// NewTransaction builds the record created by the first write for custRefNum.
func NewTransaction(custRefNum string, f Fields, now time.Time) *Transaction {
	t := &Transaction{
		CustRefNum: custRefNum,
		PayStatus:  StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if f.AuthID != nil {
		t.AuthID = *f.AuthID
	}
	if f.Amount != nil {
		t.Amount = *f.Amount
	}
	if f.ContactNo != nil {
		t.ContactNo = *f.ContactNo
	}
	if f.EmailID != nil {
		t.EmailID = *f.EmailID
	}
	if f.PaymentDate != nil {
		t.PaymentDate = *f.PaymentDate
	}
	t.Apply(f, now)
	return t
}

// Apply merges a patch into an existing record. Creation-only fields are
// ignored and aggRefNo, qrString and payStatus are never blanked. Every other
// field is last write wins, terminal records included, except that
// payRespDate is dropped while the merged status is still pending.
func (t *Transaction) Apply(f Fields, now time.Time) {
	if f.AggRefNo != nil && *f.AggRefNo != "" {
		t.AggRefNo = *f.AggRefNo
	}
	if f.QRString != nil && *f.QRString != "" {
		t.QRString = *f.QRString
	}
	if f.PayStatus != nil && *f.PayStatus != "" {
		t.PayStatus = *f.PayStatus
	}
	if f.MOP != nil {
		t.MOP = *f.MOP
	}
	if f.RespCode != nil {
		t.RespCode = *f.RespCode
	}
	if f.RespMessage != nil {
		t.RespMessage = *f.RespMessage
	}
	if f.ServiceRRN != nil {
		t.ServiceRRN = *f.ServiceRRN
	}
	if f.PayRespDate != nil && !t.PayStatus.IsPending() {
		d := *f.PayRespDate
		t.PayRespDate = &d
	}
	if len(f.GatewayResponse) > 0 {
		t.GatewayResponse = append(json.RawMessage(nil), f.GatewayResponse...)
	}
	t.UpdatedAt = now
}

// Merge returns the record that results from writing patch over existing,
// which may be nil. existing is not modified.
func Merge(existing *Transaction, custRefNum string, patch Fields, now time.Time) *Transaction {
	if existing == nil {
		return NewTransaction(custRefNum, patch, now)
	}
	merged := existing.Clone()
	merged.Apply(patch, now)
	return merged
}

// Change is the outcome of one write. Previous is nil when the write created
// the record.
type Change struct {
	Previous *Transaction
	Current  *Transaction
}

func (c *Change) Created() bool {
	return c.Previous == nil
}

// BecameTerminal reports a write that left the record in a terminal status
// it did not have before: pending to Ok or F, or one outcome replacing the
// other.
func (c *Change) BecameTerminal() bool {
	if !c.Current.IsTerminal() {
		return false
	}
	return c.Previous == nil || c.Previous.PayStatus != c.Current.PayStatus
}

// OverwroteOutcome reports a terminal status replaced by a different one.
func (c *Change) OverwroteOutcome() bool {
	return c.Previous != nil && c.Previous.IsTerminal() && c.Previous.PayStatus != c.Current.PayStatus
}

func ToDataModel(t *Transaction) *transactionDatamodel.Transaction {
	var raw datatypes.JSON
	if len(t.GatewayResponse) > 0 {
		raw = datatypes.JSON(append([]byte(nil), t.GatewayResponse...))
	}
	return &transactionDatamodel.Transaction{
		ID:              t.ID,
		CustRefNum:      t.CustRefNum,
		AggRefNo:        t.AggRefNo,
		AuthID:          t.AuthID,
		Amount:          t.Amount,
		ContactNo:       t.ContactNo,
		EmailID:         t.EmailID,
		PaymentDate:     t.PaymentDate,
		PayStatus:       string(t.PayStatus),
		RespCode:        t.RespCode,
		RespMessage:     t.RespMessage,
		ServiceRRN:      t.ServiceRRN,
		MOP:             t.MOP,
		QRString:        t.QRString,
		PayRespDate:     t.PayRespDate,
		GatewayResponse: raw,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func FromDataModel(m *transactionDatamodel.Transaction) *Transaction {
	var raw json.RawMessage
	if len(m.GatewayResponse) > 0 {
		raw = append(json.RawMessage(nil), m.GatewayResponse...)
	}
	return &Transaction{
		ID:              m.ID,
		CustRefNum:      m.CustRefNum,
		AggRefNo:        m.AggRefNo,
		AuthID:          m.AuthID,
		Amount:          m.Amount,
		ContactNo:       m.ContactNo,
		EmailID:         m.EmailID,
		PaymentDate:     m.PaymentDate,
		PayStatus:       PayStatus(m.PayStatus),
		RespCode:        m.RespCode,
		RespMessage:     m.RespMessage,
		ServiceRRN:      m.ServiceRRN,
		MOP:             m.MOP,
		QRString:        m.QRString,
		PayRespDate:     m.PayRespDate,
		GatewayResponse: raw,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func FromDataModelSlice(rows []*transactionDatamodel.Transaction) []*Transaction {
	result := make([]*Transaction, len(rows))
	for i, row := range rows {
		result[i] = FromDataModel(row)
	}
	return result
}
