package events

const (
	EventTypeTransactionInitiated = "transaction.initiated"
	EventTypeTransactionSettled   = "transaction.settled"
	EventTypeTransactionFailed    = "transaction.failed"
)

// TransactionEvent reports a lifecycle change of one payment attempt.
type TransactionEvent struct {
	BaseEvent
	CustRefNum     string `json:"cust_ref_num"`
	AggRefNo       string `json:"agg_ref_no"`
	Amount         string `json:"amount"`
	PayStatus      string `json:"pay_status"`
	PreviousStatus string `json:"previous_status"`
	RespCode       string `json:"resp_code"`
	RespMessage    string `json:"resp_message"`
	Source         string `json:"source"`
}

func newTransactionEvent(eventType, custRefNum, aggRefNo, amount, payStatus, previousStatus, respCode, respMessage, source string) *TransactionEvent {
	return &TransactionEvent{
		BaseEvent: NewBaseEvent(eventType, map[string]interface{}{
			"cust_ref_num":    custRefNum,
			"agg_ref_no":      aggRefNo,
			"amount":          amount,
			"pay_status":      payStatus,
			"previous_status": previousStatus,
			"resp_code":       respCode,
			"resp_message":    respMessage,
			"source":          source,
		}),
		CustRefNum:     custRefNum,
		AggRefNo:       aggRefNo,
		Amount:         amount,
		PayStatus:      payStatus,
		PreviousStatus: previousStatus,
		RespCode:       respCode,
		RespMessage:    respMessage,
		Source:         source,
	}
}

func NewTransactionInitiatedEvent(custRefNum, aggRefNo, amount, payStatus string) *TransactionEvent {
	return newTransactionEvent(EventTypeTransactionInitiated, custRefNum, aggRefNo, amount, payStatus, "", "", "", "initiation")
}

func NewTransactionSettledEvent(custRefNum, aggRefNo, amount, previousStatus, respCode, respMessage, source string) *TransactionEvent {
	return newTransactionEvent(EventTypeTransactionSettled, custRefNum, aggRefNo, amount, "Ok", previousStatus, respCode, respMessage, source)
}

func NewTransactionFailedEvent(custRefNum, aggRefNo, amount, previousStatus, respCode, respMessage, source string) *TransactionEvent {
	return newTransactionEvent(EventTypeTransactionFailed, custRefNum, aggRefNo, amount, "F", previousStatus, respCode, respMessage, source)
}
