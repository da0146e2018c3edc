package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

const demoAuthID = "M00006572"

// DemoTransactions returns the sample records loaded into a fresh demo store:
// one settled, one failed and one still waiting for payment.
func DemoTransactions() []*Transaction {
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 1, 12, hour, minute, 0, 0, time.Local)
	}

	return []*Transaction{
		{
			CustRefNum:  "1734019800000demo1",
			AggRefNo:    "1852417210160006281",
			AuthID:      demoAuthID,
			Amount:      decimal.RequireFromString("500.00"),
			ContactNo:   "9876543210",
			EmailID:     "demo@example.com",
			PaymentDate: at(10, 30),
			PayStatus:   StatusSuccess,
			RespCode:    "00000",
			RespMessage: "Transaction Successful.",
			ServiceRRN:  "823510001250",
			MOP:         "UPI",
			CreatedAt:   at(10, 30),
			UpdatedAt:   at(10, 30),
		},
		{
			CustRefNum:  "1734019800000demo2",
			AggRefNo:    "1852417210170176343",
			AuthID:      demoAuthID,
			Amount:      decimal.RequireFromString("250.00"),
			ContactNo:   "9876543211",
			EmailID:     "test@example.com",
			PaymentDate: at(11, 0),
			PayStatus:   StatusFailed,
			RespCode:    "FFFFF",
			RespMessage: "Transaction Failed.",
			ServiceRRN:  "41722538621",
			MOP:         "UPI",
			CreatedAt:   at(11, 0),
			UpdatedAt:   at(11, 0),
		},
		{
			CustRefNum:  "1734019800000demo3",
			AggRefNo:    "1852417210180187354",
			AuthID:      demoAuthID,
			Amount:      decimal.RequireFromString("1000.00"),
			ContactNo:   "9876543212",
			EmailID:     "pending@example.com",
			PaymentDate: at(11, 30),
			PayStatus:   StatusGatewayPending,
			RespCode:    "PPPP",
			RespMessage: "Transaction Pending.",
			MOP:         "UPI",
			QRString:    "upi://pay?pa=demo@paytm&tr=1734019800000demo3",
			CreatedAt:   at(11, 30),
			UpdatedAt:   at(11, 30),
		},
	}
}
