package transaction

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Transaction struct {
	ID              int64           `gorm:"primaryKey"`
	CustRefNum      string          `gorm:"column:cust_ref_num;size:255;uniqueIndex;not null"`
	AggRefNo        string          `gorm:"column:agg_ref_no;size:255"`
	AuthID          string          `gorm:"column:auth_id;size:255;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	ContactNo       string          `gorm:"column:contact_no;size:20"`
	EmailID         string          `gorm:"column:email_id;size:255"`
	PaymentDate     time.Time       `gorm:"column:payment_date"`
	PayStatus       string          `gorm:"column:pay_status;size:10;index"`
	RespCode        string          `gorm:"column:resp_code;size:10"`
	RespMessage     string          `gorm:"column:resp_message;type:text"`
	ServiceRRN      string          `gorm:"column:service_rrn;size:255"`
	MOP             string          `gorm:"column:mop;size:10"`
	QRString        string          `gorm:"column:qr_string;type:text"`
	PayRespDate     *time.Time      `gorm:"column:pay_resp_date"`
	GatewayResponse datatypes.JSON  `gorm:"column:gateway_response"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime:false;index:idx_transactions_created_at,sort:desc"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (Transaction) TableName() string {
	return "transactions"
}
