package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/skillpay-gateway/internal"
	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
)

const (
	initiatePath      = "/paymentinit"
	statusEnquiryPath = "/statusenquiry"
)

type Config struct {
	APIURL      string
	AuthID      string
	AuthKey     string
	CallbackURL string
	Timeout     time.Duration
	// StatusEncryption is one of auto, encrypted or plain. auto decrypts the
	// status enquiry answer only when it arrives wrapped in respData.
	StatusEncryption string
	StatusRetries    int
	RetryInterval    time.Duration
}

// PaymentOrder carries the per-payment values of an initiation request; the
// merchant credentials come from Config.
type PaymentOrder struct {
	CustRefNum  string
	Amount      decimal.Decimal
	PaymentDate time.Time
	ContactNo   string
	EmailID     string
}

type Client struct {
	http   *resty.Client
	codec  *Codec
	cfg    Config
	logger *slog.Logger
}

func NewClient(cfg Config, codec *Codec, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.StatusEncryption == "" {
		cfg.StatusEncryption = apperrors.StatusEncryptionAuto
	}

	httpClient := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		codec:  codec,
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) AuthID() string {
	return c.cfg.AuthID
}

// BuildInitiationRequest fills the fixed merchant and UPI fields around order.
func (c *Client) BuildInitiationRequest(order PaymentOrder) *paymentgatewaytypes.InitiationRequest {
	return &paymentgatewaytypes.InitiationRequest{
		AuthID:          c.cfg.AuthID,
		AuthKey:         c.cfg.AuthKey,
		CustRefNum:      order.CustRefNum,
		TxnAmount:       order.Amount.StringFixed(2),
		PaymentDate:     FormatGatewayTimestamp(order.PaymentDate),
		ContactNo:       order.ContactNo,
		EmailID:         order.EmailID,
		IntegrationType: paymentgatewaytypes.IntegrationSeamless,
		CallbackURL:     c.cfg.CallbackURL,
		Adf1:            paymentgatewaytypes.AdditionalFieldNA,
		Adf2:            paymentgatewaytypes.AdditionalFieldNA,
		Adf3:            paymentgatewaytypes.AdditionalFieldNA,
		MOP:             paymentgatewaytypes.ModeUPI,
		MOPType:         paymentgatewaytypes.ModeUPI,
		MOPDetails:      paymentgatewaytypes.ModeDetailsIntent,
	}
}

// InitiatePayment encrypts the order, posts it to /paymentinit and returns
// the decrypted answer. It is never retried: a second attempt could register
// the same reference twice at the gateway.
func (c *Client) InitiatePayment(ctx context.Context, order PaymentOrder) (*paymentgatewaytypes.StatusUpdate, error) {
	req := c.BuildInitiationRequest(order)
	if err := req.Validate(); err != nil {
		c.logger.Error("initiation request validation failed", "cust_ref_num", order.CustRefNum, "error", err)
		return nil, apperrors.NewValidationError(err.Error(), apperrors.ErrCodeInvalidRequest)
	}

	encData, err := c.codec.Encrypt(req)
	if err != nil {
		c.logger.Error("failed to encrypt initiation request", "cust_ref_num", order.CustRefNum, "error", err)
		return nil, err
	}

	c.logger.Info("initiating payment with gateway",
		"cust_ref_num", order.CustRefNum,
		"amount", req.TxnAmount)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParams(map[string]string{
			"encData": encData,
			"AuthID":  c.cfg.AuthID,
		}).
		Post(initiatePath)
	if err != nil {
		c.logger.Error("gateway initiation request failed", "cust_ref_num", order.CustRefNum, "error", err)
		return nil, apperrors.NewGatewayError("Failed to initialize payment", 0, err)
	}
	if resp.IsError() {
		gwErr := c.gatewayError(resp)
		c.logger.Warn("gateway rejected initiation",
			"cust_ref_num", order.CustRefNum,
			"status_code", resp.StatusCode(),
			"message", gwErr.Message)
		return nil, gwErr
	}

	var envelope paymentgatewaytypes.Envelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, apperrors.NewCodecError("gateway response is not valid JSON", apperrors.ErrCodeMalformedPayload, err)
	}
	if envelope.RespData == "" {
		return nil, apperrors.NewCodecError("gateway response is missing respData", apperrors.ErrCodeMalformedPayload, nil)
	}

	update, err := c.decodeEncrypted(envelope.RespData)
	if err != nil {
		c.logger.Error("failed to decode initiation response", "cust_ref_num", order.CustRefNum, "error", err)
		return nil, err
	}

	c.logger.Info("payment initiated",
		"cust_ref_num", order.CustRefNum,
		"agg_ref_no", update.AggRefNo,
		"pay_status", update.PayStatus)

	return update, nil
}

// StatusEnquiry asks the gateway for the latest status of custRefNum.
// Transport failures and 5xx answers are retried with exponential backoff;
// 4xx answers and undecodable bodies are returned immediately.
func (c *Client) StatusEnquiry(ctx context.Context, custRefNum string) (*paymentgatewaytypes.StatusUpdate, error) {
	attempt := 0
	op := func() (*paymentgatewaytypes.StatusUpdate, error) {
		attempt++
		update, err := c.statusEnquiryOnce(ctx, custRefNum)
		if err == nil {
			return update, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.StatusRetries)), ctx)

	return backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		c.logger.Warn("status enquiry failed, retrying",
			"cust_ref_num", custRefNum,
			"attempt", attempt,
			"retry_in", wait,
			"error", err)
	})
}

func (c *Client) statusEnquiryOnce(ctx context.Context, custRefNum string) (*paymentgatewaytypes.StatusUpdate, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"AuthID":     c.cfg.AuthID,
			"CustRefNum": custRefNum,
		}).
		Post(statusEnquiryPath)
	if err != nil {
		return nil, apperrors.NewGatewayError("Unable to fetch latest status from payment gateway", 0, err)
	}
	if resp.IsError() {
		return nil, c.gatewayError(resp)
	}

	body := resp.Body()
	fields, err := paymentgatewaytypes.DecodeObject(body)
	if err != nil {
		return nil, apperrors.NewCodecError("status enquiry response is not valid JSON", apperrors.ErrCodeMalformedPayload, err)
	}

	respData, wrapped := fields["respData"].(string)
	switch c.cfg.StatusEncryption {
	case apperrors.StatusEncryptionEnabled:
		if !wrapped || respData == "" {
			return nil, apperrors.NewCodecError("status enquiry response is missing respData", apperrors.ErrCodeMalformedPayload, nil)
		}
		return c.decodeEncrypted(respData)
	case apperrors.StatusEncryptionDisabled:
		return paymentgatewaytypes.NormalizeStatusUpdate(fields, body), nil
	default:
		if wrapped && respData != "" {
			return c.decodeEncrypted(respData)
		}
		return paymentgatewaytypes.NormalizeStatusUpdate(fields, body), nil
	}
}

// DecodeEncrypted decrypts a respData value and normalizes it.
func (c *Client) DecodeEncrypted(respData string) (*paymentgatewaytypes.StatusUpdate, error) {
	return c.decodeEncrypted(respData)
}

func (c *Client) decodeEncrypted(respData string) (*paymentgatewaytypes.StatusUpdate, error) {
	plaintext, err := c.codec.DecryptBytes(respData)
	if err != nil {
		return nil, err
	}
	update, err := paymentgatewaytypes.ParseStatusUpdate(plaintext)
	if err != nil {
		return nil, apperrors.NewCodecError("decrypted payload is not a JSON object", apperrors.ErrCodeMalformedPayload, err)
	}
	return update, nil
}

func (c *Client) gatewayError(resp *resty.Response) *apperrors.AppError {
	message := http.StatusText(resp.StatusCode())
	var body paymentgatewaytypes.ErrorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.RespMessage != "" {
		message = body.RespMessage
	}
	return apperrors.NewGatewayError(fmt.Sprintf("SkillPay API Error: %s", message), resp.StatusCode(), nil)
}
