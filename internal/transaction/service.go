package transaction

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
)

// Gateway is the part of the payment gateway client the service relies on.
type Gateway interface {
	AuthID() string
	InitiatePayment(ctx context.Context, order paymentgateway.PaymentOrder) (*paymentgatewaytypes.StatusUpdate, error)
	StatusEnquiry(ctx context.Context, custRefNum string) (*paymentgatewaytypes.StatusUpdate, error)
	DecodeEncrypted(respData string) (*paymentgatewaytypes.StatusUpdate, error)
}

type Service struct {
	tracker *Tracker
	gateway Gateway
	logger  *slog.Logger
	newRef  func() string
	now     func() time.Time
}

func NewService(tracker *Tracker, gateway Gateway, logger *slog.Logger) *Service {
	return &Service{
		tracker: tracker,
		gateway: gateway,
		logger:  logger,
		newRef:  paymentgateway.GenerateReferenceNumber,
		now:     time.Now,
	}
}

func (s *Service) WithReferenceGenerator(next func() string) *Service {
	s.newRef = next
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate validates the request, registers the payment with the gateway and
// stores the record only once the gateway accepted it.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := req.Validate(); err != nil {
		s.logger.Warn("payment initiation rejected", "error", err)
		return nil, err
	}

	custRefNum := s.newRef()
	paymentDate := s.now().Truncate(time.Second)
	amount := req.Amount.Round(2)

	update, err := s.gateway.InitiatePayment(ctx, paymentgateway.PaymentOrder{
		CustRefNum:  custRefNum,
		Amount:      amount,
		PaymentDate: paymentDate,
		ContactNo:   req.ContactNo,
		EmailID:     req.EmailID,
	})
	if err != nil {
		s.logger.Error("payment initiation failed", "cust_ref_num", custRefNum, "error", err)
		return nil, err
	}

	authID := s.gateway.AuthID()
	fields := FieldsFromStatusUpdate(update)
	fields.AuthID = &authID
	fields.Amount = &amount
	fields.ContactNo = &req.ContactNo
	fields.EmailID = &req.EmailID
	fields.PaymentDate = &paymentDate

	txn, err := s.tracker.Upsert(withSource(ctx, SourceInitiation), custRefNum, fields)
	if err != nil {
		return nil, errors.NewInternalError("Failed to store transaction", err)
	}

	return &InitiateResult{
		CustRefNum:  custRefNum,
		AggRefNo:    txn.AggRefNo,
		QRString:    txn.QRString,
		PayStatus:   txn.PayStatus,
		RespMessage: txn.RespMessage,
		Transaction: txn,
	}, nil
}

// HandleCallback applies a gateway callback. payload is either {"respData":
// "<ciphertext>"} or the plain status fields; raw is the body as received.
func (s *Service) HandleCallback(ctx context.Context, payload map[string]any, raw []byte) (*Transaction, error) {
	var update *paymentgatewaytypes.StatusUpdate

	if respData, ok := payload["respData"].(string); ok && respData != "" {
		decoded, err := s.gateway.DecodeEncrypted(respData)
		if err != nil {
			s.logger.Warn("undecryptable callback payload", "error", err)
			if appErr, ok := errors.IsAppError(err); ok {
				return nil, appErr.WithStatus(http.StatusBadRequest)
			}
			return nil, err
		}
		update = decoded
	} else {
		if raw == nil {
			raw, _ = json.Marshal(payload)
		}
		update = paymentgatewaytypes.NormalizeStatusUpdate(payload, raw)
	}

	if update.CustRefNum == "" {
		s.logger.Warn("callback without reference number")
		return nil, errors.ErrInvalidCallback
	}

	s.logger.Info("received payment callback",
		"cust_ref_num", update.CustRefNum,
		"pay_status", update.PayStatus,
		"resp_code", update.RespCode)

	return s.tracker.Update(withSource(ctx, SourceCallback), update.CustRefNum, FieldsFromStatusUpdate(update))
}

// CheckStatus answers a status query. Terminal records are served from the
// store; pending ones are refreshed from the gateway, falling back to the
// stored record with a warning when the gateway cannot be reached.
func (s *Service) CheckStatus(ctx context.Context, custRefNum string) (*StatusResult, error) {
	local, err := s.tracker.GetByReference(ctx, custRefNum)
	if err != nil {
		return nil, err
	}

	if local.IsTerminal() {
		return &StatusResult{Transaction: local, Source: StatusSourceLocal}, nil
	}

	update, err := s.gateway.StatusEnquiry(ctx, custRefNum)
	if err != nil {
		s.logger.Warn("status enquiry failed, serving stored record",
			"cust_ref_num", custRefNum,
			"pay_status", local.PayStatus,
			"error", err)
		return &StatusResult{
			Transaction: local,
			Source:      StatusSourceLocal,
			Warning:     StatusWarningGatewayUnavailable,
		}, nil
	}

	if update.CustRefNum != "" && update.CustRefNum != custRefNum {
		s.logger.Warn("status enquiry answered for another reference",
			"cust_ref_num", custRefNum,
			"answered_for", update.CustRefNum)
		return &StatusResult{
			Transaction: local,
			Source:      StatusSourceLocal,
			Warning:     StatusWarningGatewayUnavailable,
		}, nil
	}

	txn, err := s.tracker.Update(withSource(ctx, SourceStatusEnquiry), custRefNum, FieldsFromStatusUpdate(update))
	if err != nil {
		return nil, err
	}

	return &StatusResult{Transaction: txn, Source: StatusSourceGateway}, nil
}

func (s *Service) ListTransactions(ctx context.Context) ([]*Transaction, error) {
	return s.tracker.ListAll(ctx)
}

func (s *Service) GetTransaction(ctx context.Context, custRefNum string) (*Transaction, error) {
	return s.tracker.GetByReference(ctx, custRefNum)
}

// ProcessStatusJob is the worker pool entry point for background
// reconciliation.
func (s *Service) ProcessStatusJob(ctx context.Context, job paymentgateway.StatusJob) {
	result, err := s.CheckStatus(ctx, job.CustRefNum)
	if err != nil {
		s.logger.Error("background status check failed", "cust_ref_num", job.CustRefNum, "error", err)
		return
	}
	s.logger.Info("background status check done",
		"cust_ref_num", job.CustRefNum,
		"pay_status", result.Transaction.PayStatus,
		"source", result.Source,
		"queued_for", time.Since(job.EnqueuedAt))
}
