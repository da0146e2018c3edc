package transaction_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/skillpay-gateway/internal"
	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/core/events"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction/memory"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []*events.TransactionEvent
}

func (r *eventRecorder) handle(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(*events.TransactionEvent))
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]string, len(r.events))
	for i, e := range r.events {
		result[i] = e.EventType()
	}
	return result
}

func (r *eventRecorder) subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeTransactionInitiated, r.handle)
	bus.Subscribe(events.EventTypeTransactionSettled, r.handle)
	bus.Subscribe(events.EventTypeTransactionFailed, r.handle)
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		gateway  *fakeGateway
		repo     *memory.TransactionRepository
		bus      *events.EventBus
		recorder *eventRecorder
		tracker  *transaction.Tracker
		service  *transaction.Service
		start    time.Time
		request  transaction.InitiateRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2025, 1, 12, 10, 30, 0, 0, time.Local)
		gateway = newFakeGateway()
		repo = memory.NewTransactionRepository()
		bus = events.NewEventBus(quietLogger())
		recorder = &eventRecorder{}
		recorder.subscribe(bus)
		tracker = transaction.NewTracker(repo, bus, quietLogger()).WithClock(stepClock(start))
		service = transaction.NewService(tracker, gateway, quietLogger()).
			WithReferenceGenerator(func() string { return "1734019800000abcdef" }).
			WithClock(func() time.Time { return start.Add(500 * time.Millisecond) })

		amount := decimal.RequireFromString("100")
		request = transaction.InitiateRequest{
			Amount:    &amount,
			ContactNo: "9876543210",
			EmailID:   "payer@example.com",
		}
	})

	AfterEach(func() {
		bus.Wait()
	})

	Describe("Initiate", func() {
		BeforeEach(func() {
			gateway.initResponse = &paymentgatewaytypes.StatusUpdate{
				CustRefNum:  "1734019800000abcdef",
				AggRefNo:    "AGG1",
				PayStatus:   paymentgatewaytypes.PayStatusPending,
				RespMessage: "Transaction Initiated",
				QRString:    "upi://pay?pa=merchant@bank&am=100.00",
			}
		})

		It("stores the record after the gateway accepts it", func() {
			result, err := service.Initiate(ctx, request)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.CustRefNum).To(Equal("1734019800000abcdef"))
			Expect(result.AggRefNo).To(Equal("AGG1"))
			Expect(result.PayStatus).To(Equal(transaction.StatusGatewayPending))
			Expect(result.QRString).To(HavePrefix("upi://pay"))

			Expect(gateway.lastOrder.Amount.StringFixed(2)).To(Equal("100.00"))
			Expect(gateway.lastOrder.PaymentDate).To(Equal(start))

			stored, err := repo.GetByReference(ctx, "1734019800000abcdef")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.AuthID).To(Equal("M00006572"))
			Expect(stored.ContactNo).To(Equal("9876543210"))
			Expect(stored.EmailID).To(Equal("payer@example.com"))
			Expect(stored.PaymentDate).To(Equal(start))
			Expect(stored.State()).To(Equal(transaction.StateAwaitingPayment))

			bus.Wait()
			Expect(recorder.types()).To(Equal([]string{events.EventTypeTransactionInitiated}))
		})

		It("rejects invalid input without calling the gateway", func() {
			request.ContactNo = "12345"

			_, err := service.Initiate(ctx, request)
			Expect(apperrors.IsValidationError(err)).To(BeTrue())

			initCalls, _ := gateway.calls()
			Expect(initCalls).To(BeZero())
		})

		It("creates no record when the gateway rejects the payment", func() {
			gateway.initErr = apperrors.NewGatewayError("SkillPay API Error: Invalid AuthID", http.StatusBadRequest, nil)

			_, err := service.Initiate(ctx, request)
			Expect(apperrors.IsGatewayError(err)).To(BeTrue())

			all, err := repo.ListAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())
		})
	})

	Describe("HandleCallback", func() {
		BeforeEach(func() {
			_, err := tracker.Upsert(ctx, "ref-1", transaction.Fields{
				Amount:    ptr(decimal.RequireFromString("250.00")),
				AggRefNo:  ptr("AGG1"),
				PayStatus: ptr(transaction.StatusGatewayPending),
				QRString:  ptr("upi://pay?pa=x"),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("decrypts respData and settles the transaction", func() {
			respData := gateway.codec.EncryptBytes([]byte(
				`{"CustRefNum":"ref-1","payStatus":"Ok","resp_code":"00","resp_message":"Success","serviceRRN":"RRN1","payrespDate":"2025-01-12 10:35:00"}`))

			txn, err := service.HandleCallback(ctx, map[string]any{"respData": respData}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(txn.PayStatus).To(Equal(transaction.StatusSuccess))
			Expect(txn.ServiceRRN).To(Equal("RRN1"))
			Expect(txn.QRString).To(Equal("upi://pay?pa=x"))
			Expect(txn.PayRespDate).NotTo(BeNil())

			bus.Wait()
			Expect(recorder.types()).To(ContainElement(events.EventTypeTransactionSettled))
		})

		It("accepts plain callback fields", func() {
			payload := map[string]any{"CustRefNum": "ref-1", "payStatus": "F", "resp_code": "U30"}

			txn, err := service.HandleCallback(ctx, payload, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(txn.PayStatus).To(Equal(transaction.StatusFailed))
			Expect(txn.RespCode).To(Equal("U30"))

			var audit map[string]any
			Expect(json.Unmarshal(txn.GatewayResponse, &audit)).To(Succeed())
			Expect(audit).To(HaveKeyWithValue("payStatus", "F"))
		})

		It("answers 400 for undecryptable respData", func() {
			_, err := service.HandleCallback(ctx, map[string]any{"respData": "not-base64!"}, nil)

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeCodec))
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a callback without a reference", func() {
			_, err := service.HandleCallback(ctx, map[string]any{"payStatus": "Ok"}, nil)
			Expect(err).To(MatchError(apperrors.ErrInvalidCallback))
		})

		It("does not create records for unknown references", func() {
			_, err := service.HandleCallback(ctx, map[string]any{"CustRefNum": "ghost", "payStatus": "Ok"}, nil)
			Expect(apperrors.IsNotFound(err)).To(BeTrue())

			_, err = repo.GetByReference(ctx, "ghost")
			Expect(apperrors.IsNotFound(err)).To(BeTrue())
		})

		It("applies a late callback for a settled transaction", func() {
			_, err := service.HandleCallback(ctx, map[string]any{"CustRefNum": "ref-1", "payStatus": "Ok", "resp_code": "00"}, nil)
			Expect(err).NotTo(HaveOccurred())

			txn, err := service.HandleCallback(ctx, map[string]any{"CustRefNum": "ref-1", "payStatus": "F", "resp_code": "99"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(txn.PayStatus).To(Equal(transaction.StatusFailed))
			Expect(txn.RespCode).To(Equal("99"))

			bus.Wait()
			Expect(recorder.types()).To(ContainElements(events.EventTypeTransactionSettled, events.EventTypeTransactionFailed))
		})
	})

	Describe("CheckStatus", func() {
		BeforeEach(func() {
			_, err := tracker.Upsert(ctx, "ref-1", transaction.Fields{
				Amount:    ptr(decimal.RequireFromString("250.00")),
				AggRefNo:  ptr("AGG1"),
				PayStatus: ptr(transaction.StatusGatewayPending),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("fails for unknown references without calling the gateway", func() {
			_, err := service.CheckStatus(ctx, "ghost")
			Expect(apperrors.IsNotFound(err)).To(BeTrue())

			_, statusCalls := gateway.calls()
			Expect(statusCalls).To(BeZero())
		})

		It("refreshes pending transactions from the gateway", func() {
			gateway.statusResponse = &paymentgatewaytypes.StatusUpdate{CustRefNum: "ref-1", PayStatus: "Ok", RespCode: "00"}

			result, err := service.CheckStatus(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Source).To(Equal(transaction.StatusSourceGateway))
			Expect(result.Warning).To(BeEmpty())
			Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusSuccess))
		})

		It("serves terminal transactions locally", func() {
			gateway.statusResponse = &paymentgatewaytypes.StatusUpdate{CustRefNum: "ref-1", PayStatus: "Ok"}
			_, err := service.CheckStatus(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())

			result, err := service.CheckStatus(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Source).To(Equal(transaction.StatusSourceLocal))

			_, statusCalls := gateway.calls()
			Expect(statusCalls).To(Equal(1))
		})

		It("falls back to the stored record when the gateway fails", func() {
			gateway.statusErr = apperrors.NewGatewayError("Unable to fetch latest status from payment gateway", 0, nil)

			result, err := service.CheckStatus(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Source).To(Equal(transaction.StatusSourceLocal))
			Expect(result.Warning).To(Equal(transaction.StatusWarningGatewayUnavailable))
			Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusGatewayPending))
		})

		It("does not apply an answer about another reference", func() {
			gateway.statusResponse = &paymentgatewaytypes.StatusUpdate{CustRefNum: "ref-2", PayStatus: "Ok"}

			result, err := service.CheckStatus(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Warning).To(Equal(transaction.StatusWarningGatewayUnavailable))
			Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusGatewayPending))
		})
	})

	Describe("ProcessStatusJob", func() {
		It("refreshes the referenced transaction", func() {
			_, err := tracker.Upsert(ctx, "ref-1", transaction.Fields{PayStatus: ptr(transaction.StatusGatewayPending)})
			Expect(err).NotTo(HaveOccurred())
			gateway.statusResponse = &paymentgatewaytypes.StatusUpdate{CustRefNum: "ref-1", PayStatus: "F"}

			service.ProcessStatusJob(ctx, paymentgateway.StatusJob{CustRefNum: "ref-1", EnqueuedAt: time.Now()})

			stored, err := repo.GetByReference(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PayStatus).To(Equal(transaction.StatusFailed))
		})
	})

	Describe("Seed", func() {
		It("inserts the demo records once", func() {
			inserted, err := tracker.Seed(ctx, transaction.DemoTransactions())
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(Equal(3))

			inserted, err = tracker.Seed(ctx, transaction.DemoTransactions())
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeZero())

			all, err := service.ListTransactions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})
	})
})

var _ = Describe("Payment lifecycle against the gateway", func() {
	var (
		ctx         context.Context
		codec       *paymentgateway.Codec
		server      *httptest.Server
		statusMu    sync.Mutex
		statusReply func(w http.ResponseWriter)
		service     *transaction.Service
		repo        *memory.TransactionRepository
		ref         string
	)

	encryptedReply := func(w http.ResponseWriter, plaintext string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"respData": codec.EncryptBytes([]byte(plaintext))})
	}

	BeforeEach(func() {
		ctx = context.Background()
		ref = "1734019800000lifecy"

		var err error
		codec, err = paymentgateway.NewCodec(testKey)
		Expect(err).NotTo(HaveOccurred())

		statusReply = func(w http.ResponseWriter) {
			encryptedReply(w, `{"CustRefNum":"`+ref+`","payStatus":"PPPP"}`)
		}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/paymentinit":
				encryptedReply(w, `{"CustRefNum":"`+ref+`","AggRefNo":"AGG77","payStatus":"PPPP","qrString":"upi://pay?pa=m@bank","resp_message":"Initiated"}`)
			case "/statusenquiry":
				statusMu.Lock()
				reply := statusReply
				statusMu.Unlock()
				reply(w)
			default:
				http.NotFound(w, r)
			}
		}))

		client := paymentgateway.NewClient(paymentgateway.Config{
			APIURL:        server.URL,
			AuthID:        "M00006572",
			AuthKey:       testKey,
			CallbackURL:   "http://merchant.test/api/v1/payment/callback",
			Timeout:       2 * time.Second,
			StatusRetries: 0,
			RetryInterval: time.Millisecond,
		}, codec, quietLogger())

		repo = memory.NewTransactionRepository()
		tracker := transaction.NewTracker(repo, nil, quietLogger())
		service = transaction.NewService(tracker, client, quietLogger()).
			WithReferenceGenerator(func() string { return ref })
	})

	AfterEach(func() {
		server.Close()
	})

	initiate := func() {
		amount := decimal.RequireFromString("100.00")
		result, err := service.Initiate(ctx, transaction.InitiateRequest{
			Amount:    &amount,
			ContactNo: "9876543210",
			EmailID:   "payer@example.com",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.PayStatus).To(Equal(transaction.StatusGatewayPending))
		Expect(result.AggRefNo).To(Equal("AGG77"))
		Expect(result.QRString).To(Equal("upi://pay?pa=m@bank"))
	}

	It("settles through an encrypted callback", func() {
		initiate()

		respData := codec.EncryptBytes([]byte(`{"CustRefNum":"` + ref + `","payStatus":"Ok","resp_code":"00","serviceRRN":"RRN9"}`))
		txn, err := service.HandleCallback(ctx, map[string]any{"respData": respData}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(txn.PayStatus).To(Equal(transaction.StatusSuccess))
		Expect(txn.QRString).To(Equal("upi://pay?pa=m@bank"))

		result, err := service.CheckStatus(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Source).To(Equal(transaction.StatusSourceLocal))
		Expect(result.Transaction.ServiceRRN).To(Equal("RRN9"))
	})

	It("records a failure reported by status enquiry", func() {
		initiate()

		statusMu.Lock()
		statusReply = func(w http.ResponseWriter) {
			encryptedReply(w, `{"CustRefNum":"`+ref+`","payStatus":"F","resp_code":"U30","resp_message":"Declined"}`)
		}
		statusMu.Unlock()

		result, err := service.CheckStatus(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Source).To(Equal(transaction.StatusSourceGateway))
		Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusFailed))
		Expect(result.Transaction.State()).To(Equal(transaction.StateFailed))
	})

	It("serves the stored record with a warning while the gateway is down", func() {
		initiate()

		statusMu.Lock()
		statusReply = func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		statusMu.Unlock()

		result, err := service.CheckStatus(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Warning).To(Equal(transaction.StatusWarningGatewayUnavailable))
		Expect(result.Transaction.PayStatus).To(Equal(transaction.StatusGatewayPending))
		Expect(result.Transaction.AggRefNo).To(Equal("AGG77"))
	})
})
