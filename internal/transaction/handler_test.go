package transaction_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction/memory"
	"github.com/frahmantamala/skillpay-gateway/internal/transport"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Details *struct {
			Errors []struct {
				Field string `json:"field"`
			} `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) envelope {
	var env envelope
	Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
	return env
}

var _ = Describe("Handlers", func() {
	var (
		ctx     context.Context
		gateway *fakeGateway
		tracker *transaction.Tracker
		router  chi.Router
	)

	BeforeEach(func() {
		ctx = context.Background()
		gateway = newFakeGateway()
		gateway.initResponse = &paymentgatewaytypes.StatusUpdate{
			AggRefNo:  "AGG1",
			PayStatus: paymentgatewaytypes.PayStatusPending,
			QRString:  "upi://pay?pa=m@bank",
		}

		tracker = transaction.NewTracker(memory.NewTransactionRepository(), nil, quietLogger()).
			WithClock(stepClock(time.Date(2025, 1, 12, 10, 0, 0, 0, time.Local)))
		service := transaction.NewService(tracker, gateway, quietLogger()).
			WithReferenceGenerator(func() string { return "1734019800000handle" })
		poller := transaction.NewPoller(service, time.Millisecond, 20*time.Millisecond, quietLogger())

		base := transport.NewBaseHandler(quietLogger())
		handler := transaction.NewHandler(base, service, poller)
		webhook := transaction.NewWebhookHandler(base, service)

		router = chi.NewRouter()
		router.Post("/api/v1/payment/init", handler.InitiatePayment)
		router.Get("/api/v1/payment/status", handler.PaymentStatus)
		router.Get("/api/v1/transactions", handler.ListTransactions)
		router.Get("/api/v1/transactions/{custRefNum}", handler.GetTransaction)
		router.Post("/api/v1/payment/callback", webhook.HandlePaymentCallback)
		router.Get("/api/v1/payment/callback", webhook.HandleCallbackRedirect)
	})

	serve := func(method, target, contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	seedPending := func(ref string) {
		_, err := tracker.Upsert(ctx, ref, transaction.Fields{
			Amount:    ptr(decimal.RequireFromString("100.00")),
			AggRefNo:  ptr("AGG1"),
			PayStatus: ptr(transaction.StatusGatewayPending),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("POST /api/v1/payment/init", func() {
		It("initiates a payment", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/init", "application/json",
				`{"amount":"100","contactNo":"9876543210","emailId":"payer@example.com"}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			env := decodeEnvelope(rec)
			Expect(env.Success).To(BeTrue())

			var data map[string]any
			Expect(json.Unmarshal(env.Data, &data)).To(Succeed())
			Expect(data).To(HaveKeyWithValue("custRefNum", "1734019800000handle"))
			Expect(data).To(HaveKeyWithValue("aggRefNo", "AGG1"))
			Expect(data).To(HaveKeyWithValue("payStatus", "PPPP"))
		})

		It("accepts a numeric amount", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/init", "application/json",
				`{"amount":250.5,"contactNo":"9876543210","emailId":"payer@example.com"}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gateway.lastOrder.Amount.StringFixed(2)).To(Equal("250.50"))
		})

		It("rejects a malformed body", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/init", "application/json", `{"amount":`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Error.Code).To(Equal("INVALID_REQUEST"))
		})

		It("reports the invalid field", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/init", "application/json",
				`{"amount":"0","contactNo":"9876543210","emailId":"payer@example.com"}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			env := decodeEnvelope(rec)
			Expect(env.Error.Type).To(Equal("VALIDATION_ERROR"))
			Expect(env.Error.Details.Errors[0].Field).To(Equal("amount"))

			initCalls, _ := gateway.calls()
			Expect(initCalls).To(BeZero())
		})
	})

	Describe("GET /api/v1/payment/status", func() {
		It("requires custRefNum", func() {
			rec := serve(http.MethodGet, "/api/v1/payment/status", "", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Error.Code).To(Equal("MISSING_REFERENCE"))
		})

		It("rejects an invalid wait flag", func() {
			seedPending("ref-1")
			rec := serve(http.MethodGet, "/api/v1/payment/status?custRefNum=ref-1&wait=maybe", "", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 404 for unknown references", func() {
			rec := serve(http.MethodGet, "/api/v1/payment/status?custRefNum=ghost", "", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("returns the stored record with a warning when the gateway is down", func() {
			seedPending("ref-1")
			gateway.statusErr = context.DeadlineExceeded

			rec := serve(http.MethodGet, "/api/v1/payment/status?custRefNum=ref-1", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			env := decodeEnvelope(rec)
			Expect(env.Warning).To(Equal(transaction.StatusWarningGatewayUnavailable))

			var data transaction.TransactionResponse
			Expect(json.Unmarshal(env.Data, &data)).To(Succeed())
			Expect(data.PayStatus).To(Equal(transaction.StatusGatewayPending))
			Expect(data.Amount).To(Equal("100.00"))
		})

		It("polls until the payment is final when asked to wait", func() {
			seedPending("ref-1")
			gateway.statusResponse = &paymentgatewaytypes.StatusUpdate{CustRefNum: "ref-1", PayStatus: "Ok"}

			rec := serve(http.MethodGet, "/api/v1/payment/status?custRefNum=ref-1&wait=true", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var data transaction.TransactionResponse
			Expect(json.Unmarshal(decodeEnvelope(rec).Data, &data)).To(Succeed())
			Expect(data.PayStatus).To(Equal(transaction.StatusSuccess))
			Expect(data.State).To(Equal(transaction.StateSettled))
		})
	})

	Describe("transactions", func() {
		It("lists every transaction", func() {
			seedPending("ref-1")
			seedPending("ref-2")

			rec := serve(http.MethodGet, "/api/v1/transactions", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var data []transaction.TransactionResponse
			Expect(json.Unmarshal(decodeEnvelope(rec).Data, &data)).To(Succeed())
			Expect(data).To(HaveLen(2))
			Expect(data[0].CustRefNum).To(Equal("ref-2"))
		})

		It("fetches one transaction by reference", func() {
			seedPending("ref-1")

			rec := serve(http.MethodGet, "/api/v1/transactions/ref-1", "", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = serve(http.MethodGet, "/api/v1/transactions/ghost", "", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/v1/payment/callback", func() {
		BeforeEach(func() {
			seedPending("ref-1")
		})

		It("applies an encrypted JSON callback", func() {
			respData := gateway.codec.EncryptBytes([]byte(`{"CustRefNum":"ref-1","payStatus":"Ok","resp_code":"00"}`))
			body, _ := json.Marshal(map[string]string{"respData": respData})

			rec := serve(http.MethodPost, "/api/v1/payment/callback", "application/json", string(body))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var ack transaction.CallbackAck
			Expect(json.Unmarshal(decodeEnvelope(rec).Data, &ack)).To(Succeed())
			Expect(ack.CustRefNum).To(Equal("ref-1"))
			Expect(ack.PayStatus).To(Equal(transaction.StatusSuccess))
		})

		It("applies a form encoded callback", func() {
			form := url.Values{"CustRefNum": {"ref-1"}, "payStatus": {"F"}, "resp_code": {"U30"}}

			rec := serve(http.MethodPost, "/api/v1/payment/callback", "application/x-www-form-urlencoded", form.Encode())
			Expect(rec.Code).To(Equal(http.StatusOK))

			txn, err := tracker.GetByReference(ctx, "ref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(txn.PayStatus).To(Equal(transaction.StatusFailed))
		})

		It("rejects a body that is not JSON", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/callback", "application/json", "garbage")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Error.Code).To(Equal("INVALID_CALLBACK"))
		})

		It("rejects undecryptable respData with 400", func() {
			rec := serve(http.MethodPost, "/api/v1/payment/callback", "application/json", `{"respData":"AAAA"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/v1/payment/callback", func() {
		It("redirects the payer to the transaction page", func() {
			rec := serve(http.MethodGet, "/api/v1/payment/callback?CustRefNum=ref-1&payStatus=Ok", "", "")
			Expect(rec.Code).To(Equal(http.StatusFound))
			Expect(rec.Header().Get("Location")).To(Equal("/transaction/ref-1?status=Ok"))
		})

		It("redirects home without a reference", func() {
			rec := serve(http.MethodGet, "/api/v1/payment/callback", "", "")
			Expect(rec.Code).To(Equal(http.StatusFound))
			Expect(rec.Header().Get("Location")).To(Equal("/"))
		})
	})
})
