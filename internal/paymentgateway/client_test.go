package paymentgateway_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/skillpay-gateway/internal"
	paymentgatewaytypes "github.com/frahmantamala/skillpay-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
)

var _ = Describe("Client", func() {
	var (
		codec     *paymentgateway.Codec
		server    *httptest.Server
		handler   http.HandlerFunc
		hits      int32
		slogger   *slog.Logger
		newClient func(mode string, retries int) *paymentgateway.Client
		order     paymentgateway.PaymentOrder
	)

	BeforeEach(func() {
		var err error
		codec, err = paymentgateway.NewCodec(testKey)
		Expect(err).NotTo(HaveOccurred())
		slogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		atomic.StoreInt32(&hits, 0)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			handler(w, r)
		}))

		newClient = func(mode string, retries int) *paymentgateway.Client {
			return paymentgateway.NewClient(paymentgateway.Config{
				APIURL:           server.URL,
				AuthID:           "M00006572",
				AuthKey:          testKey,
				CallbackURL:      "http://merchant.test/api/v1/payment/callback",
				Timeout:          2 * time.Second,
				StatusEncryption: mode,
				StatusRetries:    retries,
				RetryInterval:    time.Millisecond,
			}, codec, slogger)
		}

		order = paymentgateway.PaymentOrder{
			CustRefNum:  "1734019800000abcdef",
			Amount:      decimal.RequireFromString("100"),
			PaymentDate: time.Date(2025, 1, 12, 10, 30, 0, 0, time.Local),
			ContactNo:   "9876543210",
			EmailID:     "a@b.com",
		}
	})

	AfterEach(func() {
		server.Close()
	})

	writeJSON := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}

	Describe("InitiatePayment", func() {
		It("sends the encrypted request and decrypts the answer", func() {
			var received paymentgatewaytypes.InitiationRequest
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/paymentinit"))
				Expect(r.URL.Query().Get("AuthID")).To(Equal("M00006572"))
				Expect(codec.Decrypt(r.URL.Query().Get("encData"), &received)).To(Succeed())

				respData, err := codec.Encrypt(map[string]string{
					"AggRefNo":     "1852417210160006281",
					"payStatus":    "PPPP",
					"resp_code":    "PPPP",
					"resp_message": "Transaction Pending.",
					"MOP":          "UPI",
					"qrString":     "upi://pay?pa=demo@paytm",
				})
				Expect(err).NotTo(HaveOccurred())
				writeJSON(w, http.StatusOK, map[string]string{"respData": respData})
			}

			update, err := newClient("", 0).InitiatePayment(context.Background(), order)
			Expect(err).NotTo(HaveOccurred())

			Expect(received.TxnAmount).To(Equal("100.00"))
			Expect(received.PaymentDate).To(Equal("2025-01-12 10:30:00"))
			Expect(received.AuthKey).To(Equal(testKey))
			Expect(received.IntegrationType).To(Equal("seamless"))
			Expect(received.CallbackURL).To(Equal("http://merchant.test/api/v1/payment/callback"))
			Expect(received.Adf1).To(Equal("NA"))
			Expect(received.MOP).To(Equal("UPI"))
			Expect(received.MOPType).To(Equal("UPI"))
			Expect(received.MOPDetails).To(Equal("I"))

			Expect(update.AggRefNo).To(Equal("1852417210160006281"))
			Expect(update.PayStatus).To(Equal("PPPP"))
			Expect(update.QRString).To(Equal("upi://pay?pa=demo@paytm"))
			Expect(update.MOP).To(Equal("UPI"))
			Expect(update.Raw).NotTo(BeEmpty())
		})

		It("surfaces the gateway message and status on rejection", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"resp_message": "Invalid AuthID"})
			}

			_, err := newClient("", 0).InitiatePayment(context.Background(), order)
			Expect(apperrors.IsGatewayError(err)).To(BeTrue())
			appErr, _ := apperrors.IsAppError(err)
			Expect(appErr.Message).To(Equal("SkillPay API Error: Invalid AuthID"))
			Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("reports undecryptable answers as codec errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"respData": "bm90IGEgY2lwaGVydGV4dA=="})
			}

			_, err := newClient("", 0).InitiatePayment(context.Background(), order)
			Expect(apperrors.IsCodecError(err)).To(BeTrue())
		})

		It("reports an unreachable gateway", func() {
			server.Close()

			_, err := newClient("", 0).InitiatePayment(context.Background(), order)
			Expect(apperrors.IsGatewayError(err)).To(BeTrue())
			appErr, _ := apperrors.IsAppError(err)
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayUnreachable))
			Expect(appErr.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("StatusEnquiry", func() {
		It("normalizes a plaintext answer", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/statusenquiry"))
				Expect(r.URL.Query().Get("CustRefNum")).To(Equal("R1"))
				writeJSON(w, http.StatusOK, map[string]string{
					"custRefNum":   "R1",
					"payStatus":    "Ok",
					"resp_code":    "00000",
					"resp_message": "Transaction Successful.",
					"serviceRRN":   "823510001250",
				})
			}

			update, err := newClient("", 0).StatusEnquiry(context.Background(), "R1")
			Expect(err).NotTo(HaveOccurred())
			Expect(update.CustRefNum).To(Equal("R1"))
			Expect(update.PayStatus).To(Equal("Ok"))
			Expect(update.RespCode).To(Equal("00000"))
			Expect(update.ServiceRRN).To(Equal("823510001250"))
		})

		It("decrypts a wrapped answer in auto mode", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				respData, _ := codec.Encrypt(map[string]string{"CustRefNum": "R1", "payStatus": "F", "resp_code": "FFFFF"})
				writeJSON(w, http.StatusOK, map[string]string{"respData": respData})
			}

			update, err := newClient("auto", 0).StatusEnquiry(context.Background(), "R1")
			Expect(err).NotTo(HaveOccurred())
			Expect(update.PayStatus).To(Equal("F"))
			Expect(update.RespCode).To(Equal("FFFFF"))
		})

		It("requires respData when configured as encrypted", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"payStatus": "Ok"})
			}

			_, err := newClient("encrypted", 0).StatusEnquiry(context.Background(), "R1")
			Expect(apperrors.IsCodecError(err)).To(BeTrue())
		})

		It("retries server errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				if atomic.LoadInt32(&hits) == 1 {
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{"resp_message": "busy"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"payStatus": "Ok"})
			}

			update, err := newClient("plain", 2).StatusEnquiry(context.Background(), "R1")
			Expect(err).NotTo(HaveOccurred())
			Expect(update.PayStatus).To(Equal("Ok"))
			Expect(atomic.LoadInt32(&hits)).To(Equal(int32(2)))
		})

		It("does not retry client errors", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, map[string]string{"resp_message": "Unknown CustRefNum"})
			}

			_, err := newClient("plain", 3).StatusEnquiry(context.Background(), "R1")
			Expect(apperrors.IsGatewayError(err)).To(BeTrue())
			Expect(atomic.LoadInt32(&hits)).To(Equal(int32(1)))
		})
	})
})
