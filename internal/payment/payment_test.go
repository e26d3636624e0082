package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayTo = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestChecksumAddress(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		lower := "0x" + toLower(want[2:])
		assert.Equal(t, want, ChecksumAddress(lower))
		assert.True(t, ValidAddress(want))
		assert.True(t, ValidAddress(lower))
	}

	assert.False(t, ValidAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), "bad checksum")
	assert.False(t, ValidAddress("5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, ValidAddress("0x1234"))
	assert.False(t, ValidAddress("0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.Equal(t, "nope", ChecksumAddress("nope"))
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestAtomicAmount(t *testing.T) {
	cases := map[string]string{"0.5": "500000", "$1": "1000000", "0.000001": "1", "0": "0"}
	for in, want := range cases {
		got, err := AtomicAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "abc", "-1", "0.0000001"} {
		_, err := AtomicAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestChallengeLifecycle(t *testing.T) {
	c, err := NewChallenger("secret", time.Minute)
	require.NoError(t, err)

	token, err := c.Issue("/api/answer", "500000")
	require.NoError(t, err)

	claims, err := c.Parse(token, "/api/answer", "500000")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	_, err = c.Parse(token, "/api/ask", "500000")
	assert.ErrorIs(t, err, ErrInvalidChallenge)
	_, err = c.Parse(token, "/api/answer", "1")
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	require.NoError(t, c.Redeem(claims))
	assert.ErrorIs(t, c.Redeem(claims), ErrInvalidChallenge)

	other, err := NewChallenger("other-secret", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(token, "/api/answer", "500000")
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestChallengeExpiry(t *testing.T) {
	c, err := NewChallenger("secret", time.Minute)
	require.NoError(t, err)
	token, err := c.Issue("/r", "1")
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.Parse(token, "/r", "1")
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

type facilitatorStub struct {
	valid      bool
	reason     string
	settleFail string
	verifys    atomic.Int32
	settles    atomic.Int32
}

func (f *facilitatorStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body facilitatorRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, X402Version, body.X402Version)
		assert.Equal(t, "500000", body.PaymentRequirements.MaxAmountRequired)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/verify":
			f.verifys.Add(1)
			_ = json.NewEncoder(w).Encode(VerifyResponse{IsValid: f.valid, InvalidReason: f.reason, Payer: "0xpayer"})
		case "/settle":
			if f.settleFail != "" {
				_ = json.NewEncoder(w).Encode(SettleResponse{ErrorReason: f.settleFail})
				return
			}
			f.settles.Add(1)
			_ = json.NewEncoder(w).Encode(SettleResponse{Success: true, Transaction: "0xtx", Network: NetworkBaseSepolia})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGate(t *testing.T, facilitator Facilitator) *Gate {
	t.Helper()
	c, err := NewChallenger("secret", time.Minute)
	require.NoError(t, err)
	g, err := NewGate(Options{
		PayTo:       toLower(testPayTo),
		Price:       "0.5",
		Network:     NetworkBaseSepolia,
		Description: "test",
	}, facilitator, c, nil)
	require.NoError(t, err)
	return g
}

func paymentHeader(t *testing.T, nonce string) string {
	t.Helper()
	raw, err := json.Marshal(Payload{
		X402Version: X402Version,
		Scheme:      "exact",
		Network:     NetworkBaseSepolia,
		Payload: map[string]any{
			"signature":     "0xsig",
			"authorization": map[string]any{"from": "0xpayer", "nonce": nonce},
		},
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func receiptEcho(seen **Receipt) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		*seen = ReceiptFromContext(r.Context())
	})
}

func requestChallenge(t *testing.T, h http.Handler) (string, RequiredResponse) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/answer", nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body RequiredResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return rr.Header().Get(HeaderChallenge), body
}

func TestGateDisabledPassesThrough(t *testing.T) {
	g, err := NewGate(Options{Price: "0.5", Network: NetworkBaseSepolia}, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, g.Enabled())

	var seen *Receipt
	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	req.Header.Set(HeaderPaymentID, "pay_123")
	rr := httptest.NewRecorder()
	g.Middleware("/api/answer")(receiptEcho(&seen)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "pay_123", *seen.TxRefPtr())
}

func TestGateRequiresPayment(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))

	var seen *Receipt
	challenge, body := requestChallenge(t, g.Middleware("/api/answer")(receiptEcho(&seen)))

	assert.Nil(t, seen)
	assert.NotEmpty(t, challenge)
	assert.Equal(t, X402Version, body.X402Version)
	require.Len(t, body.Accepts, 1)
	req := body.Accepts[0]
	assert.Equal(t, "exact", req.Scheme)
	assert.Equal(t, "500000", req.MaxAmountRequired)
	assert.Equal(t, testPayTo, req.PayTo)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", req.Asset)
	assert.Equal(t, challenge, req.Extra["challenge"])
	assert.Zero(t, stub.verifys.Load())
}

func TestGateSettlesPayment(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var seen *Receipt
	h := g.Middleware("/api/answer")(receiptEcho(&seen))
	challenge, _ := requestChallenge(t, h)

	paid := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
		req.Header.Set(HeaderPayment, paymentHeader(t, "0x01"))
		req.Header.Set(HeaderChallenge, challenge)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := paid()
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "0xtx", seen.TxRef)
	assert.Equal(t, "0xpayer", seen.Payer)

	raw, err := base64.StdEncoding.DecodeString(rr.Header().Get(HeaderPaymentResponse))
	require.NoError(t, err)
	var settled SettleResponse
	require.NoError(t, json.Unmarshal(raw, &settled))
	assert.True(t, settled.Success)
	assert.Equal(t, "0xtx", settled.Transaction)

	seen = nil
	rr = paid()
	assert.Equal(t, http.StatusPaymentRequired, rr.Code, "payment must not be reusable")
	assert.Nil(t, seen)
	assert.Equal(t, int32(1), stub.settles.Load())
}

func TestGateRejectsInvalidPayment(t *testing.T) {
	stub := &facilitatorStub{valid: false, reason: "insufficient_funds"}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var seen *Receipt
	h := g.Middleware("/api/answer")(receiptEcho(&seen))
	challenge, _ := requestChallenge(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "0x01"))
	req.Header.Set(HeaderChallenge, challenge)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	var body RequiredResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body.Error, "insufficient_funds")
	assert.Zero(t, stub.settles.Load())
	assert.Nil(t, seen)
}

func TestGateRejectsForeignChallenge(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	token, err := g.challenger.Issue("/api/ask", g.amount)
	require.NoError(t, err)

	var seen *Receipt
	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "0x01"))
	req.Header.Set(HeaderChallenge, token)
	rr := httptest.NewRecorder()
	g.Middleware("/api/answer")(receiptEcho(&seen)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Zero(t, stub.verifys.Load())
}

func TestGateFacilitatorDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := newTestGate(t, NewHTTPFacilitator(url, time.Second))
	token, err := g.challenger.Issue("/api/answer", g.amount)
	require.NoError(t, err)

	var seen *Receipt
	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, "0x01"))
	req.Header.Set(HeaderChallenge, token)
	rr := httptest.NewRecorder()
	g.Middleware("/api/answer")(receiptEcho(&seen)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Nil(t, seen)
}

func TestNewGateValidation(t *testing.T) {
	c, err := NewChallenger("secret", time.Minute)
	require.NoError(t, err)
	f := NewHTTPFacilitator("http://127.0.0.1:1", time.Second)

	_, err = NewGate(Options{PayTo: "0xbad", Price: "0.5", Network: NetworkBase}, f, c, nil)
	assert.Error(t, err)
	_, err = NewGate(Options{PayTo: testPayTo, Price: "0.5", Network: "solana"}, f, c, nil)
	assert.Error(t, err)
	_, err = NewGate(Options{PayTo: testPayTo, Price: "x", Network: NetworkBase}, f, c, nil)
	assert.Error(t, err)
	_, err = NewGate(Options{PayTo: testPayTo, Price: "0.5", Network: NetworkBase}, f, nil, nil)
	assert.NoError(t, err, "challenger is optional")
}

func TestReceiptContext(t *testing.T) {
	assert.Nil(t, ReceiptFromContext(context.Background()))
	var r *Receipt
	assert.Nil(t, r.TxRefPtr())

	ctx := WithReceipt(context.Background(), &Receipt{TxRef: "0xabc"})
	assert.Equal(t, "0xabc", *ReceiptFromContext(ctx).TxRefPtr())
}

func paidRequest(t *testing.T, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	req.Header.Set(HeaderPayment, paymentHeader(t, nonce))
	return req
}

func TestGateAcceptsPaymentWithoutChallenge(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var seen *Receipt
	h := g.Middleware("/api/answer")(receiptEcho(&seen))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0x0a"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "0xtx", seen.TxRef)
	assert.NotEmpty(t, rr.Header().Get(HeaderPaymentResponse))
	assert.Equal(t, int32(1), stub.settles.Load())
}

func TestGateRejectsReplayedNonce(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var seen *Receipt
	h := g.Middleware("/api/answer")(receiptEcho(&seen))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0xAB"))
	require.Equal(t, http.StatusOK, rr.Code)

	seen = nil
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0xab"))
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Nil(t, seen)
	var body RequiredResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body.Error, ErrPaymentReused.Error())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0xac"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(2), stub.settles.Load())
}

func TestGateSkipsSettlementOnHandlerError(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	failing := g.Middleware("/api/answer")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad question", http.StatusBadRequest)
	}))

	rr := httptest.NewRecorder()
	failing.ServeHTTP(rr, paidRequest(t, "0x0b"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rr.Header().Get(HeaderPaymentResponse))
	assert.Equal(t, int32(1), stub.verifys.Load())
	assert.Zero(t, stub.settles.Load())

	var seen *Receipt
	rr = httptest.NewRecorder()
	g.Middleware("/api/answer")(receiptEcho(&seen)).ServeHTTP(rr, paidRequest(t, "0x0b"))
	assert.Equal(t, http.StatusOK, rr.Code, "an unspent authorization stays usable")
	assert.Equal(t, int32(1), stub.settles.Load())
}

func TestSettleExplicitly(t *testing.T) {
	stub := &facilitatorStub{valid: true}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var before, after *Receipt
	h := g.Middleware("/api/answer")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		before = ReceiptFromContext(r.Context())
		receipt, ok := Settle(w, r)
		require.True(t, ok)
		after = receipt
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"txRef":"` + receipt.TxRef + `"}`))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0x0c"))

	assert.Nil(t, before)
	require.NotNil(t, after)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"txRef":"0xtx"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(HeaderPaymentResponse))
	assert.Equal(t, int32(1), stub.settles.Load())
}

func TestSettleFailureRejects(t *testing.T) {
	stub := &facilitatorStub{valid: true, settleFail: "expired_authorization"}
	g := newTestGate(t, NewHTTPFacilitator(stub.server(t).URL, time.Second))
	var reached bool
	h := g.Middleware("/api/answer")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := Settle(w, r); !ok {
			return
		}
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, paidRequest(t, "0x0d"))

	assert.False(t, reached)
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	var body RequiredResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body.Error, "expired_authorization")
}

func TestSettleWithoutGate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/answer", nil)
	receipt, ok := Settle(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Nil(t, receipt)

	receipt, err := SettleContext(WithReceipt(context.Background(), &Receipt{TxRef: "pay_1"}))
	require.NoError(t, err)
	assert.Equal(t, "pay_1", receipt.TxRef)
}
