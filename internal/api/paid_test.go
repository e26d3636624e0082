package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/payment"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// facilitator counts verify and settle calls and approves everything.
type facilitator struct {
	verifies atomic.Int32
	settles  atomic.Int32
}

func (f *facilitator) Verify(context.Context, payment.Payload, payment.Requirements) (*payment.VerifyResponse, error) {
	f.verifies.Add(1)
	return &payment.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (f *facilitator) Settle(context.Context, payment.Payload, payment.Requirements) (*payment.SettleResponse, error) {
	f.settles.Add(1)
	return &payment.SettleResponse{Success: true, Transaction: "0xtx", Network: payment.NetworkBaseSepolia}, nil
}

func newPaidEnv(t *testing.T) (*testEnv, *facilitator) {
	t.Helper()
	f := &facilitator{}
	gate, err := payment.NewGate(payment.Options{
		PayTo:   "0x209693bc6afc0c5328ba36faf03c514ef312287c",
		Price:   "0.5",
		Network: payment.NetworkBaseSepolia,
	}, f, nil, nil)
	require.NoError(t, err)
	return newTestEnv(t, gate), f
}

func paymentHeaders(t *testing.T, nonce string) http.Header {
	t.Helper()
	raw, err := json.Marshal(payment.Payload{
		X402Version: payment.X402Version,
		Scheme:      "exact",
		Network:     payment.NetworkBaseSepolia,
		Payload:     map[string]any{"authorization": map[string]any{"nonce": nonce}},
	})
	require.NoError(t, err)
	return http.Header{payment.HeaderPayment: {base64.StdEncoding.EncodeToString(raw)}}
}

func TestPaidAnswerSettlesAfterSuccess(t *testing.T) {
	env, f := newPaidEnv(t)

	w := env.do(http.MethodPost, "/api/answer", validAnswerBody, paymentHeaders(t, "0x01"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.AnswerResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.NotNil(t, got.TxRef)
	assert.Equal(t, "0xtx", *got.TxRef)
	assert.NotEmpty(t, w.Header().Get(payment.HeaderPaymentResponse))
	assert.Equal(t, int32(1), f.settles.Load())
}

func TestPaidRequestsFailingBeforeAnswerAreNotCharged(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		storeErr error
		want     int
	}{
		{name: "invalid answer body", path: "/api/answer", body: `{"question":""}`, want: http.StatusBadRequest},
		{name: "invalid stream body", path: "/api/answer/stream", body: `{"question":"q"}`, want: http.StatusBadRequest},
		{name: "store failure", path: "/api/answer", body: validAnswerBody, storeErr: assert.AnError, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, f := newPaidEnv(t)
			env.repo.Err = tt.storeErr

			w := env.do(http.MethodPost, tt.path, tt.body, paymentHeaders(t, "0x02"))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Empty(t, w.Header().Get(payment.HeaderPaymentResponse))
			assert.Equal(t, int32(1), f.verifies.Load())
			assert.Zero(t, f.settles.Load())
		})
	}
}

func TestPaidStreamSettlesBeforeEvents(t *testing.T) {
	env, f := newPaidEnv(t)

	w := env.do(http.MethodPost, "/api/answer/stream",
		`{"profile":{"birthDate":"1990-08-01"},"question":"Will it work out?","category":"love"}`,
		paymentHeaders(t, "0x03"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"txRef":"0xtx"`)
	assert.NotEmpty(t, w.Header().Get(payment.HeaderPaymentResponse))
	assert.Equal(t, int32(1), f.settles.Load())
}

func TestPaidWebSocketSettlesAfterValidFrame(t *testing.T) {
	env, f := newPaidEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/answer"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: paymentHeaders(t, "0x04")})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"question": "q"}))
	var frame wsError
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	assert.Equal(t, "error", frame.Kind)
	conn.CloseNow()
	assert.Zero(t, f.settles.Load(), "invalid first frame is not charged")

	conn, _, err = websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: paymentHeaders(t, "0x04")})
	require.NoError(t, err)
	defer conn.CloseNow()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"profile":  map[string]string{"birthDate": "1990-08-01"},
		"question": "Will it work out?",
		"category": "love",
	}))
	for {
		var ev struct {
			Kind   string               `json:"kind"`
			Result *domain.AnswerResult `json:"result"`
		}
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		if ev.Result != nil {
			require.NotNil(t, ev.Result.TxRef)
			assert.Equal(t, "0xtx", *ev.Result.TxRef)
			break
		}
	}
	assert.Equal(t, int32(1), f.settles.Load())
}
