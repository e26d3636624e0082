// Package payment implements an x402-style payment gate: the server answers
// unpaid requests with 402 and a requirements document, and accepts a signed
// payment payload that an external facilitator verifies and settles.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// X402Version is the protocol version spoken by the gate.
const X402Version = 1

// Header names.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderChallenge       = "X-Payment-Challenge"
	HeaderReference       = "x-402-payment-reference"
	HeaderPaymentID       = "x-402-payment-id"
)

// Networks.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// usdcDecimals is the number of decimals of the USDC token.
const usdcDecimals = 6

var usdcAssets = map[string]string{
	NetworkBase:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

var (
	// ErrPaymentRequired means the request carried no payment.
	ErrPaymentRequired = errors.New("payment required")
	// ErrInvalidChallenge means the echoed challenge is malformed, expired or reused.
	ErrInvalidChallenge = errors.New("invalid payment challenge")
	// ErrVerifyFailed means the facilitator rejected the payment.
	ErrVerifyFailed = errors.New("payment verification failed")
	// ErrPaymentReused means the payment authorization was already spent here.
	ErrPaymentReused = errors.New("payment already used")
	// ErrFacilitatorUnavailable means the facilitator could not be reached.
	ErrFacilitatorUnavailable = errors.New("payment facilitator unavailable")
)

// Requirements describes how a resource must be paid, in the x402 "exact"
// scheme shape.
type Requirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// RequiredResponse is the body of a 402 response.
type RequiredResponse struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error"`
	Accepts     []Requirements `json:"accepts"`
}

// Payload is the decoded X-PAYMENT header.
type Payload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// Receipt is attached to the request context once a request is paid.
type Receipt struct {
	TxRef   string `json:"transaction,omitempty"`
	Payer   string `json:"payer,omitempty"`
	Network string `json:"network,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// TxRefPtr returns the tx reference, or nil when there is none.
func (r *Receipt) TxRefPtr() *string {
	if r == nil || r.TxRef == "" {
		return nil
	}
	ref := r.TxRef
	return &ref
}

type contextKey int

const pendingKey contextKey = iota

// WithReceipt returns a context carrying an already settled receipt.
func WithReceipt(ctx context.Context, r *Receipt) context.Context {
	return withPending(ctx, &pending{done: true, receipt: r})
}

func withPending(ctx context.Context, p *pending) context.Context {
	return context.WithValue(ctx, pendingKey, p)
}

func pendingFromContext(ctx context.Context) *pending {
	p, _ := ctx.Value(pendingKey).(*pending)
	return p
}

// ReceiptFromContext returns the receipt once the request's payment has
// settled, or nil.
func ReceiptFromContext(ctx context.Context) *Receipt {
	p := pendingFromContext(ctx)
	if p == nil {
		return nil
	}
	return p.settledReceipt()
}

// USDCAsset returns the USDC contract address on network.
func USDCAsset(network string) (string, bool) {
	a, ok := usdcAssets[network]
	return a, ok
}

// AtomicAmount converts a decimal USD price such as "0.5" into USDC base
// units ("500000").
func AtomicAmount(price string) (string, error) {
	price = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	r, ok := new(big.Rat).SetString(price)
	if !ok {
		return "", fmt.Errorf("parse price %q", price)
	}
	if r.Sign() < 0 {
		return "", fmt.Errorf("price %q is negative", price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(usdcDecimals), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return "", fmt.Errorf("price %q has more than %d decimals", price, usdcDecimals)
	}
	return r.Num().String(), nil
}
