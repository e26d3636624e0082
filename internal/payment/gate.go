package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/answerbook/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Options configures a Gate.
type Options struct {
	PayTo       string
	Price       string
	Network     string
	Description string
	// MaxTimeoutSeconds is advertised to clients as the payment validity window.
	MaxTimeoutSeconds int
}

// Gate guards handlers behind payment. A gate without a facilitator passes
// every request through.
type Gate struct {
	opts        Options
	amount      string
	asset       string
	facilitator Facilitator
	challenger  *Challenger
	nonces      *lru.Cache[string, struct{}]
	metrics     *metrics.Recorder
}

// usedPaymentCapacity bounds the replay cache of settled authorizations.
const usedPaymentCapacity = 8192

// NewGate builds a gate. facilitator may be nil to disable payment
// enforcement. challenger is optional: when set, 402 responses embed a signed
// challenge and an echoed one is checked and redeemed on settlement.
func NewGate(opts Options, facilitator Facilitator, challenger *Challenger, rec *metrics.Recorder) (*Gate, error) {
	amount, err := AtomicAmount(opts.Price)
	if err != nil {
		return nil, err
	}
	if opts.MaxTimeoutSeconds <= 0 {
		opts.MaxTimeoutSeconds = 60
	}
	g := &Gate{opts: opts, amount: amount, facilitator: facilitator, challenger: challenger, metrics: rec}
	if facilitator == nil {
		return g, nil
	}

	if !ValidAddress(opts.PayTo) {
		return nil, fmt.Errorf("pay-to address %q is not a valid EVM address", opts.PayTo)
	}
	g.opts.PayTo = ChecksumAddress(opts.PayTo)
	asset, ok := USDCAsset(opts.Network)
	if !ok {
		return nil, fmt.Errorf("network %q is not supported", opts.Network)
	}
	g.asset = asset
	nonces, err := lru.New[string, struct{}](usedPaymentCapacity)
	if err != nil {
		return nil, fmt.Errorf("create payment cache: %w", err)
	}
	g.nonces = nonces
	return g, nil
}

// Enabled reports whether the gate enforces payment.
func (g *Gate) Enabled() bool { return g.facilitator != nil }

// Price returns the configured decimal price.
func (g *Gate) Price() string { return g.opts.Price }

// Network returns the configured network.
func (g *Gate) Network() string { return g.opts.Network }

// Requirements returns the payment requirements for resource with a fresh
// challenge embedded.
func (g *Gate) Requirements(resource string) (Requirements, error) {
	req := g.baseRequirements(resource)
	if g.challenger != nil {
		token, err := g.challenger.Issue(resource, g.amount)
		if err != nil {
			return Requirements{}, err
		}
		req.Extra["challenge"] = token
	}
	return req, nil
}

func (g *Gate) baseRequirements(resource string) Requirements {
	return Requirements{
		Scheme:            "exact",
		Network:           g.opts.Network,
		MaxAmountRequired: g.amount,
		Resource:          resource,
		Description:       g.opts.Description,
		MimeType:          "application/json",
		PayTo:             g.opts.PayTo,
		MaxTimeoutSeconds: g.opts.MaxTimeoutSeconds,
		Asset:             g.asset,
		Extra:             map[string]string{"name": "USD Coin", "version": "2"},
	}
}

// Middleware enforces payment for resource. The payment is verified before
// next runs and settled only once the handler succeeds: either explicitly via
// Settle or implicitly on the first 2xx/3xx status. Handlers that fail are
// never charged.
func (g *Gate) Middleware(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Enabled() {
				g.metrics.Payment(metrics.PaymentPassThrough)
				receipt := &Receipt{TxRef: referenceFromHeaders(r), Network: g.opts.Network}
				next.ServeHTTP(w, r.WithContext(WithReceipt(r.Context(), receipt)))
				return
			}

			p, err := g.verify(r, resource)
			if err != nil {
				g.reject(w, resource, err)
				return
			}

			sw := &settlingWriter{ResponseWriter: w, ctx: r.Context(), pending: p}
			p.header = w.Header()
			next.ServeHTTP(sw, r.WithContext(withPending(r.Context(), p)))

			if !p.attempted() {
				g.metrics.Payment(metrics.PaymentUnsettled)
				slog.Info("Payment not settled", "resource", resource, "status", sw.status)
			}
		})
	}
}

// verify checks the payment header, the optional challenge and the replay
// cache, then asks the facilitator to verify the payload. Nothing is spent.
func (g *Gate) verify(r *http.Request, resource string) (*pending, error) {
	header := r.Header.Get(HeaderPayment)
	if header == "" {
		return nil, ErrPaymentRequired
	}
	payload, err := decodePayload(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if payload.Network != g.opts.Network {
		return nil, fmt.Errorf("%w: network %q does not match %q", ErrVerifyFailed, payload.Network, g.opts.Network)
	}

	p := &pending{gate: g, resource: resource, payload: payload, req: g.baseRequirements(resource)}
	if token := r.Header.Get(HeaderChallenge); token != "" && g.challenger != nil {
		claims, err := g.challenger.Parse(token, resource, g.amount)
		if err != nil {
			return nil, err
		}
		p.claims = claims
		p.req.Extra["challenge"] = token
	}

	p.replayKey = replayKey(payload, header)
	if g.nonces.Contains(p.replayKey) {
		return nil, ErrPaymentReused
	}

	verified, err := g.facilitator.Verify(r.Context(), payload, p.req)
	if err != nil {
		return nil, err
	}
	if !verified.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrVerifyFailed, verified.InvalidReason)
	}
	p.payer = verified.Payer
	return p, nil
}

// replayKey identifies one payment authorization. EIP-3009 payloads carry a
// nonce; anything else falls back to the raw header.
func replayKey(payload Payload, header string) string {
	if auth, ok := payload.Payload["authorization"].(map[string]any); ok {
		if nonce, ok := auth["nonce"].(string); ok && nonce != "" {
			return payload.Network + ":" + strings.ToLower(nonce)
		}
	}
	return "header:" + header
}

func (g *Gate) reject(w http.ResponseWriter, resource string, cause error) {
	g.recordRejection(resource, cause)
	g.writeRejection(w, resource, cause)
}

func (g *Gate) recordRejection(resource string, cause error) {
	switch {
	case errors.Is(cause, ErrFacilitatorUnavailable):
		g.metrics.Payment(metrics.PaymentError)
		slog.Error("Payment facilitator unavailable", "resource", resource, "error", cause)
	case errors.Is(cause, ErrPaymentRequired):
		g.metrics.Payment(metrics.PaymentRequired)
	default:
		g.metrics.Payment(metrics.PaymentInvalid)
		slog.Warn("Payment rejected", "resource", resource, "error", cause)
	}
}

func (g *Gate) writeRejection(w http.ResponseWriter, resource string, cause error) {
	if errors.Is(cause, ErrFacilitatorUnavailable) {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Payment facilitator unavailable"})
		return
	}
	req, err := g.Requirements(resource)
	if err != nil {
		slog.Error("Failed to build payment requirements", "resource", resource, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if token := req.Extra["challenge"]; token != "" {
		w.Header().Set(HeaderChallenge, token)
	}
	writeJSON(w, http.StatusPaymentRequired, RequiredResponse{
		X402Version: X402Version,
		Error:       cause.Error(),
		Accepts:     []Requirements{req},
	})
}

// referenceFromHeaders returns a client-supplied payment reference, if any.
func referenceFromHeaders(r *http.Request) string {
	if ref := strings.TrimSpace(r.Header.Get(HeaderReference)); ref != "" {
		return ref
	}
	return strings.TrimSpace(r.Header.Get(HeaderPaymentID))
}

func decodePayload(header string) (Payload, error) {
	var p Payload
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return p, fmt.Errorf("decode %s header: %w", HeaderPayment, err)
		}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse %s header: %w", HeaderPayment, err)
	}
	if p.X402Version != X402Version || p.Scheme != "exact" {
		return p, fmt.Errorf("unsupported payment version %d scheme %q", p.X402Version, p.Scheme)
	}
	return p, nil
}

func encodeHeader(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode payment response", "error", err)
	}
}
