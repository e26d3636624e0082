package payment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/ashureev/answerbook/internal/metrics"
)

var errResponseRejected = errors.New("response replaced by payment rejection")

// pending is a verified payment waiting for the handler to succeed.
type pending struct {
	gate      *Gate
	resource  string
	payload   Payload
	req       Requirements
	claims    *ChallengeClaims
	replayKey string
	payer     string
	header    http.Header

	mu      sync.Mutex
	done    bool
	receipt *Receipt
	err     error
}

// settle spends the payment at most once. fresh is false when an earlier
// call already decided the outcome.
func (p *pending) settle(ctx context.Context) (receipt *Receipt, fresh bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.receipt, false, p.err
	}
	p.done = true
	p.receipt, p.err = p.gate.settle(ctx, p)
	if p.err != nil {
		p.gate.recordRejection(p.resource, p.err)
		return nil, true, p.err
	}

	if p.header != nil {
		if encoded, err := encodeHeader(SettleResponse{
			Success:     true,
			Transaction: p.receipt.TxRef,
			Network:     p.receipt.Network,
			Payer:       p.receipt.Payer,
		}); err == nil {
			p.header.Set(HeaderPaymentResponse, encoded)
		}
	}
	p.gate.metrics.Payment(metrics.PaymentSettled)
	slog.Info("Payment settled", "resource", p.resource, "tx_ref", p.receipt.TxRef, "payer", p.receipt.Payer)
	return p.receipt, true, nil
}

func (p *pending) attempted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *pending) settledReceipt() *Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done || p.err != nil {
		return nil
	}
	return p.receipt
}

// settle reserves the authorization, redeems the challenge and asks the
// facilitator to settle. The reservation is released when settlement fails
// so the client may retry with the same authorization.
func (g *Gate) settle(ctx context.Context, p *pending) (*Receipt, error) {
	if seen, _ := g.nonces.ContainsOrAdd(p.replayKey, struct{}{}); seen {
		return nil, ErrPaymentReused
	}
	release := func() { g.nonces.Remove(p.replayKey) }

	if p.claims != nil {
		if err := g.challenger.Redeem(p.claims); err != nil {
			release()
			return nil, err
		}
	}

	settled, err := g.facilitator.Settle(ctx, p.payload, p.req)
	if err != nil {
		release()
		return nil, err
	}
	if !settled.Success {
		release()
		return nil, fmt.Errorf("%w: settlement failed: %s", ErrVerifyFailed, settled.ErrorReason)
	}

	payer := settled.Payer
	if payer == "" {
		payer = p.payer
	}
	network := settled.Network
	if network == "" {
		network = g.opts.Network
	}
	return &Receipt{TxRef: settled.Transaction, Payer: payer, Network: network, Amount: g.amount}, nil
}

// Settle settles the payment verified for r and returns its receipt. On
// failure the payment rejection is written to w and ok is false. Requests
// that went through no gate, or a disabled one, return ok with whatever
// receipt the context carries.
func Settle(w http.ResponseWriter, r *http.Request) (*Receipt, bool) {
	p := pendingFromContext(r.Context())
	if p == nil {
		return nil, true
	}
	receipt, fresh, err := p.settle(r.Context())
	if err != nil {
		if fresh {
			p.gate.writeRejection(w, p.resource, err)
		}
		return nil, false
	}
	return receipt, true
}

// SettleContext is Settle for handlers that cannot answer with a plain HTTP
// response, such as an upgraded WebSocket.
func SettleContext(ctx context.Context) (*Receipt, error) {
	p := pendingFromContext(ctx)
	if p == nil {
		return nil, nil
	}
	receipt, _, err := p.settle(ctx)
	return receipt, err
}

// settlingWriter settles the pending payment on the first successful status.
// Error statuses are passed through unsettled.
type settlingWriter struct {
	http.ResponseWriter
	ctx      context.Context
	pending  *pending
	status   int
	wrote    bool
	rejected bool
}

func (w *settlingWriter) WriteHeader(code int) {
	switch {
	case w.rejected:
		return
	case code < http.StatusOK:
		w.ResponseWriter.WriteHeader(code)
		return
	case w.wrote:
		w.ResponseWriter.WriteHeader(code)
		return
	}

	if code < http.StatusBadRequest {
		if _, fresh, err := w.pending.settle(w.ctx); err != nil {
			w.rejected = true
			if fresh {
				w.pending.gate.writeRejection(w.ResponseWriter, w.pending.resource, err)
			}
			return
		}
	}
	w.wrote = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *settlingWriter) Write(b []byte) (int, error) {
	if !w.wrote && !w.rejected {
		w.WriteHeader(http.StatusOK)
	}
	if w.rejected {
		return 0, errResponseRejected
	}
	return w.ResponseWriter.Write(b)
}

func (w *settlingWriter) Flush() {
	if !w.wrote && !w.rejected {
		w.WriteHeader(http.StatusOK)
	}
	if w.rejected {
		return
	}
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *settlingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *settlingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
