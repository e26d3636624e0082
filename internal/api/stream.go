package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/answerbook/internal/answer"
	"github.com/ashureev/answerbook/internal/payment"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// SSE event names.
const (
	sseDelta  = "delta"
	sseResult = "result"
	sseError  = "error"
)

// StreamAnswer handles POST /api/answer/stream as server-sent events.
func (h *Handler) StreamAnswer(w http.ResponseWriter, r *http.Request) {
	var body consultBody
	if err := h.validate.decode(w, r, &body); err != nil {
		writeRequestError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	receipt, ok := payment.Settle(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	req := answerRequest(r, body.profile(), body.Question, body.Category)
	req.TxRef = receipt.TxRefPtr()
	for ev, err := range h.svc.StreamAnswer(r.Context(), req) {
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			slog.Error("Answer stream failed", "error", err)
			_ = writeSSEJSON(w, sseError, map[string]string{"error": streamErrorMessage(err)})
			flusher.Flush()
			return
		}
		if werr := writeEvent(w, ev); werr != nil {
			slog.Debug("SSE client went away", "error", werr)
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, ev answer.StreamEvent) error {
	if ev.Kind == answer.EventResult {
		return writeSSEJSON(w, sseResult, ev.Result)
	}
	return writeSSEJSON(w, sseDelta, map[string]string{"delta": ev.Delta})
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSE(w, event, string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func streamErrorMessage(err error) string {
	if errors.Is(err, answer.ErrNoAnswers) {
		return "No answers available"
	}
	return "Internal server error"
}

// wsError is the terminal frame sent when a WebSocket stream fails.
type wsError struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// ServeWebSocket handles GET /ws/answer. The X-PAYMENT header is verified on
// the handshake, so the route serves agents that control their handshake
// headers; browsers should use the SSE route. The client sends one consult
// body, the payment settles once that body validates, and the stream follows
// as JSON frames.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()

	var body consultBody
	if err := wsjson.Read(ctx, ws, &body); err != nil {
		_ = wsjson.Write(ctx, ws, wsError{Kind: sseError, Error: "Invalid request"})
		ws.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	if err := h.validate.check(&body); err != nil {
		_ = wsjson.Write(ctx, ws, wsError{Kind: sseError, Error: "Invalid request"})
		ws.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	receipt, err := payment.SettleContext(ctx)
	if err != nil {
		_ = wsjson.Write(ctx, ws, wsError{Kind: sseError, Error: "Payment failed"})
		ws.Close(websocket.StatusPolicyViolation, "payment failed")
		return
	}

	req := answerRequest(r, body.profile(), body.Question, body.Category)
	req.TxRef = receipt.TxRefPtr()
	if err := h.relayWebSocket(ctx, ws, req); err != nil {
		if ctx.Err() == nil {
			slog.Error("WebSocket stream failed", "error", err)
		}
		return
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) relayWebSocket(ctx context.Context, ws *websocket.Conn, req answer.Request) error {
	for ev, err := range h.svc.StreamAnswer(ctx, req) {
		if err != nil {
			if ctx.Err() == nil {
				_ = wsjson.Write(ctx, ws, wsError{Kind: sseError, Error: streamErrorMessage(err)})
				ws.Close(websocket.StatusInternalError, "stream failed")
			}
			return err
		}
		if err := wsjson.Write(ctx, ws, ev); err != nil {
			return err
		}
	}
	return nil
}
