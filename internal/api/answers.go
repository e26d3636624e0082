package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/answerbook/internal/answer"
	"github.com/ashureev/answerbook/internal/astro"
	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/identity"
	"github.com/ashureev/answerbook/internal/payment"
)

// Answer handles POST /api/answer.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	var body answerBody
	if err := h.validate.decode(w, r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	h.serveAnswer(w, r, answerRequest(r, body.profile(), body.Question, body.Category))
}

// Consult handles POST /api/consult, which accepts the agent-style body.
func (h *Handler) Consult(w http.ResponseWriter, r *http.Request) {
	var body consultBody
	if err := h.validate.decode(w, r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	h.serveAnswer(w, r, answerRequest(r, body.profile(), body.Question, body.Category))
}

func (h *Handler) serveAnswer(w http.ResponseWriter, r *http.Request, req answer.Request) {
	res, err := h.svc.Answer(r.Context(), req)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	receipt, ok := payment.Settle(w, r)
	if !ok {
		return
	}
	res.TxRef = receipt.TxRefPtr()
	JSON(w, http.StatusOK, res)
}

func answerRequest(r *http.Request, p domain.Profile, text, category string) answer.Request {
	sessionID := identity.SessionIDFromContext(r.Context())
	return answer.Request{
		Profile:   p,
		Question:  question(text, category),
		SessionID: sessionID,
	}
}

// Ask handles POST /api/ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := h.validate.decode(w, r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	res := h.svc.Ask(r.Context(), strings.TrimSpace(body.Question))
	if _, ok := payment.Settle(w, r); !ok {
		return
	}
	JSON(w, http.StatusOK, res)
}

// Fortune handles POST /api/fortune. An empty body is allowed.
func (h *Handler) Fortune(w http.ResponseWriter, r *http.Request) {
	var body fortuneBody
	if err := h.validate.decode(w, r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.svc.Fortune(r.Context(), strings.TrimSpace(body.Name), strings.TrimSpace(body.BirthDate)))
}

// SunSign handles GET /api/sunsign?date=YYYY-MM-DD.
func (h *Handler) SunSign(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		JSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid request",
			"details": map[string]string{"date": "is required"},
		})
		return
	}
	sign := astro.ClassifySunSign(date)
	JSON(w, http.StatusOK, map[string]any{"date": date, "sunSign": sign.String(), "known": sign.Known()})
}

// Config handles GET /api/config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	categories := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		categories = append(categories, c.String())
	}
	provider := h.opts.LLMProvider
	if provider == "" {
		provider = "none"
	}
	JSON(w, http.StatusOK, map[string]any{
		"price":           h.gate.Price(),
		"currency":        "USDC",
		"network":         h.gate.Network(),
		"paymentRequired": h.gate.Enabled(),
		"llmEnabled":      provider != "none",
		"provider":        provider,
		"categories":      categories,
		"disclaimer":      domain.Disclaimer,
	})
}
