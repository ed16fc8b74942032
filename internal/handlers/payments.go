package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-brokerage/httpx"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/reporting"
	"github.com/diewo77/go-brokerage/internal/services"
	"github.com/go-chi/chi/v5"
)

// PaymentHandler serves the gateway return URL. The session state is always
// read back from the gateway, so the caller's query cannot settle a payment.
type PaymentHandler struct {
	settlements *services.Settlements
}

func NewPaymentHandler(s *services.Settlements) *PaymentHandler {
	return &PaymentHandler{settlements: s}
}

func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		httpx.WriteError(w, apperr.BadRequest("session_id is required"))
		return
	}
	p, err := h.settlements.Reconcile(r.Context(), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// AdminHandler serves the back-office endpoints. Routes are mounted behind
// RequireAdmin; the services check the role again.
type AdminHandler struct {
	svc     *services.Services
	reports *reporting.Store
	now     func() time.Time
}

func NewAdminHandler(svc *services.Services, reports *reporting.Store, now func() time.Time) *AdminHandler {
	if now == nil {
		now = time.Now
	}
	return &AdminHandler{svc: svc, reports: reports, now: now}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/payments/{id}", h.Payment)
	r.Post("/payments/{id}/settle", h.Settle)
	r.Post("/payments/{id}/confirm", h.Confirm)
	r.Post("/payments/sessions/{sessionID}/reconcile", h.Reconcile)
	r.Get("/payouts/deferred", h.DeferredPayouts)
	r.Post("/payouts/{id}/retry", h.RetryPayout)
	r.Post("/rentals/assess-late-payments", h.AssessLatePayments)
	r.Get("/reports/commission", h.Commission)
}

func (h *AdminHandler) Payment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.Ledger.Payment(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type settleBody struct {
	Status models.PaymentStatus `json:"status"`
}

// Settle records a payment outcome reported outside the gateway, such as a
// bank transfer checked by hand.
func (h *AdminHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var body settleBody
	if err := decodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.Settlements.Settle(r.Context(), id, body.Status)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// Confirm reruns the workflow step of a settled payment whose confirmation
// failed.
func (h *AdminHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.svc.Settlements.Confirm(r.Context(), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.Ledger.Payment(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Settlements.Reconcile(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *AdminHandler) DeferredPayouts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Payouts.Deferred(r.Context(), actorOf(r))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *AdminHandler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out, err := h.svc.Payouts.Retry(r.Context(), actorOf(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *AdminHandler) AssessLatePayments(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Rentals.AssessLatePayments(r.Context(), actorOf(r), h.now())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"assessed": n})
}

// Commission reports one month of commission, the current month by default.
func (h *AdminHandler) Commission(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 {
			httpx.WriteError(w, apperr.Invalid("Invalid year", map[string]string{"year": "invalid_value"}))
			return
		}
		year = y
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			httpx.WriteError(w, apperr.Invalid("Invalid month", map[string]string{"month": "invalid_value"}))
			return
		}
		month = m
	}
	sum, err := h.reports.MonthlyCommission(r.Context(), year, month)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
