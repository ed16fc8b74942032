// Package handlers exposes the contract services as a JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/httpx"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func actorOf(r *http.Request) auth.Actor {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

func idParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.BadRequest("Invalid id")
	}
	return uint(id), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("Invalid request body")
	}
	return nil
}

// reasonBody is the optional body of cancel and void.
type reasonBody struct {
	Reason string `json:"reason"`
}

func decodeReason(w http.ResponseWriter, r *http.Request) (string, error) {
	var body reasonBody
	if r.ContentLength == 0 {
		return "", nil
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return "", err
	}
	return body.Reason, nil
}

// contractService is the surface shared by the three contract services.
type contractService[C any, In any] interface {
	Create(ctx context.Context, actor auth.Actor, in In) (C, error)
	Update(ctx context.Context, actor auth.Actor, id uint, in In) (C, error)
	Delete(ctx context.Context, actor auth.Actor, id uint) error
	Get(ctx context.Context, actor auth.Actor, id uint) (C, error)
	Payments(ctx context.Context, actor auth.Actor, id uint) ([]models.Payment, error)
	Approve(ctx context.Context, actor auth.Actor, id uint) (C, error)
	MarkPaperworkComplete(ctx context.Context, actor auth.Actor, id uint) (C, error)
	Cancel(ctx context.Context, actor auth.Actor, id uint, reason string) (C, error)
	Void(ctx context.Context, actor auth.Actor, id uint, reason string) (C, error)
}

// ContractHandler serves the endpoints every contract kind has.
type ContractHandler[C any, In any] struct {
	svc contractService[C, In]
}

func NewContractHandler[C any, In any](svc contractService[C, In]) *ContractHandler[C, In] {
	return &ContractHandler[C, In]{svc: svc}
}

// Routes mounts the shared endpoints on r.
func (h *ContractHandler[C, In]) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/payments", h.Payments)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/paperwork-complete", h.PaperworkComplete)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/void", h.Void)
}

func (h *ContractHandler[C, In]) Create(w http.ResponseWriter, r *http.Request) {
	var in In
	if err := decodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := h.svc.Create(r.Context(), actorOf(r), in)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *ContractHandler[C, In]) Get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.Get)
}

func (h *ContractHandler[C, In]) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var in In
	if err := decodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := h.svc.Update(r.Context(), actorOf(r), id, in)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *ContractHandler[C, In]) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), actorOf(r), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContractHandler[C, In]) Payments(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	ps, err := h.svc.Payments(r.Context(), actorOf(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ps)
}

func (h *ContractHandler[C, In]) Approve(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.Approve)
}

func (h *ContractHandler[C, In]) PaperworkComplete(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.MarkPaperworkComplete)
}

func (h *ContractHandler[C, In]) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.svc.Cancel)
}

func (h *ContractHandler[C, In]) Void(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.svc.Void)
}

func (h *ContractHandler[C, In]) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, auth.Actor, uint) (C, error)) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := op(r.Context(), actorOf(r), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *ContractHandler[C, In]) withReason(w http.ResponseWriter, r *http.Request, op func(context.Context, auth.Actor, uint, string) (C, error)) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	reason, err := decodeReason(w, r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := op(r.Context(), actorOf(r), id, reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// paymentOp serves an endpoint that creates a payment for a contract.
func paymentOp(op func(context.Context, auth.Actor, uint) (*models.Payment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		p, err := op(r.Context(), actorOf(r), id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, p)
	}
}
