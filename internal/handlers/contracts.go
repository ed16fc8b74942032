package handlers

import (
	"net/http"

	"github.com/diewo77/go-brokerage/httpx"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/services"
	"github.com/go-chi/chi/v5"
)

type DepositHandler struct {
	*ContractHandler[*models.DepositContract, services.DepositInput]
	svc *services.DepositService
}

func NewDepositHandler(svc *services.DepositService) *DepositHandler {
	return &DepositHandler{
		ContractHandler: NewContractHandler[*models.DepositContract, services.DepositInput](svc),
		svc:             svc,
	}
}

func (h *DepositHandler) Routes(r chi.Router) {
	h.ContractHandler.Routes(r)
	r.Post("/{id}/deposit-payment", paymentOp(h.svc.CreateDepositPayment))
}

type PurchaseHandler struct {
	*ContractHandler[*models.PurchaseContract, services.PurchaseInput]
}

func NewPurchaseHandler(svc *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{
		ContractHandler: NewContractHandler[*models.PurchaseContract, services.PurchaseInput](svc),
	}
}

type RentalHandler struct {
	*ContractHandler[*models.RentalContract, services.RentalInput]
	svc *services.RentalService
}

func NewRentalHandler(svc *services.RentalService) *RentalHandler {
	return &RentalHandler{
		ContractHandler: NewContractHandler[*models.RentalContract, services.RentalInput](svc),
		svc:             svc,
	}
}

func (h *RentalHandler) Routes(r chi.Router) {
	h.ContractHandler.Routes(r)
	r.Post("/{id}/security-deposit-payment", paymentOp(h.svc.CreateSecurityDepositPayment))
	r.Post("/{id}/monthly-payment", paymentOp(h.svc.CreateMonthlyRentPayment))
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/security-deposit-decision", h.DecideSecurityDeposit)
}

func (h *RentalHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.Complete)
}

type decisionBody struct {
	Decision services.SecurityDepositDecision `json:"decision"`
	Reason   string                           `json:"reason"`
}

func (h *RentalHandler) DecideSecurityDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var body decisionBody
	if err := decodeJSON(w, r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	c, err := h.svc.DecideSecurityDeposit(r.Context(), actorOf(r), id, body.Decision, body.Reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}
