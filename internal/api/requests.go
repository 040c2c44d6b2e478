package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"concierge/internal/auth"
)

func (d Dependencies) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := d.Workflow.Request(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (d Dependencies) updateRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if body.Status == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Status is required", d.Log)
		return
	}

	actor := auth.GetActorID(r.Context())
	if actor == "" {
		actor = "staff"
	}

	req, err := d.Workflow.UpdateStatus(r.Context(), id, body.Status, body.Note, actor)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (d Dependencies) listRequestEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := d.Workflow.StatusEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type dispatchRequest struct {
	ProviderIDs []string `json:"providerIds"`
}

func (d Dependencies) dispatchRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if len(body.ProviderIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "At least one provider is required", d.Log)
		return
	}

	dispatches, err := d.Workflow.Dispatch(r.Context(), id, body.ProviderIDs)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dispatches": dispatches})
}

type paymentRequest struct {
	TotalAmount float64 `json:"totalAmount"`
	PaidAmount  float64 `json:"paidAmount"`
	IsFullyPaid *bool   `json:"isFullyPaid,omitempty"`
}

func (d Dependencies) updateRequestPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if body.TotalAmount < 0 || body.PaidAmount < 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Amounts must be non-negative", d.Log)
		return
	}

	req, err := d.Workflow.UpdatePayment(r.Context(), id, body.TotalAmount, body.PaidAmount, body.IsFullyPaid)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (d Dependencies) markDispatchViewed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	providerID := chi.URLParam(r, "providerId")

	dispatch, err := d.Workflow.MarkViewed(r.Context(), id, providerID)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, dispatch)
}
