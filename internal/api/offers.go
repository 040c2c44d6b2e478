package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"concierge/internal/auth"
)

type submitOfferRequest struct {
	RequestID  string                 `json:"requestId"`
	ProviderID string                 `json:"providerId"`
	Note       string                 `json:"note,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

func (d Dependencies) submitOffer(w http.ResponseWriter, r *http.Request) {
	var body submitOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if body.RequestID == "" || body.ProviderID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Request id and provider id are required", d.Log)
		return
	}

	offer, err := d.Workflow.SubmitOffer(r.Context(), body.RequestID, body.ProviderID, body.Note, body.Payload)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (d Dependencies) getOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offer, err := d.Workflow.Offer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (d Dependencies) listOffers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offers, err := d.Workflow.Offers(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

func (d Dependencies) approveOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	approvedBy := auth.GetActorID(r.Context())
	if approvedBy == "" {
		approvedBy = "staff"
	}

	offer, err := d.Workflow.Approve(r.Context(), id, approvedBy)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

type rejectOfferRequest struct {
	Reason string `json:"reason"`
}

func (d Dependencies) rejectOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body rejectOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	offer, err := d.Workflow.Reject(r.Context(), id, body.Reason)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (d Dependencies) sendOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offer, err := d.Workflow.SendToUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}
