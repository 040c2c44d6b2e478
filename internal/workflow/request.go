// Package workflow owns the service request lifecycle: status auditing,
// provider dispatch, offers and their approval flow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"concierge/internal/db"
	"concierge/internal/llm"
	"concierge/internal/model"
)

// Store is the persistence slice the workflow needs.
type Store interface {
	CreateServiceRequest(ctx context.Context, p db.CreateRequestParams) (db.ServiceRequest, error)
	GetServiceRequestByID(ctx context.Context, id string) (db.ServiceRequest, error)
	UpdateRequestStatus(ctx context.Context, id, status string) (db.ServiceRequest, error)
	UpdateRequestPayment(ctx context.Context, id string, total, paid float64, fullyPaid *bool) (db.ServiceRequest, error)
	MarkRequestFirstApproval(ctx context.Context, id string) error
	ListRequestsByConversation(ctx context.Context, conversationID string) ([]db.ServiceRequest, error)
	AppendStatusEvent(ctx context.Context, id, requestID, from, to, note, actor string) (db.StatusEvent, error)
	ListStatusEvents(ctx context.Context, requestID string) ([]db.StatusEvent, error)
	UpsertDispatch(ctx context.Context, requestID, providerID string) (db.Dispatch, error)
	GetDispatch(ctx context.Context, requestID, providerID string) (db.Dispatch, error)
	UpdateDispatchStatus(ctx context.Context, requestID, providerID, status string) (db.Dispatch, error)
	ListDispatches(ctx context.Context, requestID string) ([]db.Dispatch, error)
	CreateOffer(ctx context.Context, p db.CreateOfferParams) (db.Offer, error)
	GetOfferByID(ctx context.Context, id string) (db.Offer, error)
	ApproveOffer(ctx context.Context, id, approvedBy string) (db.Offer, error)
	RejectOffer(ctx context.Context, id, reason string) (db.Offer, error)
	MarkOfferSent(ctx context.Context, id string) (db.Offer, error)
	ListOffers(ctx context.Context, requestID string) ([]db.Offer, error)
	GetConversationByID(ctx context.Context, id string) (db.Conversation, error)
	CreateMessage(ctx context.Context, p db.CreateMessageParams) (db.Message, error)
	TouchConversationOutbound(ctx context.Context, id string) error
}

// Sender delivers offer messages to the customer channel.
type Sender interface {
	SendText(ctx context.Context, address, text string) (string, error)
}

// JobClient enqueues detached provider notifications.
type JobClient interface {
	EnqueueDispatchNotify(requestID string) error
}

// EventBus fans workflow events out to staff consoles.
type EventBus interface {
	PublishRequest(requestID string, event map[string]interface{}) error
}

// Service runs the request/offer workflow.
type Service struct {
	store     Store
	validator *PayloadValidator
	sender    Sender
	llm       llm.Client
	model     string
	jobs      JobClient
	bus       EventBus
	log       *zap.Logger
}

func NewService(store Store, validator *PayloadValidator, sender Sender,
	llmClient llm.Client, modelName string, jobs JobClient, bus EventBus,
	log *zap.Logger) *Service {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &Service{
		store:     store,
		validator: validator,
		sender:    sender,
		llm:       llmClient,
		model:     modelName,
		jobs:      jobs,
		bus:       bus,
		log:       log,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}

// OpenFromConversation records a new service request extracted from a
// customer message and kicks off provider dispatch in the background.
func (s *Service) OpenFromConversation(ctx context.Context, conversationID, category, city string) (model.ServiceRequest, error) {
	var convID *string
	if conversationID != "" {
		convID = &conversationID
	}

	req, err := s.store.CreateServiceRequest(ctx, db.CreateRequestParams{
		ID:             ulid.Make().String(),
		ConversationID: convID,
		Category:       category,
		City:           city,
		Status:         "open",
	})
	if err != nil {
		return model.ServiceRequest{}, fmt.Errorf("failed to create service request: %w", err)
	}

	if _, err := s.store.AppendStatusEvent(ctx, ulid.Make().String(), req.ID, "", "open", "opened from conversation", "system"); err != nil {
		s.log.Warn("failed to append status event", zap.Error(err))
	}
	_ = s.bus.PublishRequest(req.ID, map[string]interface{}{
		"type":     "request.created",
		"category": category,
		"city":     city,
	})
	return requestToModel(req), nil
}

// Request returns one service request by id.
func (s *Service) Request(ctx context.Context, id string) (model.ServiceRequest, error) {
	req, err := s.store.GetServiceRequestByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return model.ServiceRequest{}, model.ErrNotFound
		}
		return model.ServiceRequest{}, err
	}
	return requestToModel(req), nil
}

// UpdateStatus applies a free-form status label. Every change appends an
// audit event; the label itself is not constrained.
func (s *Service) UpdateStatus(ctx context.Context, requestID, to, note, actor string) (model.ServiceRequest, error) {
	if to == "" {
		return model.ServiceRequest{}, errors.New("status is required")
	}

	current, err := s.store.GetServiceRequestByID(ctx, requestID)
	if err != nil {
		if isNotFound(err) {
			return model.ServiceRequest{}, model.ErrNotFound
		}
		return model.ServiceRequest{}, fmt.Errorf("failed to load request: %w", err)
	}

	updated, err := s.store.UpdateRequestStatus(ctx, requestID, to)
	if err != nil {
		return model.ServiceRequest{}, fmt.Errorf("failed to update status: %w", err)
	}

	if _, err := s.store.AppendStatusEvent(ctx, ulid.Make().String(), requestID, current.Status, to, note, actor); err != nil {
		s.log.Warn("failed to append status event", zap.Error(err))
	}
	_ = s.bus.PublishRequest(requestID, map[string]interface{}{
		"type": "request.status",
		"from": current.Status,
		"to":   to,
	})
	return requestToModel(updated), nil
}

// UpdatePayment records payment amounts. due = max(0, total - paid); the
// fully-paid flag flips automatically when due hits zero unless the caller
// pins it.
func (s *Service) UpdatePayment(ctx context.Context, requestID string, total, paid float64, fullyPaid *bool) (model.ServiceRequest, error) {
	if total < 0 || paid < 0 {
		return model.ServiceRequest{}, errors.New("amounts must be non-negative")
	}

	updated, err := s.store.UpdateRequestPayment(ctx, requestID, total, paid, fullyPaid)
	if err != nil {
		if isNotFound(err) {
			return model.ServiceRequest{}, model.ErrNotFound
		}
		return model.ServiceRequest{}, fmt.Errorf("failed to update payment: %w", err)
	}

	_ = s.bus.PublishRequest(requestID, map[string]interface{}{
		"type":      "request.payment",
		"total":     updated.TotalAmount,
		"paid":      updated.PaidAmount,
		"due":       updated.DueAmount,
		"fullyPaid": updated.IsFullyPaid,
	})
	return requestToModel(updated), nil
}

// Dispatch notifies a set of providers about a request. Per (request,
// provider) the dispatch row is upserted: re-dispatch refreshes sent_at
// and never duplicates. Notification itself is detached.
func (s *Service) Dispatch(ctx context.Context, requestID string, providerIDs []string) ([]model.ProviderDispatch, error) {
	if len(providerIDs) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	if _, err := s.store.GetServiceRequestByID(ctx, requestID); err != nil {
		if isNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	var out []model.ProviderDispatch
	for _, providerID := range providerIDs {
		d, err := s.store.UpsertDispatch(ctx, requestID, providerID)
		if err != nil {
			return nil, fmt.Errorf("failed to dispatch to provider %s: %w", providerID, err)
		}
		out = append(out, dispatchToModel(d))
	}

	if err := s.jobs.EnqueueDispatchNotify(requestID); err != nil {
		s.log.Warn("failed to enqueue dispatch notification",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	_ = s.bus.PublishRequest(requestID, map[string]interface{}{
		"type":      "request.dispatched",
		"providers": providerIDs,
	})
	return out, nil
}

// MarkViewed advances a dispatch to viewed when the provider opens it.
func (s *Service) MarkViewed(ctx context.Context, requestID, providerID string) (model.ProviderDispatch, error) {
	return s.advanceDispatch(ctx, requestID, providerID, model.DispatchViewed)
}

// MarkResponded advances a dispatch once the provider submits an offer.
func (s *Service) MarkResponded(ctx context.Context, requestID, providerID string) (model.ProviderDispatch, error) {
	return s.advanceDispatch(ctx, requestID, providerID, model.DispatchResponded)
}

func (s *Service) advanceDispatch(ctx context.Context, requestID, providerID string, to model.DispatchStatus) (model.ProviderDispatch, error) {
	current, err := s.store.GetDispatch(ctx, requestID, providerID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderDispatch{}, model.ErrNotFound
		}
		return model.ProviderDispatch{}, fmt.Errorf("failed to load dispatch: %w", err)
	}
	if !model.DispatchStatus(current.Status).CanTransition(to) {
		return model.ProviderDispatch{}, model.ErrInvalidTransition
	}

	updated, err := s.store.UpdateDispatchStatus(ctx, requestID, providerID, string(to))
	if err != nil {
		return model.ProviderDispatch{}, fmt.Errorf("failed to update dispatch: %w", err)
	}
	return dispatchToModel(updated), nil
}

// StatusEvents lists the audit trail for a request, oldest first.
func (s *Service) StatusEvents(ctx context.Context, requestID string) ([]model.StatusEvent, error) {
	events, err := s.store.ListStatusEvents(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]model.StatusEvent, 0, len(events))
	for _, e := range events {
		out = append(out, model.StatusEvent{
			ID:         e.ID,
			RequestID:  e.RequestID,
			StatusFrom: e.StatusFrom,
			StatusTo:   e.StatusTo,
			Note:       e.Note,
			Actor:      e.Actor,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func requestToModel(r db.ServiceRequest) model.ServiceRequest {
	return model.ServiceRequest{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		Category:        r.Category,
		City:            r.City,
		Status:          r.Status,
		BundleKey:       r.BundleKey,
		TotalAmount:     r.TotalAmount,
		PaidAmount:      r.PaidAmount,
		DueAmount:       r.DueAmount,
		IsFullyPaid:     r.IsFullyPaid,
		FirstApprovalAt: fmtTimePtr(r.FirstApprovalAt),
		LastActionAt:    fmtTimePtr(r.LastActionAt),
		CreatedAt:       fmtTime(r.CreatedAt),
		UpdatedAt:       fmtTime(r.UpdatedAt),
	}
}

func dispatchToModel(d db.Dispatch) model.ProviderDispatch {
	return model.ProviderDispatch{
		RequestID:   d.RequestID,
		ProviderID:  d.ProviderID,
		Status:      model.DispatchStatus(d.Status),
		SentAt:      fmtTime(d.SentAt),
		ViewedAt:    fmtTimePtr(d.ViewedAt),
		RespondedAt: fmtTimePtr(d.RespondedAt),
	}
}

func offerToModel(o db.Offer) model.ProviderOffer {
	return model.ProviderOffer{
		ID:              o.ID,
		RequestID:       o.RequestID,
		ProviderID:      o.ProviderID,
		Status:          model.OfferStatus(o.Status),
		Note:            o.Note,
		Payload:         o.Payload,
		ApprovedBy:      o.ApprovedBy,
		ApprovedAt:      fmtTimePtr(o.ApprovedAt),
		RejectionReason: o.RejectionReason,
		SentAt:          fmtTimePtr(o.SentAt),
		CreatedAt:       fmtTime(o.CreatedAt),
		UpdatedAt:       fmtTime(o.UpdatedAt),
	}
}
