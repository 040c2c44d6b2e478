package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"concierge/internal/db"
	"concierge/internal/llm"
	"concierge/internal/model"
)

// ErrInvalidPayload is returned when an offer payload fails schema
// validation. Nothing is written in that case.
var ErrInvalidPayload = errors.New("invalid offer payload")

// SubmitOffer validates the payload against the request category's schema
// and records the offer in submitted state. The dispatch for the
// submitting provider advances to responded as a side effect.
func (s *Service) SubmitOffer(ctx context.Context, requestID, providerID, note string, payload map[string]interface{}) (model.ProviderOffer, error) {
	if providerID == "" {
		return model.ProviderOffer{}, errors.New("provider id is required")
	}

	req, err := s.store.GetServiceRequestByID(ctx, requestID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrNotFound
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load request: %w", err)
	}

	if err := s.validator.Validate(req.Category, payload); err != nil {
		return model.ProviderOffer{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	offer, err := s.store.CreateOffer(ctx, db.CreateOfferParams{
		ID:         ulid.Make().String(),
		RequestID:  requestID,
		ProviderID: providerID,
		Note:       note,
		Payload:    payload,
	})
	if err != nil {
		return model.ProviderOffer{}, fmt.Errorf("failed to create offer: %w", err)
	}

	if _, err := s.advanceDispatch(ctx, requestID, providerID, model.DispatchResponded); err != nil &&
		!errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrInvalidTransition) {
		s.log.Warn("failed to advance dispatch on offer submission",
			zap.String("request_id", requestID),
			zap.String("provider_id", providerID),
			zap.Error(err))
	}

	_ = s.bus.PublishRequest(requestID, map[string]interface{}{
		"type":       "offer.submitted",
		"offerId":    offer.ID,
		"providerId": providerID,
	})
	return offerToModel(offer), nil
}

// Offer returns one offer by id.
func (s *Service) Offer(ctx context.Context, id string) (model.ProviderOffer, error) {
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrNotFound
		}
		return model.ProviderOffer{}, err
	}
	return offerToModel(offer), nil
}

// Offers lists a request's offers, oldest first.
func (s *Service) Offers(ctx context.Context, requestID string) ([]model.ProviderOffer, error) {
	offers, err := s.store.ListOffers(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ProviderOffer, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerToModel(o))
	}
	return out, nil
}

// Approve moves an offer submitted -> approved. The first approval on the
// request stamps first_approval_at exactly once.
func (s *Service) Approve(ctx context.Context, offerID, approvedBy string) (model.ProviderOffer, error) {
	current, err := s.store.GetOfferByID(ctx, offerID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrNotFound
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load offer: %w", err)
	}
	if !model.OfferStatus(current.Status).CanTransition(model.OfferApproved) {
		return model.ProviderOffer{}, model.ErrInvalidTransition
	}

	// The UPDATE re-checks the state in SQL; losing a race yields zero
	// rows, which surfaces as not found here and maps to a conflict.
	offer, err := s.store.ApproveOffer(ctx, offerID, approvedBy)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrInvalidTransition
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to approve offer: %w", err)
	}

	if err := s.store.MarkRequestFirstApproval(ctx, offer.RequestID); err != nil {
		s.log.Warn("failed to stamp first approval", zap.Error(err))
	}
	_ = s.bus.PublishRequest(offer.RequestID, map[string]interface{}{
		"type":    "offer.approved",
		"offerId": offer.ID,
		"by":      approvedBy,
	})
	return offerToModel(offer), nil
}

// Reject moves an offer submitted -> rejected with a reason.
func (s *Service) Reject(ctx context.Context, offerID, reason string) (model.ProviderOffer, error) {
	current, err := s.store.GetOfferByID(ctx, offerID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrNotFound
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load offer: %w", err)
	}
	if !model.OfferStatus(current.Status).CanTransition(model.OfferRejected) {
		return model.ProviderOffer{}, model.ErrInvalidTransition
	}

	offer, err := s.store.RejectOffer(ctx, offerID, reason)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrInvalidTransition
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to reject offer: %w", err)
	}

	_ = s.bus.PublishRequest(offer.RequestID, map[string]interface{}{
		"type":    "offer.rejected",
		"offerId": offer.ID,
		"reason":  reason,
	})
	return offerToModel(offer), nil
}

// SendToUser delivers an approved offer to the customer. The conversation
// and channel address are resolved up front; if either is missing the
// call fails with no side effects.
func (s *Service) SendToUser(ctx context.Context, offerID string) (model.ProviderOffer, error) {
	offer, err := s.store.GetOfferByID(ctx, offerID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrNotFound
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load offer: %w", err)
	}
	if !model.OfferStatus(offer.Status).CanTransition(model.OfferSentToUser) {
		return model.ProviderOffer{}, model.ErrInvalidTransition
	}

	req, err := s.store.GetServiceRequestByID(ctx, offer.RequestID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrConversationUnresolved
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load request: %w", err)
	}
	if req.ConversationID == nil || *req.ConversationID == "" {
		return model.ProviderOffer{}, model.ErrConversationUnresolved
	}

	conv, err := s.store.GetConversationByID(ctx, *req.ConversationID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrConversationUnresolved
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.ChannelAddress == "" {
		return model.ProviderOffer{}, model.ErrConversationUnresolved
	}

	text := stripContactDetails(s.distillOffer(ctx, req.Category, offer))

	if _, err := s.sender.SendText(ctx, conv.ChannelAddress, text); err != nil {
		return model.ProviderOffer{}, fmt.Errorf("failed to send offer: %w", err)
	}

	if _, err := s.store.CreateMessage(ctx, db.CreateMessageParams{
		ID:             ulid.Make().String(),
		ConversationID: conv.ID,
		Direction:      string(model.DirectionOutbound),
		Status:         string(model.MessageSent),
		Body:           text,
		Metadata:       map[string]interface{}{"offerId": offer.ID},
	}); err != nil {
		s.log.Error("failed to store offer message", zap.Error(err))
	}
	if err := s.store.TouchConversationOutbound(ctx, conv.ID); err != nil {
		s.log.Warn("failed to touch conversation", zap.Error(err))
	}

	sent, err := s.store.MarkOfferSent(ctx, offerID)
	if err != nil {
		if isNotFound(err) {
			return model.ProviderOffer{}, model.ErrInvalidTransition
		}
		return model.ProviderOffer{}, fmt.Errorf("failed to mark offer sent: %w", err)
	}

	_ = s.bus.PublishRequest(offer.RequestID, map[string]interface{}{
		"type":    "offer.sent",
		"offerId": offer.ID,
	})
	return offerToModel(sent), nil
}

// distillOffer rewrites the provider's note into customer-facing text via
// the completion service; on failure the deterministic template is used.
func (s *Service) distillOffer(ctx context.Context, category string, offer db.Offer) string {
	template := offerTemplate(category, offer)
	if offer.Note == "" {
		return template
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "Rewrite the provider's offer note as a short, friendly message " +
				"to a travel customer. Keep prices and concrete details. Never include the provider's " +
				"name, phone number, email or links. Respond with the message only."},
			{Role: "user", Content: fmt.Sprintf("Category: %s\nOffer details: %s\nProvider note: %s",
				category, template, offer.Note)},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		s.log.Warn("offer distillation failed, using template", zap.Error(err))
		return template
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return template
	}
	return out
}

// offerTemplate is the deterministic fallback rendering of an offer.
func offerTemplate(category string, offer db.Offer) string {
	var sb strings.Builder
	sb.WriteString("Good news! We have an offer for your " + category + " request")

	if price, ok := offer.Payload["price"].(float64); ok {
		currency, _ := offer.Payload["currency"].(string)
		if currency == "" {
			currency = "CNY"
		}
		sb.WriteString(fmt.Sprintf(": %.2f %s", price, currency))
	}
	sb.WriteString(".")

	if desc, ok := offer.Payload["description"].(string); ok && desc != "" {
		sb.WriteString(" " + desc)
	}
	sb.WriteString(" Reply here if you'd like to go ahead or have questions.")
	return sb.String()
}

var (
	// No dots or commas in the class so prices like 12,000.00 survive.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-()]{5,}\d`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
)

// stripContactDetails removes provider phone numbers, emails and links so
// the platform stays the only channel between customer and provider.
func stripContactDetails(text string) string {
	text = emailPattern.ReplaceAllString(text, "")
	text = urlPattern.ReplaceAllString(text, "")
	text = phonePattern.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(text)
}
