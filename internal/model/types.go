package model

import "errors"

// ConversationMode determines whether the automated pipeline replies
type ConversationMode string

const (
	ModeAutomated ConversationMode = "AUTOMATED"
	ModeHuman     ConversationMode = "HUMAN"
)

// Direction of a message relative to the platform
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// MessageStatus represents message processing state
type MessageStatus string

const (
	MessageReceived  MessageStatus = "received"
	MessageProcessed MessageStatus = "processed"
	MessageSent      MessageStatus = "sent"
	MessageFailed    MessageStatus = "failed"
)

// DispatchStatus represents provider dispatch state
type DispatchStatus string

const (
	DispatchSent      DispatchStatus = "sent"
	DispatchViewed    DispatchStatus = "viewed"
	DispatchResponded DispatchStatus = "responded"
)

// OfferStatus represents provider offer state
type OfferStatus string

const (
	OfferSubmitted  OfferStatus = "submitted"
	OfferApproved   OfferStatus = "approved"
	OfferRejected   OfferStatus = "rejected"
	OfferSentToUser OfferStatus = "sent_to_user"
)

// offerTransitions is the closed transition table for offers:
// approve/reject only from submitted, send only from approved.
var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferSubmitted: {OfferApproved, OfferRejected},
	OfferApproved:  {OfferSentToUser},
}

// CanTransition reports whether moving from s to target is permitted
func (s OfferStatus) CanTransition(target OfferStatus) bool {
	for _, t := range offerTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// dispatchTransitions: sent -> viewed -> responded, forward only
var dispatchTransitions = map[DispatchStatus][]DispatchStatus{
	DispatchSent:   {DispatchViewed, DispatchResponded},
	DispatchViewed: {DispatchResponded},
}

func (s DispatchStatus) CanTransition(target DispatchStatus) bool {
	for _, t := range dispatchTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidTransition is returned when a state machine move is not in the transition table
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConversationUnresolved is returned when an offer cannot be routed to a customer channel
	ErrConversationUnresolved = errors.New("conversation or channel address unresolved")
	// ErrNotFound is returned for unknown ids
	ErrNotFound = errors.New("not found")
)

// Intent is the coarse domain category of a user message
type Intent string

const (
	IntentHotel      Intent = "hotel"
	IntentTransport  Intent = "transport"
	IntentTour       Intent = "tour"
	IntentShopping   Intent = "shopping"
	IntentMarketInfo Intent = "market_info"
	IntentGeneral    Intent = "general"
	IntentOutOfScope Intent = "out_of_scope"
)

// Bookable reports whether the intent maps to a service category that
// providers can fulfil (and therefore needs the availability guard).
func (i Intent) Bookable() bool {
	switch i {
	case IntentHotel, IntentTransport, IntentTour:
		return true
	}
	return false
}

// SubIntent refines the shopping intent
type SubIntent string

const (
	SubIntentRetail  SubIntent = "retail"
	SubIntentFactory SubIntent = "factory"
	SubIntentUnknown SubIntent = ""
)

// Conversation represents one customer channel
type Conversation struct {
	ID                string           `json:"id"`
	ChannelAddress    string           `json:"channelAddress"`
	Mode              ConversationMode `json:"mode"`
	ModeChangedAt     *string          `json:"modeChangedAt,omitempty"`
	FirstTakeoverAt   *string          `json:"firstTakeoverAt,omitempty"`
	FirstHumanReplyAt *string          `json:"firstHumanReplyAt,omitempty"`
	LastInboundAt     *string          `json:"lastInboundAt,omitempty"`
	LastOutboundAt    *string          `json:"lastOutboundAt,omitempty"`
	LastPreview       string           `json:"lastPreview,omitempty"`
	CreatedAt         string           `json:"createdAt,omitempty"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
}

// Message belongs to exactly one conversation
type Message struct {
	ID                string                 `json:"id"`
	ConversationID    string                 `json:"conversationId"`
	Direction         Direction              `json:"direction"`
	Status            MessageStatus          `json:"status"`
	ProviderMessageID string                 `json:"providerMessageId,omitempty"`
	Body              string                 `json:"body"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ProcessedAt       *string                `json:"processedAt,omitempty"`
	CreatedAt         string                 `json:"createdAt,omitempty"`
}

// ServiceRequest is one actionable ask extracted from a conversation
type ServiceRequest struct {
	ID              string  `json:"id"`
	ConversationID  *string `json:"conversationId,omitempty"`
	Category        string  `json:"category"`
	City            string  `json:"city,omitempty"`
	Status          string  `json:"status"`
	BundleKey       *string `json:"bundleKey,omitempty"`
	TotalAmount     float64 `json:"totalAmount"`
	PaidAmount      float64 `json:"paidAmount"`
	DueAmount       float64 `json:"dueAmount"`
	IsFullyPaid     bool    `json:"isFullyPaid"`
	FirstApprovalAt *string `json:"firstApprovalAt,omitempty"`
	LastActionAt    *string `json:"lastActionAt,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty"`
	UpdatedAt       string  `json:"updatedAt,omitempty"`
}

// StatusEvent is an append-only audit record of a request status change
type StatusEvent struct {
	ID         string `json:"id"`
	RequestID  string `json:"requestId"`
	StatusFrom string `json:"statusFrom"`
	StatusTo   string `json:"statusTo"`
	Note       string `json:"note,omitempty"`
	Actor      string `json:"actor,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// ProviderDispatch joins a request to one notified provider
type ProviderDispatch struct {
	RequestID   string         `json:"requestId"`
	ProviderID  string         `json:"providerId"`
	Status      DispatchStatus `json:"status"`
	SentAt      string         `json:"sentAt,omitempty"`
	ViewedAt    *string        `json:"viewedAt,omitempty"`
	RespondedAt *string        `json:"respondedAt,omitempty"`
}

// ProviderOffer is a provider's proposal attached to a request
type ProviderOffer struct {
	ID              string                 `json:"id"`
	RequestID       string                 `json:"requestId"`
	ProviderID      string                 `json:"providerId"`
	Status          OfferStatus            `json:"status"`
	Note            string                 `json:"note,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	ApprovedBy      *string                `json:"approvedBy,omitempty"`
	ApprovedAt      *string                `json:"approvedAt,omitempty"`
	RejectionReason *string                `json:"rejectionReason,omitempty"`
	SentAt          *string                `json:"sentAt,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}
