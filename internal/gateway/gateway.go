// Package gateway owns the inbound conversation pipeline: message intake,
// idempotent processing, mode routing and reply delivery.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"concierge/internal/catalog"
	"concierge/internal/db"
	"concierge/internal/intent"
	"concierge/internal/model"
)

// Store is the slice of persistence the gateway needs.
type Store interface {
	GetConversationByID(ctx context.Context, id string) (db.Conversation, error)
	GetConversationByAddress(ctx context.Context, address string) (db.Conversation, error)
	CreateConversation(ctx context.Context, id, address string) (db.Conversation, error)
	SetConversationMode(ctx context.Context, id, mode string) (db.Conversation, error)
	MarkFirstHumanReply(ctx context.Context, id string) error
	TouchConversationInbound(ctx context.Context, id, preview string) error
	TouchConversationOutbound(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, p db.CreateMessageParams) (db.Message, error)
	GetMessageByProviderID(ctx context.Context, conversationID, providerMessageID string) (db.Message, error)
	GetLatestInboundMessage(ctx context.Context, conversationID string) (db.Message, error)
	MarkMessageProcessed(ctx context.Context, id string) (bool, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]db.Message, error)
}

// Classifier decides what a customer message is asking for.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Classification
}

// Searcher is the catalog surface the pipeline queries.
type Searcher interface {
	SearchByKeyword(ctx context.Context, source, keyword string, opts catalog.SearchOpts) (*catalog.SearchResult, error)
	SearchByImage(ctx context.Context, source, imageURL string, opts catalog.SearchOpts) (*catalog.SearchResult, error)
}

// Sender delivers outbound messages to the customer channel.
type Sender interface {
	SendText(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address, mediaURL, caption string) (string, error)
}

// RequestOpener opens a service request from an ordering-intent message.
type RequestOpener interface {
	OpenFromConversation(ctx context.Context, conversationID, category, city string) (model.ServiceRequest, error)
}

// JobClient enqueues detached work.
type JobClient interface {
	EnqueueCatalogWarm(source, keyword string) error
}

// EventBus fans conversation events out to staff consoles.
type EventBus interface {
	PublishConversation(conversationID string, event map[string]interface{}) error
}

// InboundMessage is one delivery from the messaging channel. The provider
// message id is the dedup key; deliveries may repeat it.
type InboundMessage struct {
	From              string
	ProviderMessageID string
	Text              string
	ImageURL          string
}

// Gateway runs the conversation pipeline.
type Gateway struct {
	store    Store
	router   Classifier
	composer *Composer
	sessions *SessionStore
	sender   Sender
	search   Searcher
	hotels   catalog.BookingProvider
	requests RequestOpener
	jobs     JobClient
	bus      EventBus
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, router Classifier, composer *Composer, sessions *SessionStore,
	sender Sender, search Searcher, requests RequestOpener, jobs JobClient,
	bus EventBus, log *zap.Logger) *Gateway {
	return &Gateway{
		store:    store,
		router:   router,
		composer: composer,
		sessions: sessions,
		sender:   sender,
		search:   search,
		requests: requests,
		jobs:     jobs,
		bus:      bus,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}
}

// SetHotelProvider enables live hotel availability search for messages
// that carry an explicit date range.
func (g *Gateway) SetHotelProvider(p catalog.BookingProvider) {
	g.hotels = p
}

// lockConversation serializes processing per conversation so concurrent
// deliveries of the same message cannot interleave.
func (g *Gateway) lockConversation(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}

// HandleInbound ingests one channel delivery. Duplicate deliveries are
// absorbed: the message history gains at most one inbound row and at most
// one automated reply goes out per provider message id.
func (g *Gateway) HandleInbound(ctx context.Context, in InboundMessage) error {
	if in.From == "" {
		return errors.New("inbound message has no sender address")
	}

	conv, err := g.store.GetConversationByAddress(ctx, in.From)
	if isNotFound(err) {
		conv, err = g.store.CreateConversation(ctx, ulid.Make().String(), in.From)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve conversation: %w", err)
	}

	lock := g.lockConversation(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	msg, fresh, err := g.intakeMessage(ctx, conv.ID, in)
	if err != nil {
		return err
	}
	if !fresh && msg.Status == string(model.MessageProcessed) {
		g.log.Debug("duplicate delivery absorbed",
			zap.String("conversation_id", conv.ID),
			zap.String("provider_message_id", in.ProviderMessageID))
		return nil
	}

	if err := g.store.TouchConversationInbound(ctx, conv.ID, preview(in.Text)); err != nil {
		g.log.Warn("failed to touch conversation", zap.Error(err))
	}
	_ = g.bus.PublishConversation(conv.ID, map[string]interface{}{
		"type":      "message.inbound",
		"messageId": msg.ID,
		"preview":   preview(in.Text),
	})

	// In HUMAN mode the pipeline stays silent; the message is stored for
	// the operator and nothing automated goes out.
	if conv.Mode == string(model.ModeHuman) {
		if _, err := g.store.MarkMessageProcessed(ctx, msg.ID); err != nil {
			g.log.Warn("failed to mark message processed", zap.Error(err))
		}
		return nil
	}

	reply, images := g.respond(ctx, conv, in)
	g.sessions.Append(conv.ID, in.Text, reply)

	// Marking processed before sending is what makes retries safe: a
	// concurrent delivery that loses this race sends nothing.
	marked, err := g.store.MarkMessageProcessed(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	if !marked {
		return nil
	}

	return g.deliver(ctx, conv, reply, images)
}

// intakeMessage records the inbound row, or finds the existing one for a
// repeated delivery. fresh is false when the row already existed.
func (g *Gateway) intakeMessage(ctx context.Context, conversationID string, in InboundMessage) (db.Message, bool, error) {
	if in.ProviderMessageID != "" {
		existing, err := g.store.GetMessageByProviderID(ctx, conversationID, in.ProviderMessageID)
		if err == nil {
			return existing, false, nil
		}
		if !isNotFound(err) {
			return db.Message{}, false, fmt.Errorf("failed to look up message: %w", err)
		}
	} else {
		// Without a provider id the latest inbound row is the only dedup
		// signal: an identical body means a repeated delivery.
		latest, err := g.store.GetLatestInboundMessage(ctx, conversationID)
		if err == nil && latest.Body == in.Text {
			return latest, false, nil
		}
		if err != nil && !isNotFound(err) {
			return db.Message{}, false, fmt.Errorf("failed to look up message: %w", err)
		}
	}

	var providerID *string
	if in.ProviderMessageID != "" {
		providerID = &in.ProviderMessageID
	}
	meta := map[string]interface{}{}
	if in.ImageURL != "" {
		meta["imageUrl"] = in.ImageURL
	}

	msg, err := g.store.CreateMessage(ctx, db.CreateMessageParams{
		ID:                ulid.Make().String(),
		ConversationID:    conversationID,
		Direction:         string(model.DirectionInbound),
		Status:            string(model.MessageReceived),
		ProviderMessageID: providerID,
		Body:              in.Text,
		Metadata:          meta,
	})
	if err != nil {
		// A concurrent delivery may have inserted the same provider id
		// first; fall back to the stored row.
		if in.ProviderMessageID != "" {
			if existing, lookupErr := g.store.GetMessageByProviderID(ctx, conversationID, in.ProviderMessageID); lookupErr == nil {
				return existing, false, nil
			}
		}
		return db.Message{}, false, fmt.Errorf("failed to store inbound message: %w", err)
	}
	return msg, true, nil
}

// respond runs the automated pipeline for one fresh inbound message and
// returns the reply text plus any media to attach. It never returns an
// empty reply; degraded paths fall back to canned text.
func (g *Gateway) respond(ctx context.Context, conv db.Conversation, in InboundMessage) (string, []string) {
	if g.sessions.Exhausted(conv.ID) {
		g.sessions.Reset(conv.ID)
		return resetGreeting, nil
	}

	if intent.IsGreeting(in.Text) {
		return greetingReply, nil
	}

	cls := g.router.Classify(ctx, in.Text)
	if msg := intent.Guard(cls); msg != "" {
		return msg, nil
	}

	reply, images := g.routeIntent(ctx, conv, in, cls)
	return g.composer.EnforceEnglish(ctx, reply), images
}

func (g *Gateway) routeIntent(ctx context.Context, conv db.Conversation, in InboundMessage, cls intent.Classification) (string, []string) {
	if cls.Ordering && cls.Intent.Bookable() {
		g.openRequest(ctx, conv.ID, cls)
	}

	switch cls.Intent {
	case model.IntentShopping, model.IntentMarketInfo:
		return g.shoppingReply(ctx, in, cls)
	case model.IntentHotel:
		if reply, images, ok := g.hotelReply(ctx, in, cls); ok {
			return reply, images
		}
		if cls.Ordering {
			return "Got it - I've logged your hotel request and our local team is on it. " +
				"Meanwhile, what are your check-in and check-out dates?", nil
		}
		return datePromptReply, nil
	case model.IntentTransport:
		if cls.Ordering {
			return "Your transport request is in - a driver coordinator will confirm shortly. " +
				"Could you share your pickup time and location?", nil
		}
		return "We arrange airport pickups, private drivers and intercity transfers. " +
			"When and where do you need to go?", nil
	case model.IntentTour:
		if cls.Ordering {
			return "Tour request received! Our guides will send options soon. " +
				"How many people are in your group?", nil
		}
		return "We run city tours, market tours and day trips. " +
			"Tell me which city and what you'd like to see.", nil
	default:
		return "I can help with hotels, transport, tours and shopping in Guangzhou " +
			"and Hainan. What would you like to do?", nil
	}
}

// shoppingReply searches the item catalog; image messages go through the
// image search path. Catalog failures degrade to canned text.
func (g *Gateway) shoppingReply(ctx context.Context, in InboundMessage, cls intent.Classification) (string, []string) {
	var (
		result *catalog.SearchResult
		err    error
	)
	opts := catalog.SearchOpts{PageSize: maxComposedItems}
	if in.ImageURL != "" {
		result, err = g.search.SearchByImage(ctx, "tao", in.ImageURL, opts)
	} else {
		result, err = g.search.SearchByKeyword(ctx, "tao", in.Text, opts)
	}
	if err != nil {
		g.log.Warn("catalog search failed", zap.Error(err))
		return fallbackReply, nil
	}

	if in.Text != "" {
		if warmErr := g.jobs.EnqueueCatalogWarm("tao", in.Text); warmErr != nil {
			g.log.Warn("failed to enqueue catalog warm", zap.Error(warmErr))
		}
	}

	text, images := g.composer.ComposeItems(cls.Intent, cls.City, result)
	if cls.SubIntent == model.SubIntentFactory {
		text += "\n\nLooking for factory or wholesale sourcing? I can connect you " +
			"with our sourcing agents for bulk pricing."
	}
	return text, images
}

var dateRangePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\D+?(\d{4}-\d{2}-\d{2})`)

// hotelReply runs a live availability search when the message carries an
// explicit check-in/check-out range. Without dates the provider is never
// called; the caller falls back to prompting for them.
func (g *Gateway) hotelReply(ctx context.Context, in InboundMessage, cls intent.Classification) (string, []string, bool) {
	if g.hotels == nil {
		return "", nil, false
	}

	m := dateRangePattern.FindStringSubmatch(in.Text)
	if m == nil {
		return "", nil, false
	}
	checkIn, err1 := time.Parse("2006-01-02", m[1])
	checkOut, err2 := time.Parse("2006-01-02", m[2])
	if err1 != nil || err2 != nil {
		return "", nil, false
	}

	city := cls.City
	if city == "" {
		city = "guangzhou"
	}
	destinations, err := g.hotels.SearchDestination(ctx, city)
	if err != nil || len(destinations) == 0 {
		g.log.Warn("destination lookup failed", zap.String("city", city), zap.Error(err))
		return fallbackReply, nil, true
	}

	params := catalog.HotelSearchParams{
		DestinationID: destinations[0].ID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
	}
	if err := params.Validate(); err != nil {
		return "Those dates don't look right - check-out must be after check-in and not in the past. " +
			"Could you double-check them?", nil, true
	}

	result, err := g.hotels.SearchHotels(ctx, params)
	if err != nil {
		g.log.Warn("hotel search failed", zap.Error(err))
		return fallbackReply, nil, true
	}

	text, images := g.composer.ComposeItems(cls.Intent, city, result)
	return text, images, true
}

// openRequest records a service request so staff can pick it up and
// dispatch providers. Failures here never fail the customer reply.
// Provider notification starts when staff dispatch the request; there are
// no dispatch rows to notify at open time.
func (g *Gateway) openRequest(ctx context.Context, conversationID string, cls intent.Classification) {
	if _, err := g.requests.OpenFromConversation(ctx, conversationID, string(cls.Intent), cls.City); err != nil {
		g.log.Error("failed to open service request",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// deliver sends the reply, records the outbound row and stamps activity.
func (g *Gateway) deliver(ctx context.Context, conv db.Conversation, text string, images []string) error {
	providerID, sendErr := g.sender.SendText(ctx, conv.ChannelAddress, text)
	for _, img := range images {
		if _, err := g.sender.SendMedia(ctx, conv.ChannelAddress, img, ""); err != nil {
			g.log.Warn("failed to send media", zap.Error(err))
			break
		}
	}

	status := model.MessageSent
	var pid *string
	if sendErr != nil {
		status = model.MessageFailed
	} else if providerID != "" {
		pid = &providerID
	}

	out, err := g.store.CreateMessage(ctx, db.CreateMessageParams{
		ID:                ulid.Make().String(),
		ConversationID:    conv.ID,
		Direction:         string(model.DirectionOutbound),
		Status:            string(status),
		ProviderMessageID: pid,
		Body:              text,
	})
	if err != nil {
		g.log.Error("failed to store outbound message", zap.Error(err))
	} else {
		_ = g.bus.PublishConversation(conv.ID, map[string]interface{}{
			"type":      "message.outbound",
			"messageId": out.ID,
			"preview":   preview(text),
		})
	}

	if err := g.store.TouchConversationOutbound(ctx, conv.ID); err != nil {
		g.log.Warn("failed to touch conversation", zap.Error(err))
	}

	if sendErr != nil {
		return fmt.Errorf("failed to send reply: %w", sendErr)
	}
	return nil
}

// Takeover moves a conversation to HUMAN mode. Taking over a conversation
// already under an operator is a conflict.
func (g *Gateway) Takeover(ctx context.Context, conversationID string) (db.Conversation, error) {
	conv, err := g.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return db.Conversation{}, model.ErrNotFound
		}
		return db.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Mode == string(model.ModeHuman) {
		return db.Conversation{}, model.ErrInvalidTransition
	}

	conv, err = g.store.SetConversationMode(ctx, conversationID, string(model.ModeHuman))
	if err != nil {
		return db.Conversation{}, fmt.Errorf("failed to set conversation mode: %w", err)
	}
	g.sessions.Reset(conversationID)
	_ = g.bus.PublishConversation(conversationID, map[string]interface{}{
		"type": "conversation.takeover",
		"mode": conv.Mode,
	})
	return conv, nil
}

// Release hands a conversation back to the automated pipeline.
func (g *Gateway) Release(ctx context.Context, conversationID string) (db.Conversation, error) {
	conv, err := g.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return db.Conversation{}, model.ErrNotFound
		}
		return db.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Mode == string(model.ModeAutomated) {
		return db.Conversation{}, model.ErrInvalidTransition
	}

	conv, err = g.store.SetConversationMode(ctx, conversationID, string(model.ModeAutomated))
	if err != nil {
		return db.Conversation{}, fmt.Errorf("failed to set conversation mode: %w", err)
	}
	_ = g.bus.PublishConversation(conversationID, map[string]interface{}{
		"type": "conversation.release",
		"mode": conv.Mode,
	})
	return conv, nil
}

// HumanReply sends an operator-authored message. The first one stamps
// first_human_reply_at; the conversation must be under operator control.
func (g *Gateway) HumanReply(ctx context.Context, conversationID, text string) (db.Message, error) {
	if text == "" {
		return db.Message{}, errors.New("reply text is required")
	}

	conv, err := g.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return db.Message{}, model.ErrNotFound
		}
		return db.Message{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Mode != string(model.ModeHuman) {
		return db.Message{}, model.ErrInvalidTransition
	}

	providerID, sendErr := g.sender.SendText(ctx, conv.ChannelAddress, text)
	status := model.MessageSent
	var pid *string
	if sendErr != nil {
		status = model.MessageFailed
	} else if providerID != "" {
		pid = &providerID
	}

	msg, err := g.store.CreateMessage(ctx, db.CreateMessageParams{
		ID:                ulid.Make().String(),
		ConversationID:    conversationID,
		Direction:         string(model.DirectionOutbound),
		Status:            string(status),
		ProviderMessageID: pid,
		Body:              text,
	})
	if err != nil {
		return db.Message{}, fmt.Errorf("failed to store reply: %w", err)
	}

	if sendErr != nil {
		return msg, fmt.Errorf("failed to send reply: %w", sendErr)
	}

	if err := g.store.MarkFirstHumanReply(ctx, conversationID); err != nil {
		g.log.Warn("failed to stamp first human reply", zap.Error(err))
	}
	if err := g.store.TouchConversationOutbound(ctx, conversationID); err != nil {
		g.log.Warn("failed to touch conversation", zap.Error(err))
	}
	_ = g.bus.PublishConversation(conversationID, map[string]interface{}{
		"type":      "message.outbound",
		"messageId": msg.ID,
		"preview":   preview(text),
	})
	return msg, nil
}

// Conversation returns one conversation by id.
func (g *Gateway) Conversation(ctx context.Context, id string) (db.Conversation, error) {
	conv, err := g.store.GetConversationByID(ctx, id)
	if isNotFound(err) {
		return db.Conversation{}, model.ErrNotFound
	}
	return conv, err
}

// History lists a conversation's messages, newest first.
func (g *Gateway) History(ctx context.Context, conversationID string, limit, offset int) ([]db.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return g.store.ListMessages(ctx, conversationID, limit, offset)
}

const previewLen = 120

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen]) + "…"
}
