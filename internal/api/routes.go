package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"concierge/internal/auth"
	"concierge/internal/gateway"
	"concierge/internal/workflow"
	"concierge/internal/ws"
)

type Dependencies struct {
	Gateway   *gateway.Gateway
	Workflow  *workflow.Service
	Hub       *ws.Hub
	Log       *zap.Logger
	JWTSecret string
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))

	jwtConfig := auth.NewJWTConfig(d.JWTSecret)
	r.Use(jwtConfig.Middleware)

	// Inbound channel webhook
	r.Post("/webhook/message", d.webhookMessage)

	// Conversation endpoints
	r.Get("/conversations/{id}", d.getConversation)
	r.Get("/conversations/{id}/messages", d.listConversationMessages)
	r.Post("/conversations/{id}/takeover", d.takeoverConversation)
	r.Post("/conversations/{id}/release", d.releaseConversation)
	r.Post("/conversations/{id}/reply", d.replyConversation)

	// Service request endpoints
	r.Get("/requests/{id}", d.getRequest)
	r.Post("/requests/{id}/status", d.updateRequestStatus)
	r.Get("/requests/{id}/events", d.listRequestEvents)
	r.Post("/requests/{id}/dispatch", d.dispatchRequest)
	r.Post("/requests/{id}/payment", d.updateRequestPayment)
	r.Get("/requests/{id}/offers", d.listOffers)

	// Offer endpoints
	r.Post("/offers", d.submitOffer)
	r.Get("/offers/{id}", d.getOffer)
	r.Post("/offers/{id}/approve", d.approveOffer)
	r.Post("/offers/{id}/reject", d.rejectOffer)
	r.Post("/offers/{id}/send", d.sendOffer)

	// Dispatch receipts
	r.Post("/requests/{id}/dispatches/{providerId}/viewed", d.markDispatchViewed)

	// WebSocket endpoint
	r.Get("/ws", d.wsHandler)

	return r
}
