package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"concierge/internal/gateway"
)

// WebhookMessage is the channel provider's delivery shape.
type WebhookMessage struct {
	From              string   `json:"from"`
	ProviderMessageID string   `json:"providerMessageId"`
	Text              string   `json:"text"`
	Attachments       []string `json:"attachments,omitempty"`
}

// webhookMessage ingests one channel delivery. The provider always gets
// 200 back once the payload parses; processing failures are ours to log
// and retry, not the provider's.
func (d Dependencies) webhookMessage(w http.ResponseWriter, r *http.Request) {
	var msg WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid webhook body", d.Log)
		return
	}
	if msg.From == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Missing sender address", d.Log)
		return
	}

	in := gateway.InboundMessage{
		From:              msg.From,
		ProviderMessageID: msg.ProviderMessageID,
		Text:              msg.Text,
	}
	if len(msg.Attachments) > 0 {
		in.ImageURL = msg.Attachments[0]
	}

	if err := d.Gateway.HandleInbound(r.Context(), in); err != nil {
		d.Log.Error("Inbound processing failed",
			zap.String("from", msg.From),
			zap.String("provider_message_id", msg.ProviderMessageID),
			zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
