package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"concierge/internal/db"
	"concierge/internal/model"
)

func conversationToModel(c db.Conversation) model.Conversation {
	return model.Conversation{
		ID:                c.ID,
		ChannelAddress:    c.ChannelAddress,
		Mode:              model.ConversationMode(c.Mode),
		ModeChangedAt:     fmtTimePtr(c.ModeChangedAt),
		FirstTakeoverAt:   fmtTimePtr(c.FirstTakeoverAt),
		FirstHumanReplyAt: fmtTimePtr(c.FirstHumanReplyAt),
		LastInboundAt:     fmtTimePtr(c.LastInboundAt),
		LastOutboundAt:    fmtTimePtr(c.LastOutboundAt),
		LastPreview:       c.LastPreview,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         c.UpdatedAt.Format(time.RFC3339),
	}
}

func messageToModel(m db.Message) model.Message {
	out := model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      model.Direction(m.Direction),
		Status:         model.MessageStatus(m.Status),
		Body:           m.Body,
		Metadata:       m.Metadata,
		ProcessedAt:    fmtTimePtr(m.ProcessedAt),
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
	if m.ProviderMessageID != nil {
		out.ProviderMessageID = *m.ProviderMessageID
	}
	return out
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (d Dependencies) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := d.Gateway.Conversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, conversationToModel(conv))
}

func (d Dependencies) listConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := d.Gateway.History(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}

	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageToModel(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

func (d Dependencies) takeoverConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := d.Gateway.Takeover(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, conversationToModel(conv))
}

func (d Dependencies) releaseConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := d.Gateway.Release(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, conversationToModel(conv))
}

type replyRequest struct {
	Text string `json:"text"`
}

func (d Dependencies) replyConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Reply text is required", d.Log)
		return
	}

	msg, err := d.Gateway.HumanReply(r.Context(), id, req.Text)
	if err != nil {
		writeDomainError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, messageToModel(msg))
}
