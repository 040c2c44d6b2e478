package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

// Conversation represents a conversation row
type Conversation struct {
	ID                string
	ChannelAddress    string
	Mode              string
	ModeChangedAt     *time.Time
	FirstTakeoverAt   *time.Time
	FirstHumanReplyAt *time.Time
	LastInboundAt     *time.Time
	LastOutboundAt    *time.Time
	LastPreview       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const conversationCols = `id, channel_address, mode, mode_changed_at, first_takeover_at,
	first_human_reply_at, last_inbound_at, last_outbound_at, last_preview, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.ChannelAddress, &c.Mode, &c.ModeChangedAt, &c.FirstTakeoverAt,
		&c.FirstHumanReplyAt, &c.LastInboundAt, &c.LastOutboundAt, &c.LastPreview,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (q *Queries) GetConversationByID(ctx context.Context, id string) (Conversation, error) {
	return scanConversation(q.Pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id))
}

func (q *Queries) GetConversationByAddress(ctx context.Context, address string) (Conversation, error) {
	return scanConversation(q.Pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE channel_address = $1`, address))
}

func (q *Queries) CreateConversation(ctx context.Context, id, address string) (Conversation, error) {
	return scanConversation(q.Pool.QueryRow(ctx,
		`INSERT INTO conversations (id, channel_address)
		VALUES ($1, $2)
		ON CONFLICT (channel_address) DO UPDATE SET updated_at = NOW()
		RETURNING `+conversationCols, id, address))
}

// SetConversationMode flips the mode and stamps first_takeover_at exactly once
func (q *Queries) SetConversationMode(ctx context.Context, id, mode string) (Conversation, error) {
	return scanConversation(q.Pool.QueryRow(ctx,
		`UPDATE conversations
		SET mode = $2,
			mode_changed_at = NOW(),
			first_takeover_at = CASE WHEN $2 = 'HUMAN' AND first_takeover_at IS NULL THEN NOW() ELSE first_takeover_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+conversationCols, id, mode))
}

func (q *Queries) MarkFirstHumanReply(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE conversations
		SET first_human_reply_at = COALESCE(first_human_reply_at, NOW()), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (q *Queries) TouchConversationInbound(ctx context.Context, id, preview string) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE conversations
		SET last_inbound_at = NOW(), last_preview = $2, updated_at = NOW()
		WHERE id = $1`, id, preview)
	return err
}

func (q *Queries) TouchConversationOutbound(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE conversations SET last_outbound_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

// Message represents a message row
type Message struct {
	ID                string
	ConversationID    string
	Direction         string
	Status            string
	ProviderMessageID *string
	Body              string
	Metadata          map[string]interface{}
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}

const messageCols = `id, conversation_id, direction, status, provider_message_id,
	body, metadata, processed_at, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Direction, &m.Status, &m.ProviderMessageID,
		&m.Body, &m.Metadata, &m.ProcessedAt, &m.CreatedAt,
	)
	return m, err
}

type CreateMessageParams struct {
	ID                string
	ConversationID    string
	Direction         string
	Status            string
	ProviderMessageID *string
	Body              string
	Metadata          map[string]interface{}
}

func (q *Queries) CreateMessage(ctx context.Context, p CreateMessageParams) (Message, error) {
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	return scanMessage(q.Pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, direction, status, provider_message_id, body, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+messageCols,
		p.ID, p.ConversationID, p.Direction, p.Status, p.ProviderMessageID, p.Body, p.Metadata))
}

// GetMessageByProviderID looks an inbound message up by the idempotency
// key. Outbound rows can carry the channel's ids too; they never count as
// a prior delivery.
func (q *Queries) GetMessageByProviderID(ctx context.Context, conversationID, providerMessageID string) (Message, error) {
	return scanMessage(q.Pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1 AND provider_message_id = $2 AND direction = 'INBOUND'`,
		conversationID, providerMessageID))
}

// GetLatestInboundMessage is the defensive fallback when the provider id is missing
func (q *Queries) GetLatestInboundMessage(ctx context.Context, conversationID string) (Message, error) {
	return scanMessage(q.Pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1 AND direction = 'INBOUND'
		ORDER BY created_at DESC
		LIMIT 1`, conversationID))
}

// MarkMessageProcessed stamps processed_at only if the message is not already
// processed; the returned row count is the idempotency guard.
func (q *Queries) MarkMessageProcessed(ctx context.Context, id string) (bool, error) {
	result, err := q.Pool.Exec(ctx,
		`UPDATE messages
		SET status = 'processed', processed_at = NOW()
		WHERE id = $1 AND status <> 'processed'`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (q *Queries) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
