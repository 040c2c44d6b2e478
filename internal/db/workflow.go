package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ServiceRequest represents a service_requests row
type ServiceRequest struct {
	ID              string
	ConversationID  *string
	Category        string
	City            string
	Status          string
	BundleKey       *string
	TotalAmount     float64
	PaidAmount      float64
	DueAmount       float64
	IsFullyPaid     bool
	FirstApprovalAt *time.Time
	LastActionAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const requestCols = `id, conversation_id, category, city, status, bundle_key,
	total_amount, paid_amount, due_amount, is_fully_paid,
	first_approval_at, last_action_at, created_at, updated_at`

func scanRequest(row pgx.Row) (ServiceRequest, error) {
	var r ServiceRequest
	err := row.Scan(
		&r.ID, &r.ConversationID, &r.Category, &r.City, &r.Status, &r.BundleKey,
		&r.TotalAmount, &r.PaidAmount, &r.DueAmount, &r.IsFullyPaid,
		&r.FirstApprovalAt, &r.LastActionAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

type CreateRequestParams struct {
	ID             string
	ConversationID *string
	Category       string
	City           string
	Status         string
	BundleKey      *string
}

func (q *Queries) CreateServiceRequest(ctx context.Context, p CreateRequestParams) (ServiceRequest, error) {
	return scanRequest(q.Pool.QueryRow(ctx,
		`INSERT INTO service_requests (id, conversation_id, category, city, status, bundle_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+requestCols,
		p.ID, p.ConversationID, p.Category, p.City, p.Status, p.BundleKey))
}

func (q *Queries) GetServiceRequestByID(ctx context.Context, id string) (ServiceRequest, error) {
	return scanRequest(q.Pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM service_requests WHERE id = $1`, id))
}

func (q *Queries) UpdateRequestStatus(ctx context.Context, id, status string) (ServiceRequest, error) {
	return scanRequest(q.Pool.QueryRow(ctx,
		`UPDATE service_requests
		SET status = $2, last_action_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+requestCols, id, status))
}

// UpdateRequestPayment recomputes due_amount and flips is_fully_paid when due
// hits zero unless the caller pins the flag explicitly.
func (q *Queries) UpdateRequestPayment(ctx context.Context, id string, total, paid float64, fullyPaid *bool) (ServiceRequest, error) {
	return scanRequest(q.Pool.QueryRow(ctx,
		`UPDATE service_requests
		SET total_amount = $2,
			paid_amount = $3,
			due_amount = GREATEST(0, $2 - $3),
			is_fully_paid = COALESCE($4, GREATEST(0, $2 - $3) = 0),
			last_action_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+requestCols, id, total, paid, fullyPaid))
}

// MarkRequestFirstApproval stamps first_approval_at exactly once
func (q *Queries) MarkRequestFirstApproval(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE service_requests
		SET first_approval_at = COALESCE(first_approval_at, NOW()),
			last_action_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (q *Queries) ListRequestsByConversation(ctx context.Context, conversationID string) ([]ServiceRequest, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+requestCols+` FROM service_requests
		WHERE conversation_id = $1
		ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// StatusEvent represents a request_status_events row
type StatusEvent struct {
	ID         string
	RequestID  string
	StatusFrom string
	StatusTo   string
	Note       string
	Actor      string
	CreatedAt  time.Time
}

func (q *Queries) AppendStatusEvent(ctx context.Context, id, requestID, from, to, note, actor string) (StatusEvent, error) {
	var e StatusEvent
	err := q.Pool.QueryRow(ctx,
		`INSERT INTO request_status_events (id, request_id, status_from, status_to, note, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, request_id, status_from, status_to, note, actor, created_at`,
		id, requestID, from, to, note, actor,
	).Scan(&e.ID, &e.RequestID, &e.StatusFrom, &e.StatusTo, &e.Note, &e.Actor, &e.CreatedAt)
	return e, err
}

func (q *Queries) ListStatusEvents(ctx context.Context, requestID string) ([]StatusEvent, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, request_id, status_from, status_to, note, actor, created_at
		FROM request_status_events
		WHERE request_id = $1
		ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(&e.ID, &e.RequestID, &e.StatusFrom, &e.StatusTo, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Dispatch represents a provider_dispatches row
type Dispatch struct {
	RequestID   string
	ProviderID  string
	Status      string
	SentAt      time.Time
	ViewedAt    *time.Time
	RespondedAt *time.Time
}

const dispatchCols = `request_id, provider_id, status, sent_at, viewed_at, responded_at`

func scanDispatch(row pgx.Row) (Dispatch, error) {
	var d Dispatch
	err := row.Scan(&d.RequestID, &d.ProviderID, &d.Status, &d.SentAt, &d.ViewedAt, &d.RespondedAt)
	return d, err
}

// UpsertDispatch creates or refreshes the (request, provider) dispatch row.
// Re-dispatching an already-notified provider updates sent_at, never duplicates.
func (q *Queries) UpsertDispatch(ctx context.Context, requestID, providerID string) (Dispatch, error) {
	return scanDispatch(q.Pool.QueryRow(ctx,
		`INSERT INTO provider_dispatches (request_id, provider_id, status, sent_at)
		VALUES ($1, $2, 'sent', NOW())
		ON CONFLICT (request_id, provider_id)
		DO UPDATE SET sent_at = NOW()
		RETURNING `+dispatchCols, requestID, providerID))
}

func (q *Queries) GetDispatch(ctx context.Context, requestID, providerID string) (Dispatch, error) {
	return scanDispatch(q.Pool.QueryRow(ctx,
		`SELECT `+dispatchCols+` FROM provider_dispatches
		WHERE request_id = $1 AND provider_id = $2`, requestID, providerID))
}

func (q *Queries) UpdateDispatchStatus(ctx context.Context, requestID, providerID, status string) (Dispatch, error) {
	return scanDispatch(q.Pool.QueryRow(ctx,
		`UPDATE provider_dispatches
		SET status = $3,
			viewed_at = CASE WHEN $3 = 'viewed' THEN COALESCE(viewed_at, NOW()) ELSE viewed_at END,
			responded_at = CASE WHEN $3 = 'responded' THEN COALESCE(responded_at, NOW()) ELSE responded_at END
		WHERE request_id = $1 AND provider_id = $2
		RETURNING `+dispatchCols, requestID, providerID, status))
}

func (q *Queries) ListDispatches(ctx context.Context, requestID string) ([]Dispatch, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+dispatchCols+` FROM provider_dispatches
		WHERE request_id = $1
		ORDER BY sent_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dispatches []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, rows.Err()
}

// Offer represents a provider_offers row
type Offer struct {
	ID              string
	RequestID       string
	ProviderID      string
	Status          string
	Note            string
	Payload         map[string]interface{}
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectionReason *string
	SentAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const offerCols = `id, request_id, provider_id, status, note, payload,
	approved_by, approved_at, rejection_reason, sent_at, created_at, updated_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(
		&o.ID, &o.RequestID, &o.ProviderID, &o.Status, &o.Note, &o.Payload,
		&o.ApprovedBy, &o.ApprovedAt, &o.RejectionReason, &o.SentAt, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

type CreateOfferParams struct {
	ID         string
	RequestID  string
	ProviderID string
	Note       string
	Payload    map[string]interface{}
}

func (q *Queries) CreateOffer(ctx context.Context, p CreateOfferParams) (Offer, error) {
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	return scanOffer(q.Pool.QueryRow(ctx,
		`INSERT INTO provider_offers (id, request_id, provider_id, status, note, payload)
		VALUES ($1, $2, $3, 'submitted', $4, $5)
		RETURNING `+offerCols,
		p.ID, p.RequestID, p.ProviderID, p.Note, p.Payload))
}

func (q *Queries) GetOfferByID(ctx context.Context, id string) (Offer, error) {
	return scanOffer(q.Pool.QueryRow(ctx,
		`SELECT `+offerCols+` FROM provider_offers WHERE id = $1`, id))
}

// ApproveOffer moves submitted -> approved guarded in SQL; zero rows means
// the offer was not in the required state.
func (q *Queries) ApproveOffer(ctx context.Context, id, approvedBy string) (Offer, error) {
	return scanOffer(q.Pool.QueryRow(ctx,
		`UPDATE provider_offers
		SET status = 'approved', approved_by = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING `+offerCols, id, approvedBy))
}

func (q *Queries) RejectOffer(ctx context.Context, id, reason string) (Offer, error) {
	return scanOffer(q.Pool.QueryRow(ctx,
		`UPDATE provider_offers
		SET status = 'rejected', rejection_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING `+offerCols, id, reason))
}

func (q *Queries) MarkOfferSent(ctx context.Context, id string) (Offer, error) {
	return scanOffer(q.Pool.QueryRow(ctx,
		`UPDATE provider_offers
		SET status = 'sent_to_user', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
		RETURNING `+offerCols, id))
}

func (q *Queries) ListOffers(ctx context.Context, requestID string) ([]Offer, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+offerCols+` FROM provider_offers
		WHERE request_id = $1
		ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}
