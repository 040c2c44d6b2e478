package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"concierge/internal/db"
	"concierge/internal/llm"
	"concierge/internal/model"
)

// wfStore is an in-memory Store mirroring the SQL state guards: approve,
// reject and mark-sent update zero rows when the offer is not in the
// required state, surfacing as pgx.ErrNoRows.
type wfStore struct {
	mu            sync.Mutex
	requests      map[string]db.ServiceRequest
	events        []db.StatusEvent
	dispatches    map[string]db.Dispatch
	offers        map[string]db.Offer
	conversations map[string]db.Conversation
	messages      []db.Message
}

func newWfStore() *wfStore {
	return &wfStore{
		requests:      map[string]db.ServiceRequest{},
		dispatches:    map[string]db.Dispatch{},
		offers:        map[string]db.Offer{},
		conversations: map[string]db.Conversation{},
	}
}

func dispatchKey(requestID, providerID string) string {
	return requestID + "/" + providerID
}

func (s *wfStore) CreateServiceRequest(ctx context.Context, p db.CreateRequestParams) (db.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r := db.ServiceRequest{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		Category:       p.Category,
		City:           p.City,
		Status:         p.Status,
		BundleKey:      p.BundleKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.requests[p.ID] = r
	return r, nil
}

func (s *wfStore) GetServiceRequestByID(ctx context.Context, id string) (db.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[id]; ok {
		return r, nil
	}
	return db.ServiceRequest{}, pgx.ErrNoRows
}

func (s *wfStore) UpdateRequestStatus(ctx context.Context, id, status string) (db.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return db.ServiceRequest{}, pgx.ErrNoRows
	}
	now := time.Now()
	r.Status = status
	r.LastActionAt = &now
	r.UpdatedAt = now
	s.requests[id] = r
	return r, nil
}

func (s *wfStore) UpdateRequestPayment(ctx context.Context, id string, total, paid float64, fullyPaid *bool) (db.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return db.ServiceRequest{}, pgx.ErrNoRows
	}
	r.TotalAmount = total
	r.PaidAmount = paid
	r.DueAmount = total - paid
	if r.DueAmount < 0 {
		r.DueAmount = 0
	}
	if fullyPaid != nil {
		r.IsFullyPaid = *fullyPaid
	} else {
		r.IsFullyPaid = total > 0 && r.DueAmount == 0
	}
	r.UpdatedAt = time.Now()
	s.requests[id] = r
	return r, nil
}

func (s *wfStore) MarkRequestFirstApproval(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if r.FirstApprovalAt == nil {
		now := time.Now()
		r.FirstApprovalAt = &now
		s.requests[id] = r
	}
	return nil
}

func (s *wfStore) ListRequestsByConversation(ctx context.Context, conversationID string) ([]db.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.ServiceRequest
	for _, r := range s.requests {
		if r.ConversationID != nil && *r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *wfStore) AppendStatusEvent(ctx context.Context, id, requestID, from, to, note, actor string) (db.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := db.StatusEvent{
		ID: id, RequestID: requestID, StatusFrom: from, StatusTo: to,
		Note: note, Actor: actor, CreatedAt: time.Now(),
	}
	s.events = append(s.events, e)
	return e, nil
}

func (s *wfStore) ListStatusEvents(ctx context.Context, requestID string) ([]db.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.StatusEvent
	for _, e := range s.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *wfStore) UpsertDispatch(ctx context.Context, requestID, providerID string) (db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatchKey(requestID, providerID)
	d, ok := s.dispatches[key]
	if !ok {
		d = db.Dispatch{RequestID: requestID, ProviderID: providerID, Status: string(model.DispatchSent)}
	}
	d.SentAt = time.Now()
	s.dispatches[key] = d
	return d, nil
}

func (s *wfStore) GetDispatch(ctx context.Context, requestID, providerID string) (db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dispatches[dispatchKey(requestID, providerID)]; ok {
		return d, nil
	}
	return db.Dispatch{}, pgx.ErrNoRows
}

func (s *wfStore) UpdateDispatchStatus(ctx context.Context, requestID, providerID, status string) (db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatchKey(requestID, providerID)
	d, ok := s.dispatches[key]
	if !ok {
		return db.Dispatch{}, pgx.ErrNoRows
	}
	now := time.Now()
	d.Status = status
	switch status {
	case string(model.DispatchViewed):
		d.ViewedAt = &now
	case string(model.DispatchResponded):
		d.RespondedAt = &now
	}
	s.dispatches[key] = d
	return d, nil
}

func (s *wfStore) ListDispatches(ctx context.Context, requestID string) ([]db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Dispatch
	for _, d := range s.dispatches {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *wfStore) CreateOffer(ctx context.Context, p db.CreateOfferParams) (db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	now := time.Now()
	o := db.Offer{
		ID: p.ID, RequestID: p.RequestID, ProviderID: p.ProviderID,
		Status: string(model.OfferSubmitted), Note: p.Note, Payload: p.Payload,
		CreatedAt: now, UpdatedAt: now,
	}
	s.offers[p.ID] = o
	return o, nil
}

func (s *wfStore) GetOfferByID(ctx context.Context, id string) (db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offers[id]; ok {
		return o, nil
	}
	return db.Offer{}, pgx.ErrNoRows
}

func (s *wfStore) ApproveOffer(ctx context.Context, id, approvedBy string) (db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Status != string(model.OfferSubmitted) {
		return db.Offer{}, pgx.ErrNoRows
	}
	now := time.Now()
	o.Status = string(model.OfferApproved)
	o.ApprovedBy = &approvedBy
	o.ApprovedAt = &now
	o.UpdatedAt = now
	s.offers[id] = o
	return o, nil
}

func (s *wfStore) RejectOffer(ctx context.Context, id, reason string) (db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Status != string(model.OfferSubmitted) {
		return db.Offer{}, pgx.ErrNoRows
	}
	o.Status = string(model.OfferRejected)
	o.RejectionReason = &reason
	o.UpdatedAt = time.Now()
	s.offers[id] = o
	return o, nil
}

func (s *wfStore) MarkOfferSent(ctx context.Context, id string) (db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Status != string(model.OfferApproved) {
		return db.Offer{}, pgx.ErrNoRows
	}
	now := time.Now()
	o.Status = string(model.OfferSentToUser)
	o.SentAt = &now
	o.UpdatedAt = now
	s.offers[id] = o
	return o, nil
}

func (s *wfStore) ListOffers(ctx context.Context, requestID string) ([]db.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Offer
	for _, o := range s.offers {
		if o.RequestID == requestID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *wfStore) GetConversationByID(ctx context.Context, id string) (db.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return c, nil
	}
	return db.Conversation{}, pgx.ErrNoRows
}

func (s *wfStore) CreateMessage(ctx context.Context, p db.CreateMessageParams) (db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := db.Message{
		ID: p.ID, ConversationID: p.ConversationID, Direction: p.Direction,
		Status: p.Status, Body: p.Body, Metadata: p.Metadata, CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *wfStore) TouchConversationOutbound(ctx context.Context, id string) error {
	return nil
}

type scriptedLLM struct {
	content string
	err     error
	calls   int
}

func (f *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *scriptedLLM) Name() string { return "scripted" }

type recordingSender struct {
	texts []string
	err   error
}

func (r *recordingSender) SendText(ctx context.Context, address, text string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.texts = append(r.texts, text)
	return "out-1", nil
}

type wfJobs struct{ notified []string }

func (j *wfJobs) EnqueueDispatchNotify(requestID string) error {
	j.notified = append(j.notified, requestID)
	return nil
}

type wfBus struct{}

func (wfBus) PublishRequest(requestID string, event map[string]interface{}) error { return nil }

type wfEnv struct {
	svc    *Service
	store  *wfStore
	llm    *scriptedLLM
	sender *recordingSender
	jobs   *wfJobs
}

func newWfEnv() *wfEnv {
	store := newWfStore()
	scripted := &scriptedLLM{err: errors.New("llm offline")}
	sender := &recordingSender{}
	jobs := &wfJobs{}
	svc := NewService(store, NewPayloadValidator(), sender, scripted, "test-model", jobs, wfBus{}, zap.NewNop())
	return &wfEnv{svc: svc, store: store, llm: scripted, sender: sender, jobs: jobs}
}

func (e *wfEnv) openRequest(t *testing.T, category string, withConversation bool) model.ServiceRequest {
	t.Helper()
	convID := ""
	if withConversation {
		convID = fmt.Sprintf("conv-%d", len(e.store.conversations)+1)
		e.store.conversations[convID] = db.Conversation{ID: convID, ChannelAddress: "+8613800001000"}
	}
	req, err := e.svc.OpenFromConversation(context.Background(), convID, category, "guangzhou")
	require.NoError(t, err)
	return req
}

func (e *wfEnv) submitOffer(t *testing.T, requestID string, payload map[string]interface{}) model.ProviderOffer {
	t.Helper()
	if payload == nil {
		payload = validBasePayload()
	}
	offer, err := e.svc.SubmitOffer(context.Background(), requestID, "prov-1", "", payload)
	require.NoError(t, err)
	return offer
}

func TestOpenFromConversationAuditsCreation(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "transport", true)

	assert.Equal(t, "open", req.Status)

	events, err := e.svc.StatusEvents(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].StatusFrom)
	assert.Equal(t, "open", events[0].StatusTo)
	assert.Equal(t, "system", events[0].Actor)
}

func TestUpdateStatusAppendsAuditTrail(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "transport", false)

	updated, err := e.svc.UpdateStatus(context.Background(), req.ID, "quoting", "sent to 3 providers", "alice")
	require.NoError(t, err)
	assert.Equal(t, "quoting", updated.Status)

	events, err := e.svc.StatusEvents(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "open", events[1].StatusFrom)
	assert.Equal(t, "quoting", events[1].StatusTo)
	assert.Equal(t, "alice", events[1].Actor)
	assert.Equal(t, "sent to 3 providers", events[1].Note)

	_, err = e.svc.UpdateStatus(context.Background(), "missing", "quoting", "", "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.UpdateStatus(context.Background(), req.ID, "", "", "alice")
	assert.Error(t, err)
}

func TestUpdatePayment(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "tour", false)

	updated, err := e.svc.UpdatePayment(context.Background(), req.ID, 1000, 400, nil)
	require.NoError(t, err)
	assert.Equal(t, 600.0, updated.DueAmount)
	assert.False(t, updated.IsFullyPaid)

	updated, err = e.svc.UpdatePayment(context.Background(), req.ID, 1000, 1000, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.DueAmount)
	assert.True(t, updated.IsFullyPaid, "due hitting zero flips the flag")

	// Overpayment clamps due at zero.
	updated, err = e.svc.UpdatePayment(context.Background(), req.ID, 1000, 1200, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.DueAmount)

	// A pinned flag wins over the computed one.
	pinned := false
	updated, err = e.svc.UpdatePayment(context.Background(), req.ID, 1000, 1000, &pinned)
	require.NoError(t, err)
	assert.False(t, updated.IsFullyPaid)

	_, err = e.svc.UpdatePayment(context.Background(), req.ID, -1, 0, nil)
	assert.Error(t, err)
	_, err = e.svc.UpdatePayment(context.Background(), req.ID, 100, -5, nil)
	assert.Error(t, err)
}

func TestDispatchUpsertsPerProvider(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "transport", false)

	out, err := e.svc.Dispatch(context.Background(), req.ID, []string{"prov-1", "prov-2"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []string{req.ID}, e.jobs.notified)

	before, err := e.store.GetDispatch(context.Background(), req.ID, "prov-1")
	require.NoError(t, err)

	// Re-dispatch refreshes, never duplicates.
	time.Sleep(2 * time.Millisecond)
	out, err = e.svc.Dispatch(context.Background(), req.ID, []string{"prov-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)

	all, err := e.store.ListDispatches(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	after, err := e.store.GetDispatch(context.Background(), req.ID, "prov-1")
	require.NoError(t, err)
	assert.True(t, after.SentAt.After(before.SentAt))

	_, err = e.svc.Dispatch(context.Background(), req.ID, nil)
	assert.Error(t, err)
	_, err = e.svc.Dispatch(context.Background(), "missing", []string{"prov-1"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDispatchLifecycleForwardOnly(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "transport", false)
	_, err := e.svc.Dispatch(context.Background(), req.ID, []string{"prov-1"})
	require.NoError(t, err)

	d, err := e.svc.MarkViewed(context.Background(), req.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.DispatchViewed, d.Status)
	require.NotNil(t, d.ViewedAt)

	// Viewed never goes back to sent, and viewed twice is a conflict.
	_, err = e.svc.MarkViewed(context.Background(), req.ID, "prov-1")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	d, err = e.svc.MarkResponded(context.Background(), req.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.DispatchResponded, d.Status)

	_, err = e.svc.MarkViewed(context.Background(), req.ID, "prov-1")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = e.svc.MarkViewed(context.Background(), req.ID, "prov-9")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmitOfferRejectsInvalidPayload(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "hotel", false)

	// Hotel offers need stay dates; the base fields alone are not enough.
	_, err := e.svc.SubmitOffer(context.Background(), req.ID, "prov-1", "", validBasePayload())
	require.ErrorIs(t, err, ErrInvalidPayload)

	offers, listErr := e.svc.Offers(context.Background(), req.ID)
	require.NoError(t, listErr)
	assert.Empty(t, offers, "nothing is stored on validation failure")
}

func TestSubmitOfferAdvancesDispatch(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "transport", false)
	_, err := e.svc.Dispatch(context.Background(), req.ID, []string{"prov-1"})
	require.NoError(t, err)

	payload := validBasePayload()
	payload["pickupAt"] = "2026-09-10T08:30:00+08:00"
	offer, err := e.svc.SubmitOffer(context.Background(), req.ID, "prov-1", "can do 450", payload)
	require.NoError(t, err)
	assert.Equal(t, model.OfferSubmitted, offer.Status)

	d, err := e.store.GetDispatch(context.Background(), req.ID, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, string(model.DispatchResponded), d.Status)
}

func TestSubmitOfferWithoutDispatchStillWorks(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", false)

	offer, err := e.svc.SubmitOffer(context.Background(), req.ID, "prov-1", "", validBasePayload())
	require.NoError(t, err)
	assert.Equal(t, model.OfferSubmitted, offer.Status)
}

func TestApproveStampsFirstApprovalOnce(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", false)
	first := e.submitOffer(t, req.ID, nil)
	second := e.submitOffer(t, req.ID, nil)

	approved, err := e.svc.Approve(context.Background(), first.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.OfferApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "alice", *approved.ApprovedBy)

	stored, err := e.svc.Request(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FirstApprovalAt)
	stamp := *stored.FirstApprovalAt

	time.Sleep(2 * time.Millisecond)
	_, err = e.svc.Approve(context.Background(), second.ID, "bob")
	require.NoError(t, err)

	stored, err = e.svc.Request(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, stamp, *stored.FirstApprovalAt, "later approvals never move the stamp")
}

func TestOfferStateMachine(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", false)

	// Approving twice is a conflict.
	offer := e.submitOffer(t, req.ID, nil)
	_, err := e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), offer.ID, "bob")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	// Rejecting an approved offer is a conflict.
	_, err = e.svc.Reject(context.Background(), offer.ID, "too pricey")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	// A rejected offer is terminal.
	rejected := e.submitOffer(t, req.ID, nil)
	_, err = e.svc.Reject(context.Background(), rejected.ID, "too pricey")
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), rejected.ID, "alice")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	got, err := e.svc.Offer(context.Background(), rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "too pricey", *got.RejectionReason)

	_, err = e.svc.Approve(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSendToUserRequiresApproval(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", true)
	offer := e.submitOffer(t, req.ID, nil)

	_, err := e.svc.SendToUser(context.Background(), offer.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Empty(t, e.sender.texts)
}

func TestSendToUserDeliversAndRecords(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", true)
	offer := e.submitOffer(t, req.ID, nil)
	_, err := e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	sent, err := e.svc.SendToUser(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferSentToUser, sent.Status)
	require.NotNil(t, sent.SentAt)

	require.Len(t, e.sender.texts, 1)
	// The scripted completion client is failing, so the template renders.
	assert.Contains(t, e.sender.texts[0], "450.00 CNY")

	require.Len(t, e.store.messages, 1)
	assert.Equal(t, string(model.DirectionOutbound), e.store.messages[0].Direction)
	assert.Equal(t, offer.ID, e.store.messages[0].Metadata["offerId"])

	// Sending again is a conflict.
	_, err = e.svc.SendToUser(context.Background(), offer.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Len(t, e.sender.texts, 1)
}

func TestSendToUserUnresolvedConversation(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", false)
	offer := e.submitOffer(t, req.ID, nil)
	_, err := e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	_, err = e.svc.SendToUser(context.Background(), offer.ID)
	assert.ErrorIs(t, err, model.ErrConversationUnresolved)
	assert.Empty(t, e.sender.texts, "no side effects when the conversation cannot be resolved")

	got, getErr := e.svc.Offer(context.Background(), offer.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.OfferApproved, got.Status, "the offer stays sendable")
}

func TestSendToUserSendFailureKeepsOfferApproved(t *testing.T) {
	e := newWfEnv()
	e.sender.err = errors.New("channel down")
	req := e.openRequest(t, "shopping", true)
	offer := e.submitOffer(t, req.ID, nil)
	_, err := e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	_, err = e.svc.SendToUser(context.Background(), offer.ID)
	require.Error(t, err)

	got, getErr := e.svc.Offer(context.Background(), offer.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.OfferApproved, got.Status)
	assert.Empty(t, e.store.messages)
}

func TestSendToUserStripsContactDetails(t *testing.T) {
	e := newWfEnv()
	req := e.openRequest(t, "shopping", true)

	payload := validBasePayload()
	payload["description"] = "Call me at +86 138 0000 1234 or mail deals@provider.example.com, see www.provider.example"
	offer := e.submitOffer(t, req.ID, payload)
	_, err := e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	_, err = e.svc.SendToUser(context.Background(), offer.ID)
	require.NoError(t, err)

	require.Len(t, e.sender.texts, 1)
	text := e.sender.texts[0]
	assert.NotContains(t, text, "138 0000 1234")
	assert.NotContains(t, text, "@provider.example.com")
	assert.NotContains(t, text, "www.provider.example")
	assert.Contains(t, text, "450.00 CNY", "prices survive the stripping")
}

func TestSendToUserUsesDistilledNote(t *testing.T) {
	e := newWfEnv()
	e.llm.err = nil
	e.llm.content = "We found you a great deal at 450 CNY - shall we book it?"

	req := e.openRequest(t, "shopping", true)
	offer, err := e.svc.SubmitOffer(context.Background(), req.ID, "prov-1", "450 kuai, pickup included", validBasePayload())
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	_, err = e.svc.SendToUser(context.Background(), offer.ID)
	require.NoError(t, err)

	require.Len(t, e.sender.texts, 1)
	assert.Equal(t, "We found you a great deal at 450 CNY - shall we book it?", e.sender.texts[0])
	assert.Equal(t, 1, e.llm.calls)
}

func TestStripContactDetails(t *testing.T) {
	assert.Equal(t, "Total is 12,000.00 CNY for the group.",
		stripContactDetails("Total is 12,000.00 CNY for the group."))

	out := stripContactDetails("WhatsApp +8613800001234 or sales@shop.cn, details at https://shop.cn/offer")
	assert.NotContains(t, out, "13800001234")
	assert.NotContains(t, out, "sales@shop.cn")
	assert.NotContains(t, out, "shop.cn/offer")
}
