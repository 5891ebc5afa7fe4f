package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carelink/internal/config"
	"carelink/internal/models"
	"carelink/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		Verification: config.VerificationConfig{
			CodeLength:          6,
			CodeTTL:             10 * time.Minute,
			RequireCodeOnAccept: true,
		},
		Retry: config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	RecipientID uint
	EventType   EventType
}

func (s *recordingSink) Notify(recipientID uint, eventType EventType, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{RecipientID: recipientID, EventType: eventType})
}

func (s *recordingSink) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func seedUser(t *testing.T, tx storage.TxManager, name, email, phone string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{Name: name, Email: email, Phone: phone, Role: role, PasswordHash: "x", IsActive: true}
	require.NoError(t, tx.Repos().Users.Create(context.Background(), user))
	return user
}

type requestFixture struct {
	tx        storage.TxManager
	svc       *RequestService
	graph     *GraphService
	sink      *recordingSink
	requester *models.User
	recipient *models.User
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()
	cfg := testConfig()
	tx := storage.NewMemoryTxManager()
	sink := &recordingSink{}
	logger := zap.NewNop()
	svc := NewRequestService(tx, NewCodeService(cfg.Verification), sink, cfg, logger)
	graph := NewGraphService(tx, nil, nil, cfg.Retry, logger)
	return &requestFixture{
		tx:        tx,
		svc:       svc,
		graph:     graph,
		sink:      sink,
		requester: seedUser(t, tx, "Asha", "asha@example.com", "1001", models.RolePatient),
		recipient: seedUser(t, tx, "Binod", "binod@example.com", "1002", models.RolePatient),
	}
}

func TestCreateRequestByEmail(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{Email: "binod@example.com"}, models.KindParent, "hello")
	require.NoError(t, err)

	assert.NotEmpty(t, request.RequestID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, models.ConnectByEmail, request.Method)
	assert.Equal(t, f.recipient.ID, request.ToID)
	assert.Len(t, request.Code, 6)
	assert.True(t, request.CodeExpiry.After(time.Now()))

	events := f.sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, EventRequestCreated, events[0].EventType)
	assert.Equal(t, f.recipient.ID, events[0].RecipientID)
}

func TestCreateRequestByPhone(t *testing.T) {
	f := newRequestFixture(t)

	request, err := f.svc.CreateRequest(context.Background(), f.requester.ID, RecipientRef{Phone: "1002"}, models.KindFriend, "")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectByPhone, request.Method)
	assert.Equal(t, f.recipient.ID, request.ToID)
}

func TestCreateRequestUnknownRecipient(t *testing.T) {
	f := newRequestFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), f.requester.ID, RecipientRef{Email: "nobody@example.com"}, models.KindFriend, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRequestToSelf(t *testing.T) {
	f := newRequestFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), f.requester.ID, RecipientRef{ID: f.requester.ID}, models.KindFriend, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateRequestAlreadyConnected(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	_, err := f.graph.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID:   f.requester.ID,
		PeerID:    f.recipient.ID,
		PeerEmail: f.recipient.Email,
		Kind:      models.KindFriend,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	assert.ErrorIs(t, err, ErrConflictExists)
}

func TestCreateRequestBlockedByRecipientSideEdge(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	// Only the recipient's graph holds the edge, as after a partial write
	// that the reconciler has not yet repaired. The pair still counts as
	// connected.
	_, err := f.graph.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID:   f.recipient.ID,
		PeerID:    f.requester.ID,
		PeerEmail: f.requester.Email,
		Kind:      models.KindChild,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindParent, "")
	assert.ErrorIs(t, err, ErrConflictExists)
}

func TestCreateRequestSupersedesPriorPending(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindParent, "")
	require.NoError(t, err)
	second, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindParent, "")
	require.NoError(t, err)

	reloaded, err := f.tx.Repos().Requests.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, reloaded.Status)

	// The older code is dead with its request; only the newer request is
	// pending for the recipient.
	pending, err := f.svc.GetPending(ctx, f.recipient.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.RequestID, pending[0].RequestID)
}

func TestAcceptCreatesMirroredEdges(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindParent, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, request.Code))

	reloaded, err := f.tx.Repos().Requests.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAccepted, reloaded.Status)

	// The requester asked to add a parent, so their edge carries the
	// requested kind and the recipient's carries the inverse.
	requesterEdges, err := f.graph.GetActiveEdges(ctx, f.requester.ID)
	require.NoError(t, err)
	require.Len(t, requesterEdges, 1)
	assert.Equal(t, models.KindParent, requesterEdges[0].Kind)
	assert.Equal(t, f.recipient.ID, requesterEdges[0].PeerID)
	assert.Equal(t, f.recipient.Email, requesterEdges[0].PeerEmail)
	assert.Equal(t, f.recipient.ID, requesterEdges[0].GrantedBy)

	recipientEdges, err := f.graph.GetActiveEdges(ctx, f.recipient.ID)
	require.NoError(t, err)
	require.Len(t, recipientEdges, 1)
	assert.Equal(t, models.KindChild, recipientEdges[0].Kind)
	assert.Equal(t, f.requester.ID, recipientEdges[0].PeerID)

	events := f.sink.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, EventRequestAccepted, events[1].EventType)
	assert.Equal(t, f.requester.ID, events[1].RecipientID)
}

func TestAcceptTwiceIsRejected(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindSpouse, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, request.Code))
	assert.ErrorIs(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, request.Code), ErrInvalidState)

	// The second call must not have materialized another edge pair.
	requesterEdges, err := f.graph.GetActiveEdges(ctx, f.requester.ID)
	require.NoError(t, err)
	assert.Len(t, requesterEdges, 1)
	recipientEdges, err := f.graph.GetActiveEdges(ctx, f.recipient.ID)
	require.NoError(t, err)
	assert.Len(t, recipientEdges, 1)
}

func TestAcceptByNonRecipient(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()
	intruder := seedUser(t, f.tx, "Chori", "chori@example.com", "1003", models.RolePatient)

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Accept(ctx, request.ID, intruder.ID, request.Code), ErrUnauthorized)
	assert.ErrorIs(t, f.svc.Accept(ctx, request.ID, f.requester.ID, request.Code), ErrUnauthorized)
}

func TestAcceptWrongCode(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)

	wrong := "000000"
	if request.Code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, wrong), ErrInvalidCode)

	// Still pending, still acceptable with the right code.
	require.NoError(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, request.Code))
}

func TestAcceptExpiredCode(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return request.CodeExpiry.Add(time.Minute) }
	assert.ErrorIs(t, f.svc.Accept(ctx, request.ID, f.recipient.ID, request.Code), ErrExpired)

	// Lazy expiry is persisted even though the accept aborted.
	reloaded, err := f.tx.Repos().Requests.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusExpired, reloaded.Status)

	edges, err := f.graph.GetActiveEdges(ctx, f.requester.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestAcceptWithoutCodeWhenPolicyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.RequireCodeOnAccept = false
	tx := storage.NewMemoryTxManager()
	svc := NewRequestService(tx, NewCodeService(cfg.Verification), NoopNotificationSink{}, cfg, zap.NewNop())
	requester := seedUser(t, tx, "Asha", "asha@example.com", "", models.RolePatient)
	recipient := seedUser(t, tx, "Binod", "binod@example.com", "", models.RolePatient)
	ctx := context.Background()

	request, err := svc.CreateRequest(ctx, requester.ID, RecipientRef{ID: recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)

	// The call is authenticated as the addressed recipient; with the policy
	// switched off no code is needed.
	require.NoError(t, svc.Accept(ctx, request.ID, recipient.ID, ""))
}

func TestGetPendingLazilyExpiresStaleRequests(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()
	other := seedUser(t, f.tx, "Chitra", "chitra@example.com", "1004", models.RolePatient)

	fresh, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)
	stale, err := f.svc.CreateRequest(ctx, other.ID, RecipientRef{ID: f.recipient.ID}, models.KindSibling, "")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return stale.CodeExpiry.Add(time.Minute) }
	// Keep the fresh one inside its window.
	freshReq, err := f.tx.Repos().Requests.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	freshReq.CodeExpiry = stale.CodeExpiry.Add(time.Hour)
	require.NoError(t, f.tx.Repos().Requests.Save(ctx, freshReq))

	pending, err := f.svc.GetPending(ctx, f.recipient.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.RequestID, pending[0].RequestID)
	require.NotNil(t, pending[0].Requester)
	assert.Equal(t, f.requester.Name, pending[0].Requester.Name)

	reloaded, err := f.tx.Repos().Requests.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusExpired, reloaded.Status)
}

func TestRejectFlipsStatusOnly(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Reject(ctx, request.ID, f.recipient.ID))

	reloaded, err := f.tx.Repos().Requests.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, reloaded.Status)

	for _, ownerID := range []uint{f.requester.ID, f.recipient.ID} {
		edges, err := f.graph.GetActiveEdges(ctx, ownerID)
		require.NoError(t, err)
		assert.Empty(t, edges)
	}

	assert.ErrorIs(t, f.svc.Reject(ctx, request.ID, f.recipient.ID), ErrInvalidState)
}

func TestResendRegeneratesCode(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	request, err := f.svc.CreateRequest(ctx, f.requester.ID, RecipientRef{ID: f.recipient.ID}, models.KindFriend, "")
	require.NoError(t, err)
	oldExpiry := request.CodeExpiry

	// Only the requester may resend.
	_, err = f.svc.Resend(ctx, request.ID, f.recipient.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	resent, err := f.svc.Resend(ctx, request.ID, f.requester.ID)
	require.NoError(t, err)
	assert.Len(t, resent.Code, 6)
	assert.True(t, resent.CodeExpiry.After(oldExpiry) || resent.CodeExpiry.Equal(oldExpiry))
	assert.Equal(t, models.RequestStatusPending, resent.Status)

	events := f.sink.recorded()
	require.NotEmpty(t, events)
	assert.Equal(t, EventCodeResent, events[len(events)-1].EventType)
	assert.Equal(t, f.recipient.ID, events[len(events)-1].RecipientID)
}
