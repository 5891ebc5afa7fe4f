package services

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carelink/internal/models"
	"carelink/internal/storage"
)

func newGraphFixture(t *testing.T) (*GraphService, storage.TxManager) {
	t.Helper()
	tx := storage.NewMemoryTxManager()
	return NewGraphService(tx, nil, nil, testConfig().Retry, zap.NewNop()), tx
}

func TestMergeEdgesPrefersIncomingNonEmpty(t *testing.T) {
	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(48 * time.Hour)

	existing := models.RelationshipEdge{
		OwnerID:   1,
		PeerEmail: "peer@example.com",
		Kind:      models.KindSibling,
		GrantedBy: 7,
		AddedAt:   later,
	}
	incoming := models.RelationshipEdge{
		OwnerID:            1,
		PeerID:             2,
		PeerEmail:          "peer@example.com",
		PeerPhone:          "9800000000",
		IsEmergencyContact: models.BoolPtr(true),
		GrantedBy:          9,
		AddedAt:            earlier,
	}

	mergeEdges(&existing, &incoming)

	assert.Equal(t, uint(2), existing.PeerID)
	assert.Equal(t, "9800000000", existing.PeerPhone)
	assert.Equal(t, models.KindSibling, existing.Kind, "empty incoming kind must not clobber")
	assert.Equal(t, models.AccessLimited, existing.AccessLevel, "absent access level defaults to limited")
	require.NotNil(t, existing.IsEmergencyContact)
	assert.True(t, *existing.IsEmergencyContact)
	assert.Equal(t, uint(7), existing.GrantedBy, "first grantor wins")
	assert.Equal(t, earlier, existing.AddedAt, "earliest timestamp wins")
}

func TestAddEdgeMergesOnSamePeer(t *testing.T) {
	svc, tx := newGraphFixture(t)
	ctx := context.Background()

	first, err := svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID:   1,
		PeerID:    2,
		PeerEmail: "peer@example.com",
		Kind:      models.KindCaregiver,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AccessLimited, first.AccessLevel)

	// Same peer addressed by email only: merged, not duplicated.
	second, err := svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID:   1,
		PeerEmail: "peer@example.com",
		PeerPhone: "9800000000",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "9800000000", second.PeerPhone)
	assert.Equal(t, models.KindCaregiver, second.Kind)

	all, err := tx.Repos().Edges.FindAllByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDisableEdgeMirrorsToPeer(t *testing.T) {
	svc, tx := newGraphFixture(t)
	ctx := context.Background()
	alice := seedUser(t, tx, "Alice", "alice@example.com", "", models.RolePatient)
	bob := seedUser(t, tx, "Bob", "bob@example.com", "", models.RoleFamilyMember)

	_, err := svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID: alice.ID, PeerID: bob.ID, PeerEmail: bob.Email, Kind: models.KindSpouse,
	})
	require.NoError(t, err)
	_, err = svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID: bob.ID, PeerID: alice.ID, PeerEmail: alice.Email, Kind: models.KindSpouse,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DisableEdge(ctx, alice.ID, bob.ID, "", alice.ID))

	for _, ownerID := range []uint{alice.ID, bob.ID} {
		active, err := svc.GetActiveEdges(ctx, ownerID)
		require.NoError(t, err)
		assert.Empty(t, active)

		// Soft-disabled, never deleted.
		all, err := tx.Repos().Edges.FindAllByOwner(ctx, ownerID)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, models.EdgeStatusDisabled, all[0].Status)
		assert.Equal(t, alice.ID, all[0].DisabledBy)
		assert.NotNil(t, all[0].DisabledAt)
	}
}

func TestDisableEdgeNotifiesPeer(t *testing.T) {
	tx := storage.NewMemoryTxManager()
	sink := &recordingSink{}
	svc := NewGraphService(tx, nil, sink, testConfig().Retry, zap.NewNop())
	ctx := context.Background()

	_, err := svc.AddEdge(ctx, &models.RelationshipEdge{OwnerID: 1, PeerID: 2, Kind: models.KindFriend})
	require.NoError(t, err)

	require.NoError(t, svc.DisableEdge(ctx, 1, 2, "", 1))

	events := sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, EventEdgeDisabled, events[0].EventType)
	assert.Equal(t, uint(2), events[0].RecipientID)
}

func TestDisableEdgeToleratesMissingMirror(t *testing.T) {
	svc, tx := newGraphFixture(t)
	ctx := context.Background()
	alice := seedUser(t, tx, "Alice", "alice@example.com", "", models.RolePatient)

	// Peer has no graph at all; disabling the one-sided edge still succeeds.
	_, err := svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID: alice.ID, PeerID: 42, Kind: models.KindFriend,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DisableEdge(ctx, alice.ID, 42, "", alice.ID))

	active, err := svc.GetActiveEdges(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDisableEdgeNotFound(t *testing.T) {
	svc, _ := newGraphFixture(t)

	err := svc.DisableEdge(context.Background(), 1, 99, "", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEdgeAccessIsLocal(t *testing.T) {
	svc, _ := newGraphFixture(t)
	ctx := context.Background()

	_, err := svc.AddEdge(ctx, &models.RelationshipEdge{OwnerID: 1, PeerID: 2, Kind: models.KindChild})
	require.NoError(t, err)
	_, err = svc.AddEdge(ctx, &models.RelationshipEdge{OwnerID: 2, PeerID: 1, Kind: models.KindParent})
	require.NoError(t, err)

	updated, err := svc.UpdateEdgeAccess(ctx, 1, 2, "", models.AccessFull, models.BoolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, models.AccessFull, updated.AccessLevel)
	require.NotNil(t, updated.IsEmergencyContact)
	assert.True(t, *updated.IsEmergencyContact)

	// The peer's view of the relationship is untouched.
	peerEdges, err := svc.GetActiveEdges(ctx, 2)
	require.NoError(t, err)
	require.Len(t, peerEdges, 1)
	assert.Equal(t, models.AccessLimited, peerEdges[0].AccessLevel)
	assert.Nil(t, peerEdges[0].IsEmergencyContact)
}

func TestUpdateEdgeAccessNotFound(t *testing.T) {
	svc, _ := newGraphFixture(t)

	_, err := svc.UpdateEdgeAccess(context.Background(), 1, 2, "", models.AccessFull, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveEdgesDedupesView(t *testing.T) {
	svc, tx := newGraphFixture(t)
	ctx := context.Background()

	// Duplicates written behind the service's back, e.g. by a legacy import.
	require.NoError(t, tx.Repos().Edges.Create(ctx, &models.RelationshipEdge{
		OwnerID: 1, PeerID: 2, Kind: models.KindSibling, Status: models.EdgeStatusActive,
	}))
	require.NoError(t, tx.Repos().Edges.Create(ctx, &models.RelationshipEdge{
		OwnerID: 1, PeerID: 2, PeerPhone: "9811111111", Status: models.EdgeStatusActive,
	}))

	edges, err := svc.GetActiveEdges(ctx, 1)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, models.KindSibling, edges[0].Kind)
	assert.Equal(t, "9811111111", edges[0].PeerPhone)

	// The view guard is read-only; persistent repair is the reconciler's job.
	all, err := tx.Repos().Edges.FindActiveByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// fakeEdgeCache is an in-process EdgeCache for exercising the degraded read
// path.
type fakeEdgeCache struct {
	snapshots map[uint][]models.RelationshipEdge
}

func (c *fakeEdgeCache) GetActiveEdges(_ context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	edges, ok := c.snapshots[ownerID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return edges, nil
}

func (c *fakeEdgeCache) SetActiveEdges(_ context.Context, ownerID uint, edges []models.RelationshipEdge) error {
	c.snapshots[ownerID] = edges
	return nil
}

// unavailableTxManager simulates a store shedding load: every read fails with
// a retryable postgres error.
type unavailableTxManager struct {
	repos *storage.RepoSet
}

func (m *unavailableTxManager) InTx(_ context.Context, _ func(repos *storage.RepoSet) error) error {
	return &pgconn.PgError{Code: "53300", Message: "too many connections"}
}

func (m *unavailableTxManager) Repos() *storage.RepoSet { return m.repos }

type unavailableEdgeRepo struct{}

func (unavailableEdgeRepo) Create(context.Context, *models.RelationshipEdge) error { return pgDown() }
func (unavailableEdgeRepo) Save(context.Context, *models.RelationshipEdge) error   { return pgDown() }
func (unavailableEdgeRepo) FindActiveByOwner(context.Context, uint) ([]models.RelationshipEdge, error) {
	return nil, pgDown()
}
func (unavailableEdgeRepo) FindAllByOwner(context.Context, uint) ([]models.RelationshipEdge, error) {
	return nil, pgDown()
}
func (unavailableEdgeRepo) ListOwnerIDs(context.Context) ([]uint, error) { return nil, pgDown() }

func pgDown() error {
	return &pgconn.PgError{Code: "53300", Message: "too many connections"}
}

func TestGetActiveEdgesServesCacheWhenStoreDegraded(t *testing.T) {
	cache := &fakeEdgeCache{snapshots: map[uint][]models.RelationshipEdge{
		7: {{OwnerID: 7, PeerID: 8, Kind: models.KindDoctor, Status: models.EdgeStatusActive}},
	}}
	tx := &unavailableTxManager{repos: &storage.RepoSet{Edges: unavailableEdgeRepo{}}}
	svc := NewGraphService(tx, cache, nil, testConfig().Retry, zap.NewNop())

	edges, err := svc.GetActiveEdges(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, models.KindDoctor, edges[0].Kind)

	// No snapshot for this owner: the transient failure surfaces.
	_, err = svc.GetActiveEdges(context.Background(), 99)
	assert.ErrorIs(t, err, storage.ErrTransient)
}

func TestHasActiveEdgeMatchesByIDOrEmail(t *testing.T) {
	svc, _ := newGraphFixture(t)
	ctx := context.Background()

	_, err := svc.AddEdge(ctx, &models.RelationshipEdge{
		OwnerID: 1, PeerID: 2, PeerEmail: "peer@example.com", Kind: models.KindFriend,
	})
	require.NoError(t, err)

	byID, err := svc.HasActiveEdge(ctx, 1, 2, "")
	require.NoError(t, err)
	assert.True(t, byID)

	byEmail, err := svc.HasActiveEdge(ctx, 1, 0, "peer@example.com")
	require.NoError(t, err)
	assert.True(t, byEmail)

	none, err := svc.HasActiveEdge(ctx, 1, 3, "other@example.com")
	require.NoError(t, err)
	assert.False(t, none)
}
