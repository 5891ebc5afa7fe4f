package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"carelink/internal/config"
	"carelink/internal/models"
	"carelink/internal/storage"
)

// ErrCacheMiss is returned by an EdgeCache when no cached view exists for an
// owner.
var ErrCacheMiss = errors.New("no cached edge view for owner")

// EdgeCache caches each owner's active-edge list. It backs the degraded-mode
// read path: when the store is transiently unavailable and retries exhaust,
// GetActiveEdges serves the cached view instead of failing the user action.
type EdgeCache interface {
	GetActiveEdges(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error)
	SetActiveEdges(ctx context.Context, ownerID uint, edges []models.RelationshipEdge) error
}

// GraphService owns per-principal adjacency lists of relationship edges and
// provides the add/merge/disable primitives shared by the live write path and
// the reconciler.
type GraphService struct {
	tx       storage.TxManager
	cache    EdgeCache
	sink     NotificationSink
	retryCfg config.RetryConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewGraphService creates a GraphService. cache may be nil, in which case the
// degraded-mode fallback is disabled; a nil sink discards events.
func NewGraphService(tx storage.TxManager, cache EdgeCache, sink NotificationSink, retryCfg config.RetryConfig, logger *zap.Logger) *GraphService {
	if sink == nil {
		sink = NoopNotificationSink{}
	}
	return &GraphService{tx: tx, cache: cache, sink: sink, retryCfg: retryCfg, logger: logger, now: time.Now}
}

// mergeEdges merges incoming into existing field by field, preferring
// non-empty values from incoming. This is the single definition of "what
// counts as the same edge's data": the live write path, the read-time dedupe
// guard, and the reconciler all route through it, so absent-field defaults
// live here and nowhere else.
func mergeEdges(existing, incoming *models.RelationshipEdge) {
	if incoming.PeerID != 0 {
		existing.PeerID = incoming.PeerID
	}
	if incoming.PeerEmail != "" {
		existing.PeerEmail = incoming.PeerEmail
	}
	if incoming.PeerName != "" {
		existing.PeerName = incoming.PeerName
	}
	if incoming.PeerPhone != "" {
		existing.PeerPhone = incoming.PeerPhone
	}
	if incoming.Kind != "" {
		existing.Kind = incoming.Kind
	}
	if incoming.AccessLevel != "" {
		existing.AccessLevel = incoming.AccessLevel
	}
	if existing.AccessLevel == "" {
		existing.AccessLevel = models.AccessLimited
	}
	// Prefer the explicitly-set boolean over unset.
	if incoming.IsEmergencyContact != nil {
		existing.IsEmergencyContact = incoming.IsEmergencyContact
	}
	if existing.GrantedBy == 0 {
		existing.GrantedBy = incoming.GrantedBy
	}
	if existing.AddedAt.IsZero() || (!incoming.AddedAt.IsZero() && incoming.AddedAt.Before(existing.AddedAt)) {
		existing.AddedAt = incoming.AddedAt
	}
}

// addEdgeTx is the write-path primitive: it looks up the owner's existing
// active edges matching the candidate's peer identity, merges into the first
// match instead of creating a duplicate, and appends a new edge otherwise.
// It must run inside a transaction when paired with other writes.
func addEdgeTx(ctx context.Context, repos *storage.RepoSet, candidate *models.RelationshipEdge) (*models.RelationshipEdge, error) {
	active, err := repos.Edges.FindActiveByOwner(ctx, candidate.OwnerID)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].SamePeer(candidate) {
			merged := active[i]
			mergeEdges(&merged, candidate)
			if err := repos.Edges.Save(ctx, &merged); err != nil {
				return nil, err
			}
			return &merged, nil
		}
	}

	edge := *candidate
	if edge.AccessLevel == "" {
		edge.AccessLevel = models.AccessLimited
	}
	edge.Status = models.EdgeStatusActive
	if edge.AddedAt.IsZero() {
		edge.AddedAt = time.Now()
	}
	if err := repos.Edges.Create(ctx, &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

// AddEdge adds (or merges) an edge in the owner's graph.
func (s *GraphService) AddEdge(ctx context.Context, candidate *models.RelationshipEdge) (*models.RelationshipEdge, error) {
	var result *models.RelationshipEdge
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			edge, err := addEdgeTx(ctx, repos, candidate)
			if err != nil {
				return err
			}
			result = edge
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, candidate.OwnerID)
	return result, nil
}

// DisableEdge soft-disables the owner's active edge matching the peer
// identity and best-effort mirrors the disable on the peer's graph. A missing
// peer graph (or no mirror edge) is treated as already consistent, not an
// error. The edge record persists for audit.
func (s *GraphService) DisableEdge(ctx context.Context, ownerID, peerID uint, peerEmail string, actorID uint) error {
	var mirrorID uint
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			edges, err := repos.Edges.FindActiveByOwner(ctx, ownerID)
			if err != nil {
				return err
			}
			var target *models.RelationshipEdge
			for i := range edges {
				if edges[i].MatchesPeer(peerID, peerEmail) {
					target = &edges[i]
					break
				}
			}
			if target == nil {
				return ErrNotFound
			}
			if err := disableTx(ctx, repos, target, actorID, s.now()); err != nil {
				return err
			}

			// Mirror disable: tolerate the peer graph not existing.
			mirrorID = target.PeerID
			if target.PeerID == 0 {
				return nil
			}
			owner, err := repos.Users.GetByID(ctx, ownerID)
			ownerEmail := ""
			if err == nil {
				ownerEmail = owner.Email
			}
			peerEdges, err := repos.Edges.FindActiveByOwner(ctx, target.PeerID)
			if err != nil {
				return err
			}
			for i := range peerEdges {
				if peerEdges[i].MatchesPeer(ownerID, ownerEmail) {
					if err := disableTx(ctx, repos, &peerEdges[i], actorID, s.now()); err != nil {
						return err
					}
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.refreshCache(ctx, ownerID)
	if mirrorID != 0 {
		s.refreshCache(ctx, mirrorID)
		s.sink.Notify(mirrorID, EventEdgeDisabled, map[string]any{
			"ownerId": ownerID,
			"byId":    actorID,
		})
	}
	return nil
}

func disableTx(ctx context.Context, repos *storage.RepoSet, edge *models.RelationshipEdge, actorID uint, at time.Time) error {
	edge.Status = models.EdgeStatusDisabled
	edge.DisabledAt = &at
	edge.DisabledBy = actorID
	return repos.Edges.Save(ctx, edge)
}

// UpdateEdgeAccess updates the access level and emergency-contact flag on the
// owner's active edge for the peer. The change is local to the owner's view;
// no mirror propagation happens.
func (s *GraphService) UpdateEdgeAccess(ctx context.Context, ownerID, peerID uint, peerEmail string, accessLevel models.AccessLevel, isEmergencyContact *bool) (*models.RelationshipEdge, error) {
	var updated *models.RelationshipEdge
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			edges, err := repos.Edges.FindActiveByOwner(ctx, ownerID)
			if err != nil {
				return err
			}
			for i := range edges {
				if edges[i].MatchesPeer(peerID, peerEmail) {
					if accessLevel != "" {
						edges[i].AccessLevel = accessLevel
					}
					if isEmergencyContact != nil {
						edges[i].IsEmergencyContact = isEmergencyContact
					}
					if err := repos.Edges.Save(ctx, &edges[i]); err != nil {
						return err
					}
					updated = &edges[i]
					return nil
				}
			}
			return ErrNotFound
		})
	})
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, ownerID)
	return updated, nil
}

// GetActiveEdges returns the owner's active edges. The result is run through
// a defensive dedupe-on-read pass using the same merge logic as the write
// path, in case upstream writes ever produced duplicates; the pass is a
// read-only view guard, persistence repair belongs to the reconciler. On a
// degraded store the cached view is served instead.
func (s *GraphService) GetActiveEdges(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	var edges []models.RelationshipEdge
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		var readErr error
		edges, readErr = s.tx.Repos().Edges.FindActiveByOwner(ctx, ownerID)
		return readErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrTransient) && s.cache != nil {
			cached, cacheErr := s.cache.GetActiveEdges(ctx, ownerID)
			if cacheErr == nil {
				s.logger.Warn("serving cached edge view, store degraded",
					zap.Uint("ownerId", ownerID), zap.Error(err))
				return cached, nil
			}
		}
		return nil, err
	}

	deduped := dedupeView(edges)
	if s.cache != nil {
		if cacheErr := s.cache.SetActiveEdges(ctx, ownerID, deduped); cacheErr != nil {
			s.logger.Debug("edge cache refresh failed", zap.Uint("ownerId", ownerID), zap.Error(cacheErr))
		}
	}
	return deduped, nil
}

// dedupeView collapses edges sharing a peer identity into one merged view
// entry without touching the store.
func dedupeView(edges []models.RelationshipEdge) []models.RelationshipEdge {
	out := make([]models.RelationshipEdge, 0, len(edges))
	for i := range edges {
		merged := false
		for j := range out {
			if out[j].SamePeer(&edges[i]) {
				mergeEdges(&out[j], &edges[i])
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, edges[i])
		}
	}
	return out
}

// HasActiveEdge reports whether the owner's graph holds an active edge to the
// given peer identity.
func (s *GraphService) HasActiveEdge(ctx context.Context, ownerID, peerID uint, peerEmail string) (bool, error) {
	edges, err := s.tx.Repos().Edges.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	for i := range edges {
		if edges[i].MatchesPeer(peerID, peerEmail) {
			return true, nil
		}
	}
	return false, nil
}

func (s *GraphService) refreshCache(ctx context.Context, ownerID uint) {
	if s.cache == nil {
		return
	}
	edges, err := s.tx.Repos().Edges.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return
	}
	if err := s.cache.SetActiveEdges(ctx, ownerID, dedupeView(edges)); err != nil {
		s.logger.Debug("edge cache refresh failed", zap.Uint("ownerId", ownerID), zap.Error(err))
	}
}
