package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"carelink/internal/config"
	"carelink/internal/models"
	"carelink/internal/storage"
)

// ReconcilerService is the batch repair pass over the relationship graphs:
// it restores missing mirror edges and collapses duplicate edges. All of its
// writes route through the same merge/add primitives as the live path, so a
// race with a live accept can only converge toward more consistency.
type ReconcilerService struct {
	tx       storage.TxManager
	retryCfg config.RetryConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconcilerService creates a ReconcilerService.
func NewReconcilerService(tx storage.TxManager, retryCfg config.RetryConfig, logger *zap.Logger) *ReconcilerService {
	return &ReconcilerService{tx: tx, retryCfg: retryCfg, logger: logger, now: time.Now}
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	OwnersScanned       int `json:"ownersScanned"`
	DuplicatesCollapsed int `json:"duplicatesCollapsed"`
	MirrorsSynthesized  int `json:"mirrorsSynthesized"`
	OwnersFailed        int `json:"ownersFailed"`
}

// ReconcileAll iterates every principal's graph, collapses duplicate edges,
// and synthesizes missing mirror edges using the inverse-kind table. Mirror
// writes are batched per target owner to bound transaction size. A failure
// on one owner is logged and counted, not fatal to the pass.
func (s *ReconcilerService) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	ownerIDs, err := s.tx.Repos().Edges.ListOwnerIDs(ctx)
	if err != nil {
		return report, err
	}

	// Pass 1: collapse duplicates so mirror detection works on clean graphs.
	for _, ownerID := range ownerIDs {
		collapsed, err := s.Dedupe(ctx, ownerID)
		if err != nil {
			s.logger.Error("dedupe failed during reconcile",
				zap.Uint("ownerId", ownerID), zap.Error(err))
			report.OwnersFailed++
			continue
		}
		report.DuplicatesCollapsed += collapsed
		report.OwnersScanned++
	}

	// Pass 2: collect missing mirrors, grouped by the owner that will
	// receive them.
	missing := map[uint][]*models.RelationshipEdge{}
	for _, ownerID := range ownerIDs {
		edges, err := s.tx.Repos().Edges.FindActiveByOwner(ctx, ownerID)
		if err != nil {
			s.logger.Error("failed to load graph during reconcile",
				zap.Uint("ownerId", ownerID), zap.Error(err))
			report.OwnersFailed++
			continue
		}
		owner, err := s.tx.Repos().Users.GetByID(ctx, ownerID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			report.OwnersFailed++
			continue
		}

		for i := range edges {
			edge := edges[i]
			if edge.PeerID == 0 {
				// Email-only edges have no graph to mirror into until the
				// peer account exists.
				continue
			}
			ownerEmail := ""
			ownerName := ""
			ownerPhone := ""
			if owner != nil {
				ownerEmail = owner.Email
				ownerName = owner.Name
				ownerPhone = owner.Phone
			}
			peerEdges, err := s.tx.Repos().Edges.FindActiveByOwner(ctx, edge.PeerID)
			if err != nil {
				s.logger.Error("failed to load peer graph during reconcile",
					zap.Uint("peerId", edge.PeerID), zap.Error(err))
				continue
			}
			mirrored := false
			for j := range peerEdges {
				if peerEdges[j].MatchesPeer(ownerID, ownerEmail) {
					mirrored = true
					break
				}
			}
			if mirrored {
				continue
			}
			missing[edge.PeerID] = append(missing[edge.PeerID], &models.RelationshipEdge{
				OwnerID:   edge.PeerID,
				PeerID:    ownerID,
				PeerEmail: ownerEmail,
				PeerName:  ownerName,
				PeerPhone: ownerPhone,
				Kind:      edge.Kind.Inverse(),
				GrantedBy: edge.GrantedBy,
				AddedAt:   s.now(),
			})
		}
	}

	// Pass 3: one transaction per target owner.
	for targetID, candidates := range missing {
		batch := candidates
		err := storage.WithRetry(ctx, s.retryCfg, func() error {
			return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
				for _, candidate := range batch {
					if _, err := addEdgeTx(ctx, repos, candidate); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err != nil {
			s.logger.Error("mirror synthesis failed",
				zap.Uint("ownerId", targetID), zap.Error(err))
			report.OwnersFailed++
			continue
		}
		report.MirrorsSynthesized += len(batch)
	}

	return report, nil
}

// Dedupe collapses all of an owner's active edges sharing a peer identity
// into one canonical edge via the shared merge logic, and returns how many
// duplicates were collapsed. Duplicates are soft-disabled, preserving the
// records. Running it on already-clean data is a no-op.
func (s *ReconcilerService) Dedupe(ctx context.Context, ownerID uint) (int, error) {
	collapsed := 0
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		collapsed = 0
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			edges, err := repos.Edges.FindActiveByOwner(ctx, ownerID)
			if err != nil {
				return err
			}

			canonical := make([]*models.RelationshipEdge, 0, len(edges))
			for i := range edges {
				edge := &edges[i]
				var target *models.RelationshipEdge
				for _, c := range canonical {
					if c.SamePeer(edge) {
						target = c
						break
					}
				}
				if target == nil {
					canonical = append(canonical, edge)
					continue
				}

				mergeEdges(target, edge)
				if err := repos.Edges.Save(ctx, target); err != nil {
					return err
				}
				if err := disableTx(ctx, repos, edge, 0, s.now()); err != nil {
					return err
				}
				collapsed++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return collapsed, nil
}
