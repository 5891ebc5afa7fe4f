package storage

import (
	"context"

	"gorm.io/gorm"

	"carelink/internal/models"
)

// EdgeRepository defines the interface for relationship edge data operations.
// An owner's "graph" is the set of edges with that OwnerID; graphs come into
// existence lazily with their first edge.
type EdgeRepository interface {
	Create(ctx context.Context, edge *models.RelationshipEdge) error
	Save(ctx context.Context, edge *models.RelationshipEdge) error
	// FindActiveByOwner returns the owner's active edges in insertion order.
	FindActiveByOwner(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error)
	// FindAllByOwner returns active and disabled edges, for audit views.
	FindAllByOwner(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error)
	// ListOwnerIDs returns every owner that has at least one edge.
	ListOwnerIDs(ctx context.Context) ([]uint, error)
}

type gormEdgeRepository struct {
	db *gorm.DB
}

// NewGormEdgeRepository creates a new gorm-backed EdgeRepository.
func NewGormEdgeRepository(db *gorm.DB) EdgeRepository {
	return &gormEdgeRepository{db: db}
}

func (r *gormEdgeRepository) Create(ctx context.Context, edge *models.RelationshipEdge) error {
	return r.db.WithContext(ctx).Create(edge).Error
}

func (r *gormEdgeRepository) Save(ctx context.Context, edge *models.RelationshipEdge) error {
	return r.db.WithContext(ctx).Save(edge).Error
}

func (r *gormEdgeRepository) FindActiveByOwner(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	var edges []models.RelationshipEdge
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, models.EdgeStatusActive).
		Order("id ASC").
		Find(&edges).Error
	return edges, err
}

func (r *gormEdgeRepository) FindAllByOwner(ctx context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	var edges []models.RelationshipEdge
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&edges).Error
	return edges, err
}

func (r *gormEdgeRepository) ListOwnerIDs(ctx context.Context) ([]uint, error) {
	var ownerIDs []uint
	err := r.db.WithContext(ctx).
		Model(&models.RelationshipEdge{}).
		Distinct("owner_id").
		Order("owner_id ASC").
		Pluck("owner_id", &ownerIDs).Error
	return ownerIDs, err
}
