package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"carelink/internal/models"
)

// RequestRepository defines the interface for relationship request data
// operations.
type RequestRepository interface {
	Create(ctx context.Context, request *models.RelationshipRequest) error
	GetByID(ctx context.Context, requestID uint) (*models.RelationshipRequest, error)
	// FindPendingByPair returns the pending request from fromID to toID, or
	// (nil, nil) when none exists.
	FindPendingByPair(ctx context.Context, fromID, toID uint) (*models.RelationshipRequest, error)
	GetPendingForRecipient(ctx context.Context, recipientID uint) ([]models.RelationshipRequest, error)
	UpdateStatus(ctx context.Context, requestID uint, status models.RequestStatus) error
	Save(ctx context.Context, request *models.RelationshipRequest) error
}

type gormRequestRepository struct {
	db *gorm.DB
}

// NewGormRequestRepository creates a new gorm-backed RequestRepository.
func NewGormRequestRepository(db *gorm.DB) RequestRepository {
	return &gormRequestRepository{db: db}
}

func (r *gormRequestRepository) Create(ctx context.Context, request *models.RelationshipRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *gormRequestRepository) GetByID(ctx context.Context, requestID uint) (*models.RelationshipRequest, error) {
	var request models.RelationshipRequest
	if err := r.db.WithContext(ctx).First(&request, requestID).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *gormRequestRepository) FindPendingByPair(ctx context.Context, fromID, toID uint) (*models.RelationshipRequest, error) {
	var request models.RelationshipRequest
	err := r.db.WithContext(ctx).
		Where("from_id = ? AND to_id = ?", fromID, toID).
		Where("status = ?", models.RequestStatusPending).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *gormRequestRepository) GetPendingForRecipient(ctx context.Context, recipientID uint) ([]models.RelationshipRequest, error) {
	var requests []models.RelationshipRequest
	err := r.db.WithContext(ctx).
		Where("to_id = ? AND status = ?", recipientID, models.RequestStatusPending).
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}

func (r *gormRequestRepository) UpdateStatus(ctx context.Context, requestID uint, status models.RequestStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.RelationshipRequest{}).
		Where("id = ?", requestID).
		Update("status", status).Error
}

func (r *gormRequestRepository) Save(ctx context.Context, request *models.RelationshipRequest) error {
	return r.db.WithContext(ctx).Save(request).Error
}
