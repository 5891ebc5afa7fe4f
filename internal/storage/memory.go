package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"carelink/internal/models"
)

// In-memory implementations of the repository interfaces. They share the
// exact contract of the gorm implementations, so the same code serves both
// the database-unavailable fallback and the test doubles.

// MemoryUserRepository is a mutex-guarded map implementation of
// UserRepository.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[uint]models.User
	nextID uint
}

// NewMemoryUserRepository creates an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[uint]models.User{}, nextID: 1}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.nextID
		r.nextID++
	} else if user.ID >= r.nextID {
		r.nextID = user.ID + 1
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email != "" && u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Phone != "" && u.Phone == phone {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.BasicInfo(), nil
}

// MemoryRequestRepository is a mutex-guarded map implementation of
// RequestRepository.
type MemoryRequestRepository struct {
	mu       sync.RWMutex
	requests map[uint]models.RelationshipRequest
	nextID   uint
}

// NewMemoryRequestRepository creates an empty in-memory request repository.
func NewMemoryRequestRepository() *MemoryRequestRepository {
	return &MemoryRequestRepository{requests: map[uint]models.RelationshipRequest{}, nextID: 1}
}

func (r *MemoryRequestRepository) Create(_ context.Context, request *models.RelationshipRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == 0 {
		request.ID = r.nextID
		r.nextID++
	} else if request.ID >= r.nextID {
		r.nextID = request.ID + 1
	}
	now := time.Now()
	request.CreatedAt = now
	request.UpdatedAt = now
	r.requests[request.ID] = *request
	return nil
}

func (r *MemoryRequestRepository) GetByID(_ context.Context, requestID uint) (*models.RelationshipRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[requestID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (r *MemoryRequestRepository) FindPendingByPair(_ context.Context, fromID, toID uint) (*models.RelationshipRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.FromID == fromID && req.ToID == toID && req.Status == models.RequestStatusPending {
			found := req
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRequestRepository) GetPendingForRecipient(_ context.Context, recipientID uint) ([]models.RelationshipRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RelationshipRequest
	for _, req := range r.requests {
		if req.ToID == recipientID && req.Status == models.RequestStatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRequestRepository) UpdateStatus(_ context.Context, requestID uint, status models.RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	req.Status = status
	req.UpdatedAt = time.Now()
	r.requests[requestID] = req
	return nil
}

func (r *MemoryRequestRepository) Save(_ context.Context, request *models.RelationshipRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == 0 {
		return gorm.ErrRecordNotFound
	}
	request.UpdatedAt = time.Now()
	r.requests[request.ID] = *request
	return nil
}

// MemoryEdgeRepository is a mutex-guarded map implementation of
// EdgeRepository.
type MemoryEdgeRepository struct {
	mu     sync.RWMutex
	edges  map[uint]models.RelationshipEdge
	nextID uint
}

// NewMemoryEdgeRepository creates an empty in-memory edge repository.
func NewMemoryEdgeRepository() *MemoryEdgeRepository {
	return &MemoryEdgeRepository{edges: map[uint]models.RelationshipEdge{}, nextID: 1}
}

func (r *MemoryEdgeRepository) Create(_ context.Context, edge *models.RelationshipEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if edge.ID == 0 {
		edge.ID = r.nextID
		r.nextID++
	} else if edge.ID >= r.nextID {
		r.nextID = edge.ID + 1
	}
	now := time.Now()
	edge.CreatedAt = now
	edge.UpdatedAt = now
	r.edges[edge.ID] = *edge
	return nil
}

func (r *MemoryEdgeRepository) Save(_ context.Context, edge *models.RelationshipEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if edge.ID == 0 {
		return gorm.ErrRecordNotFound
	}
	edge.UpdatedAt = time.Now()
	r.edges[edge.ID] = *edge
	return nil
}

func (r *MemoryEdgeRepository) FindActiveByOwner(_ context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RelationshipEdge
	for _, e := range r.edges {
		if e.OwnerID == ownerID && e.Status == models.EdgeStatusActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryEdgeRepository) FindAllByOwner(_ context.Context, ownerID uint) ([]models.RelationshipEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RelationshipEdge
	for _, e := range r.edges {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryEdgeRepository) ListOwnerIDs(_ context.Context) ([]uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[uint]struct{}{}
	var out []uint
	for _, e := range r.edges {
		if _, ok := seen[e.OwnerID]; !ok {
			seen[e.OwnerID] = struct{}{}
			out = append(out, e.OwnerID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// memoryTxManager serializes transactional sections on a single mutex. There
// is no rollback: every transactional function in the engine re-checks state
// before issuing writes (abort-before-write), so serialization alone
// preserves the invariants the gorm transaction provides.
type memoryTxManager struct {
	mu    sync.Mutex
	repos *RepoSet
}

// NewMemoryTxManager creates a TxManager over in-memory repositories.
func NewMemoryTxManager() TxManager {
	return &memoryTxManager{
		repos: &RepoSet{
			Users:    NewMemoryUserRepository(),
			Requests: NewMemoryRequestRepository(),
			Edges:    NewMemoryEdgeRepository(),
		},
	}
}

func (m *memoryTxManager) InTx(_ context.Context, fn func(repos *RepoSet) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.repos)
}

func (m *memoryTxManager) Repos() *RepoSet {
	return m.repos
}
