package storage

import (
	"context"

	"gorm.io/gorm"
)

// RepoSet bundles the repositories that participate in edge-mutating
// operations. Inside a transaction, all repositories in the set are scoped to
// that transaction.
type RepoSet struct {
	Users    UserRepository
	Requests RequestRepository
	Edges    EdgeRepository
}

// TxManager runs a function atomically against a RepoSet: either every write
// issued through the set commits, or none does. This is the load-bearing
// mechanism for the bidirectionality invariant — the accept path writes the
// request status flip and both mirrored edges through one transaction.
type TxManager interface {
	InTx(ctx context.Context, fn func(repos *RepoSet) error) error
	// Repos returns a non-transactional RepoSet for plain reads and
	// single-document writes.
	Repos() *RepoSet
}

type gormTxManager struct {
	db    *gorm.DB
	repos *RepoSet
}

// NewGormTxManager creates a TxManager over a gorm connection.
func NewGormTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{
		db:    db,
		repos: newGormRepoSet(db),
	}
}

func newGormRepoSet(db *gorm.DB) *RepoSet {
	return &RepoSet{
		Users:    NewGormUserRepository(db),
		Requests: NewGormRequestRepository(db),
		Edges:    NewGormEdgeRepository(db),
	}
}

func (m *gormTxManager) InTx(ctx context.Context, fn func(repos *RepoSet) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newGormRepoSet(tx))
	})
}

func (m *gormTxManager) Repos() *RepoSet {
	return m.repos
}
