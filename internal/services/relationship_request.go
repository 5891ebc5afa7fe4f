package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carelink/internal/config"
	"carelink/internal/models"
	"carelink/internal/storage"
)

// RecipientRef addresses the recipient of a connection request by ID, email,
// or phone, in that order of precedence.
type RecipientRef struct {
	ID    uint   `json:"toId,omitempty"`
	Email string `json:"toEmail,omitempty"`
	Phone string `json:"toPhone,omitempty"`
}

// RequestService manages the lifecycle of relationship requests: creation
// with one-time verification codes, pending views with lazy expiry, and the
// accept path that atomically materializes the mirrored edge pair.
type RequestService struct {
	tx          storage.TxManager
	codes       *CodeService
	sink        NotificationSink
	retryCfg    config.RetryConfig
	requireCode bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewRequestService creates a RequestService. requireCode governs whether
// Accept validates the verification code (see VerificationConfig).
func NewRequestService(tx storage.TxManager, codes *CodeService, sink NotificationSink, cfg config.Config, logger *zap.Logger) *RequestService {
	return &RequestService{
		tx:          tx,
		codes:       codes,
		sink:        sink,
		retryCfg:    cfg.Retry,
		requireCode: cfg.Verification.RequireCodeOnAccept,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *RequestService) resolveRecipient(ctx context.Context, users storage.UserRepository, to RecipientRef) (*models.User, models.ConnectionMethod, error) {
	switch {
	case to.ID != 0:
		user, err := users.GetByID(ctx, to.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrNotFound
			}
			return nil, "", err
		}
		return user, models.ConnectByID, nil
	case to.Email != "":
		user, err := users.FindByEmail(ctx, to.Email)
		if err != nil {
			return nil, "", err
		}
		if user == nil {
			return nil, "", ErrNotFound
		}
		return user, models.ConnectByEmail, nil
	case to.Phone != "":
		user, err := users.FindByPhone(ctx, to.Phone)
		if err != nil {
			return nil, "", err
		}
		if user == nil {
			return nil, "", ErrNotFound
		}
		return user, models.ConnectByPhone, nil
	default:
		return nil, "", ErrNotFound
	}
}

// CreateRequest creates a new pending request from fromID to the addressed
// recipient. An already-connected pair fails with ErrConflictExists; a prior
// pending request for the same pair is superseded (transitioned to cancelled)
// so that at most one pending request exists per (from, to) pair.
func (s *RequestService) CreateRequest(ctx context.Context, fromID uint, to RecipientRef, kind models.RelationshipKind, message string) (*models.RelationshipRequest, error) {
	users := s.tx.Repos().Users
	recipient, method, err := s.resolveRecipient(ctx, users, to)
	if err != nil {
		return nil, err
	}
	if recipient.ID == fromID {
		return nil, ErrInvalidState
	}

	requester, err := users.GetByID(ctx, fromID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	code, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}

	request := &models.RelationshipRequest{
		RequestID:  uuid.NewString(),
		FromID:     fromID,
		ToID:       recipient.ID,
		ToEmail:    to.Email,
		ToPhone:    to.Phone,
		Method:     method,
		Kind:       kind,
		Message:    message,
		Code:       code.Value,
		CodeExpiry: code.Expiry,
		Status:     models.RequestStatusPending,
	}

	err = storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			// An active edge between the pair means there is nothing to
			// request. Both graphs are checked: a one-sided edge left by a
			// partial failure still counts as connected until the
			// reconciler restores its mirror.
			edges, err := repos.Edges.FindActiveByOwner(ctx, fromID)
			if err != nil {
				return err
			}
			for i := range edges {
				if edges[i].MatchesPeer(recipient.ID, recipient.Email) {
					return ErrConflictExists
				}
			}
			peerEdges, err := repos.Edges.FindActiveByOwner(ctx, recipient.ID)
			if err != nil {
				return err
			}
			for i := range peerEdges {
				if peerEdges[i].MatchesPeer(fromID, requester.Email) {
					return ErrConflictExists
				}
			}

			// Supersede any prior pending request for the same pair.
			prior, err := repos.Requests.FindPendingByPair(ctx, fromID, recipient.ID)
			if err != nil {
				return err
			}
			if prior != nil {
				if err := repos.Requests.UpdateStatus(ctx, prior.ID, models.RequestStatusCancelled); err != nil {
					return err
				}
			}

			return repos.Requests.Create(ctx, request)
		})
	})
	if err != nil {
		return nil, err
	}

	s.sink.Notify(recipient.ID, EventRequestCreated, map[string]any{
		"requestId":        request.RequestID,
		"fromId":           fromID,
		"fromName":         requester.Name,
		"relationshipKind": kind,
	})
	return request, nil
}

// GetPending returns the pending requests addressed to the principal whose
// code window is still open. Stale pending requests encountered during the
// read are transitioned to expired (lazy expiry) and excluded.
func (s *RequestService) GetPending(ctx context.Context, principalID uint) ([]models.RequestWithRequester, error) {
	repos := s.tx.Repos()
	var requests []models.RelationshipRequest
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		var readErr error
		requests, readErr = repos.Requests.GetPendingForRecipient(ctx, principalID)
		return readErr
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]models.RequestWithRequester, 0, len(requests))
	for i := range requests {
		req := requests[i]
		if req.CodeExpired(now) {
			if err := repos.Requests.UpdateStatus(ctx, req.ID, models.RequestStatusExpired); err != nil {
				s.logger.Warn("failed to persist lazy expiry",
					zap.Uint("requestId", req.ID), zap.Error(err))
			}
			continue
		}

		item := models.RequestWithRequester{RelationshipRequest: req}
		if requester, err := repos.Users.GetBasicInfoByID(ctx, req.FromID); err == nil {
			item.Requester = requester
		}
		out = append(out, item)
	}
	return out, nil
}

// Accept accepts a pending request as actorID and atomically materializes the
// mirrored edge pair: the requester's graph gains an edge of the requested
// kind, the recipient's graph gains the inverse. The transaction re-reads the
// status and aborts with ErrInvalidState if it is no longer pending, which
// makes double-acceptance structurally impossible: re-invoking after success
// returns ErrInvalidState and performs no further writes.
func (s *RequestService) Accept(ctx context.Context, requestID, actorID uint, code string) error {
	var expiredID uint
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			request, err := repos.Requests.GetByID(ctx, requestID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if request.ToID != actorID {
				return ErrUnauthorized
			}
			if !request.IsPending() {
				return ErrInvalidState
			}
			if request.CodeExpired(s.now()) {
				expiredID = request.ID
				return ErrExpired
			}
			if s.requireCode {
				if err := s.codes.Validate(code, request.Code, request.CodeExpiry); err != nil {
					return err
				}
			}

			requester, err := repos.Users.GetByID(ctx, request.FromID)
			if err != nil {
				return err
			}
			recipient, err := repos.Users.GetByID(ctx, request.ToID)
			if err != nil {
				return err
			}

			if err := repos.Requests.UpdateStatus(ctx, request.ID, models.RequestStatusAccepted); err != nil {
				return err
			}

			// Requester's edge carries the requested kind, the recipient's
			// the inverse. Both writes share this transaction; partial
			// success is not observable.
			if _, err := addEdgeTx(ctx, repos, &models.RelationshipEdge{
				OwnerID:   request.FromID,
				PeerID:    recipient.ID,
				PeerEmail: recipient.Email,
				PeerName:  recipient.Name,
				PeerPhone: recipient.Phone,
				Kind:      request.Kind,
				GrantedBy: actorID,
				AddedAt:   s.now(),
			}); err != nil {
				return err
			}
			if _, err := addEdgeTx(ctx, repos, &models.RelationshipEdge{
				OwnerID:   request.ToID,
				PeerID:    requester.ID,
				PeerEmail: requester.Email,
				PeerName:  requester.Name,
				PeerPhone: requester.Phone,
				Kind:      request.Kind.Inverse(),
				GrantedBy: actorID,
				AddedAt:   s.now(),
			}); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrExpired) && expiredID != 0 {
			// Persist the lazy expiry outside the aborted transaction.
			if updErr := s.tx.Repos().Requests.UpdateStatus(ctx, expiredID, models.RequestStatusExpired); updErr != nil {
				s.logger.Warn("failed to persist lazy expiry on accept",
					zap.Uint("requestId", expiredID), zap.Error(updErr))
			}
		}
		return err
	}

	if request, loadErr := s.tx.Repos().Requests.GetByID(ctx, requestID); loadErr == nil {
		s.sink.Notify(request.FromID, EventRequestAccepted, map[string]any{
			"requestId": request.RequestID,
			"byId":      actorID,
		})
	}
	return nil
}

// Reject rejects a pending request as actorID. Only the status flips; no
// graph mutation happens.
func (s *RequestService) Reject(ctx context.Context, requestID, actorID uint) error {
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			request, err := repos.Requests.GetByID(ctx, requestID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if request.ToID != actorID {
				return ErrUnauthorized
			}
			if !request.IsPending() {
				return ErrInvalidState
			}
			return repos.Requests.UpdateStatus(ctx, request.ID, models.RequestStatusRejected)
		})
	})
	if err != nil {
		return err
	}

	if request, loadErr := s.tx.Repos().Requests.GetByID(ctx, requestID); loadErr == nil {
		s.sink.Notify(request.FromID, EventRequestRejected, map[string]any{
			"requestId": request.RequestID,
			"byId":      actorID,
		})
	}
	return nil
}

// Resend regenerates the code and expiry of a still-pending request in place.
// Only the requester may resend.
func (s *RequestService) Resend(ctx context.Context, requestID, actorID uint) (*models.RelationshipRequest, error) {
	var request *models.RelationshipRequest
	err := storage.WithRetry(ctx, s.retryCfg, func() error {
		return s.tx.InTx(ctx, func(repos *storage.RepoSet) error {
			req, err := repos.Requests.GetByID(ctx, requestID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if req.FromID != actorID {
				return ErrUnauthorized
			}
			if !req.IsPending() {
				return ErrInvalidState
			}

			code, err := s.codes.Generate()
			if err != nil {
				return err
			}
			req.Code = code.Value
			req.CodeExpiry = code.Expiry
			if err := repos.Requests.Save(ctx, req); err != nil {
				return err
			}
			request = req
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.sink.Notify(request.ToID, EventCodeResent, map[string]any{
		"requestId": request.RequestID,
		"fromId":    request.FromID,
	})
	return request, nil
}
