package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campusfriends/backend/internal/logging"
)

const (
	// DefaultPageSize applies when a list call passes a non-positive limit.
	DefaultPageSize = 50
	// MaxPageSize caps list calls.
	MaxPageSize = 200
)

// ServiceConfig supplies the optional collaborators of a Service.
type ServiceConfig struct {
	Notifier Notifier
	Archiver Archiver
	// Counter answers EdgeCount; it defaults to the store.
	Counter EdgeCounter
	Now     func() time.Time
	NewID   func() string
}

// Service applies relationship intents against a Store. It validates each
// transition, relies on store uniqueness and conditional writes to settle
// races, and publishes a Change once a transition commits.
type Service struct {
	store    Store
	notifier Notifier
	archiver Archiver
	counter  EdgeCounter
	now      func() time.Time
	newID    func() string
}

// NewService constructs a Service over store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if store == nil {
		panic("relationships: store must not be nil")
	}
	s := &Service{
		store:    store,
		notifier: cfg.Notifier,
		archiver: cfg.Archiver,
		counter:  cfg.Counter,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.archiver == nil {
		s.archiver = noopArchiver{}
	}
	if s.counter == nil {
		s.counter = store
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Status reports the relationship between viewerID and otherID.
func (s *Service) Status(ctx context.Context, kind Kind, viewerID, otherID string) (Relationship, error) {
	if err := checkKind(kind); err != nil {
		return Relationship{}, err
	}
	if err := checkID("viewer id", viewerID); err != nil {
		return Relationship{}, err
	}
	if err := checkID("user id", otherID); err != nil {
		return Relationship{}, err
	}
	if viewerID == otherID {
		return Relationship{Status: StatusSelf}, nil
	}

	var snap Snapshot
	err := s.store.View(ctx, kind, func(tx Tx) error {
		var err error
		snap, err = readSnapshot(ctx, tx, viewerID, otherID)
		return err
	})
	if err != nil {
		return Relationship{}, fmt.Errorf("read relationship: %w", err)
	}
	return Resolve(viewerID, otherID, snap), nil
}

// SendRequest records a pending request from senderID to receiverID.
func (s *Service) SendRequest(ctx context.Context, kind Kind, senderID, receiverID, message string) (RequestRecord, error) {
	ctx, span := logging.StartSpan(ctx, "relationships.send_request", slog.String("kind", string(kind)))
	defer span.End()
	logger := logging.FromContext(ctx).With("sender_id", senderID, "receiver_id", receiverID)

	if err := checkKind(kind); err != nil {
		return RequestRecord{}, err
	}
	if _, err := CanonicalPair(senderID, receiverID); err != nil {
		return RequestRecord{}, err
	}
	message, err := normalizeMessage(message)
	if err != nil {
		return RequestRecord{}, err
	}

	now := s.now()
	request := RequestRecord{
		ID:         s.newID(),
		Kind:       kind,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     RequestPending,
		Message:    message,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var superseded []RequestRecord
	err = s.store.Update(ctx, kind, func(tx Tx) error {
		superseded = nil
		snap, err := readSnapshot(ctx, tx, senderID, receiverID)
		if err != nil {
			return err
		}
		if err := checkSend(snap); err != nil {
			return err
		}
		superseded, err = tx.DeleteResolved(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		return tx.InsertRequest(ctx, request)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		// A concurrent send landed between our read and insert.
		rel, readErr := s.Status(ctx, kind, senderID, receiverID)
		if readErr != nil {
			return RequestRecord{}, readErr
		}
		logger.Warn("send request lost insert race", "status", rel.Status)
		return RequestRecord{}, explainConflict(rel)
	case errors.Is(err, ErrUnknownUser):
		return RequestRecord{}, fmt.Errorf("%w: receiver does not exist", ErrNotFound)
	case IsOutcome(err):
		span.Fail(err)
		return RequestRecord{}, err
	default:
		logger.Error("send request failed", "error", err)
		return RequestRecord{}, fmt.Errorf("send request: %w", err)
	}

	s.archive(ctx, "superseded", superseded)
	s.publish(ctx, Change{
		Kind:       kind,
		Transition: TransitionRequestSent,
		Users:      [2]string{senderID, receiverID},
		RequestID:  request.ID,
		At:         now,
	})
	logger.Info("request sent", "request_id", request.ID, "superseded", len(superseded))
	return request, nil
}

// CancelRequest withdraws a pending request. Only its sender may cancel.
func (s *Service) CancelRequest(ctx context.Context, kind Kind, requestID, callerID string) error {
	_, err := s.resolve(ctx, kind, requestID, callerID, TransitionRequestCancelled)
	return err
}

// DeclineRequest rejects a pending request. Only its receiver may decline.
func (s *Service) DeclineRequest(ctx context.Context, kind Kind, requestID, callerID string) error {
	_, err := s.resolve(ctx, kind, requestID, callerID, TransitionRequestDeclined)
	return err
}

func (s *Service) resolve(ctx context.Context, kind Kind, requestID, callerID string, t Transition) (RequestRecord, error) {
	ctx, span := logging.StartSpan(ctx, "relationships."+string(t), slog.String("kind", string(kind)))
	defer span.End()
	logger := logging.FromContext(ctx).With("request_id", requestID, "caller_id", callerID)

	if err := checkKind(kind); err != nil {
		return RequestRecord{}, err
	}
	if err := checkID("request id", requestID); err != nil {
		return RequestRecord{}, err
	}
	if err := checkID("caller id", callerID); err != nil {
		return RequestRecord{}, err
	}

	now := s.now()
	var updated RequestRecord
	err := s.store.Update(ctx, kind, func(tx Tx) error {
		request, err := tx.FindRequest(ctx, requestID)
		if err != nil {
			return notFound(err)
		}
		res, err := checkResolve(t, request, callerID)
		if err != nil {
			return err
		}
		updated, err = tx.TransitionRequest(ctx, requestID, res.party, callerID, res.target, now)
		return notFound(err)
	})
	if err != nil {
		if IsOutcome(err) {
			span.Fail(err)
			return RequestRecord{}, err
		}
		logger.Error("request transition failed", "transition", t, "error", err)
		return RequestRecord{}, fmt.Errorf("%s: %w", t, err)
	}

	s.publish(ctx, Change{
		Kind:       kind,
		Transition: t,
		Users:      [2]string{updated.SenderID, updated.ReceiverID},
		RequestID:  updated.ID,
		At:         now,
	})
	logger.Info("request resolved", "transition", t, "status", updated.Status)
	return updated, nil
}

// AcceptRequest accepts a pending request and establishes the edge for the
// pair in the same unit of work. Only the receiver may accept. An accept that
// loses a race to an identical accept, or a retry after an ambiguous failure,
// returns the edge that already exists.
func (s *Service) AcceptRequest(ctx context.Context, kind Kind, requestID, callerID string) (EdgeRecord, error) {
	ctx, span := logging.StartSpan(ctx, "relationships.accept_request", slog.String("kind", string(kind)))
	defer span.End()
	logger := logging.FromContext(ctx).With("request_id", requestID, "caller_id", callerID)

	if err := checkKind(kind); err != nil {
		return EdgeRecord{}, err
	}
	if err := checkID("request id", requestID); err != nil {
		return EdgeRecord{}, err
	}
	if err := checkID("caller id", callerID); err != nil {
		return EdgeRecord{}, err
	}

	now := s.now()
	var (
		edge    EdgeRecord
		request RequestRecord
		settled bool
	)
	err := s.store.Update(ctx, kind, func(tx Tx) error {
		settled = false
		var err error
		request, err = tx.FindRequest(ctx, requestID)
		if err != nil {
			return notFound(err)
		}
		pair, err := CanonicalPair(request.SenderID, request.ReceiverID)
		if err != nil {
			return err
		}

		if _, err := checkResolve(TransitionRequestAccepted, request, callerID); err != nil {
			if errors.Is(err, ErrNotFound) && request.Status == RequestAccepted {
				existing, findErr := tx.FindEdge(ctx, pair)
				if findErr != nil {
					return notFound(findErr)
				}
				edge, settled = existing, true
				return nil
			}
			return err
		}

		if _, err := tx.TransitionRequest(ctx, requestID, PartyReceiver, callerID, RequestAccepted, now); err != nil {
			return notFound(err)
		}

		// The reverse request, if any, is satisfied by the same edge.
		reverse, err := tx.FindPending(ctx, request.ReceiverID, request.SenderID)
		switch {
		case err == nil:
			if _, err := tx.TransitionRequest(ctx, reverse.ID, PartySender, request.ReceiverID, RequestAccepted, now); err != nil && !errors.Is(err, ErrNoRows) {
				return err
			}
		case !errors.Is(err, ErrNoRows):
			return err
		}

		candidate := EdgeRecord{ID: s.newID(), Kind: kind, Pair: pair, CreatedAt: now}
		err = tx.InsertEdge(ctx, candidate)
		switch {
		case err == nil:
			edge = candidate
		case errors.Is(err, ErrConflict):
			existing, findErr := tx.FindEdge(ctx, pair)
			if findErr != nil {
				return findErr
			}
			edge, settled = existing, true
		default:
			return err
		}
		return nil
	})
	if err != nil {
		if IsOutcome(err) {
			span.Fail(err)
			return EdgeRecord{}, err
		}
		logger.Error("accept request failed", "error", err)
		return EdgeRecord{}, fmt.Errorf("accept request: %w", err)
	}

	if settled {
		logger.Info("accept request found existing edge", "edge_id", edge.ID)
	} else {
		logger.Info("request accepted", "edge_id", edge.ID)
	}
	s.publish(ctx, Change{
		Kind:       kind,
		Transition: TransitionRequestAccepted,
		Users:      [2]string{request.SenderID, request.ReceiverID},
		RequestID:  request.ID,
		EdgeID:     edge.ID,
		At:         now,
	})
	return edge, nil
}

// RemoveEdge deletes the edge between a and b and purges every request
// between them so either side can send again. Either member may remove it.
func (s *Service) RemoveEdge(ctx context.Context, kind Kind, a, b, callerID string) error {
	ctx, span := logging.StartSpan(ctx, "relationships.remove_edge", slog.String("kind", string(kind)))
	defer span.End()
	logger := logging.FromContext(ctx).With("caller_id", callerID)

	if err := checkKind(kind); err != nil {
		return err
	}
	pair, err := CanonicalPair(a, b)
	if err != nil {
		return err
	}
	if !pair.Contains(callerID) {
		return ErrPermission
	}

	var (
		removed EdgeRecord
		purged  []RequestRecord
	)
	err = s.store.Update(ctx, kind, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteEdge(ctx, pair)
		if err != nil {
			return notFound(err)
		}
		purged, err = tx.DeleteRequestsBetween(ctx, pair)
		return err
	})
	if err != nil {
		if IsOutcome(err) {
			span.Fail(err)
			return err
		}
		logger.Error("remove edge failed", "pair", pair.String(), "error", err)
		return fmt.Errorf("remove edge: %w", err)
	}

	s.archive(ctx, "edge_removed", purged)
	s.publish(ctx, Change{
		Kind:       kind,
		Transition: TransitionEdgeRemoved,
		Users:      [2]string{pair.Low, pair.High},
		EdgeID:     removed.ID,
		At:         s.now(),
	})
	logger.Info("edge removed", "edge_id", removed.ID, "purged", len(purged))
	return nil
}

// ListPending returns the caller's pending requests in one direction, newest first.
func (s *Service) ListPending(ctx context.Context, kind Kind, callerID string, direction Direction, limit int) ([]RequestRecord, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkID("caller id", callerID); err != nil {
		return nil, err
	}
	if direction != DirectionIncoming && direction != DirectionOutgoing {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, direction)
	}

	requests, err := s.store.ListPending(ctx, kind, callerID, direction, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return requests, nil
}

// EdgeCount returns how many edges targetID belongs to. Friend counts are
// readable by anyone; messaging grants only by their owner.
func (s *Service) EdgeCount(ctx context.Context, kind Kind, viewerID, targetID string) (int, error) {
	if err := s.authorizeAggregate(ctx, "count", kind, viewerID, targetID); err != nil {
		return 0, err
	}
	count, err := s.counter.CountEdges(ctx, kind, targetID)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return count, nil
}

// ListEdges returns one page of targetID's edges, under the same rule as EdgeCount.
func (s *Service) ListEdges(ctx context.Context, kind Kind, viewerID, targetID string, limit int, after string) (EdgePage, error) {
	if err := s.authorizeAggregate(ctx, "list", kind, viewerID, targetID); err != nil {
		return EdgePage{}, err
	}

	limit = clampLimit(limit)
	edges, err := s.store.ListEdges(ctx, kind, targetID, limit, after)
	if err != nil {
		return EdgePage{}, fmt.Errorf("list edges: %w", err)
	}

	page := EdgePage{Edges: edges}
	if len(edges) == limit {
		page.Next = edges[len(edges)-1].Pair.Other(targetID)
	}
	return page, nil
}

func (s *Service) authorizeAggregate(ctx context.Context, op string, kind Kind, viewerID, targetID string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	if err := checkID("viewer id", viewerID); err != nil {
		return err
	}
	if err := checkID("user id", targetID); err != nil {
		return err
	}

	allowed := kind == KindFriend || viewerID == targetID
	logging.FromContext(ctx).Info("audit aggregate read",
		"op", op, "kind", kind, "viewer_id", viewerID, "target_id", targetID, "allowed", allowed)
	if !allowed {
		return ErrPermission
	}
	return nil
}

func (s *Service) publish(ctx context.Context, change Change) {
	s.notifier.Publish(ctx, change)
}

func (s *Service) archive(ctx context.Context, reason string, records []RequestRecord) {
	if len(records) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, reason, records); err != nil {
		logging.FromContext(ctx).Warn("archive request records", "reason", reason, "count", len(records), "error", err)
	}
}

func readSnapshot(ctx context.Context, tx Tx, viewerID, otherID string) (Snapshot, error) {
	pair, err := CanonicalPair(viewerID, otherID)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if snap.Edge, err = optional(tx.FindEdge(ctx, pair)); err != nil {
		return Snapshot{}, fmt.Errorf("find edge: %w", err)
	}
	if snap.Sent, err = optional(tx.FindPending(ctx, viewerID, otherID)); err != nil {
		return Snapshot{}, fmt.Errorf("find sent request: %w", err)
	}
	if snap.Received, err = optional(tx.FindPending(ctx, otherID, viewerID)); err != nil {
		return Snapshot{}, fmt.Errorf("find received request: %w", err)
	}
	return snap, nil
}

func optional[T any](value T, err error) (*T, error) {
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// notFound maps a missing row to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
