package relationships

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errReadOnly = errors.New("relationships: write attempted in a read-only unit of work")

// InMemoryStore implements Store for tests and local development. Units of
// work are serialized and applied copy-on-write, so a failed Update leaves
// no trace. Users are not validated.
type InMemoryStore struct {
	mu     sync.RWMutex
	tables map[Kind]*memTables
}

type memTables struct {
	requests map[string]RequestRecord
	edges    map[Pair]EdgeRecord
}

// NewInMemoryStore returns an empty store with tables for every kind.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{tables: make(map[Kind]*memTables, len(Kinds))}
	for _, kind := range Kinds {
		s.tables[kind] = &memTables{
			requests: make(map[string]RequestRecord),
			edges:    make(map[Pair]EdgeRecord),
		}
	}
	return s
}

func (t *memTables) clone() *memTables {
	out := &memTables{
		requests: make(map[string]RequestRecord, len(t.requests)),
		edges:    make(map[Pair]EdgeRecord, len(t.edges)),
	}
	for id, r := range t.requests {
		out.requests[id] = r
	}
	for p, e := range t.edges {
		out.edges[p] = e
	}
	return out
}

// View runs fn against the committed state.
func (s *InMemoryStore) View(ctx context.Context, kind Kind, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKind(kind); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{kind: kind, tables: s.tables[kind], readOnly: true})
}

// Update runs fn against a private copy and publishes it when fn succeeds.
func (s *InMemoryStore) Update(ctx context.Context, kind Kind, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKind(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.tables[kind].clone()
	if err := fn(&memTx{kind: kind, tables: working}); err != nil {
		return err
	}
	s.tables[kind] = working
	return nil
}

// CountEdges counts edges that include userID.
func (s *InMemoryStore) CountEdges(ctx context.Context, kind Kind, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for pair := range s.tables[kind].edges {
		if pair.Contains(userID) {
			count++
		}
	}
	return count, nil
}

// ListEdges returns userID's edges ordered by the other member's id.
func (s *InMemoryStore) ListEdges(ctx context.Context, kind Kind, userID string, limit int, after string) ([]EdgeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var edges []EdgeRecord
	for pair, edge := range s.tables[kind].edges {
		if pair.Contains(userID) && pair.Other(userID) > after {
			edges = append(edges, edge)
		}
	}
	s.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Pair.Other(userID) < edges[j].Pair.Other(userID)
	})
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges, nil
}

// ListPending returns pending requests addressed to or sent by userID, newest first.
func (s *InMemoryStore) ListPending(ctx context.Context, kind Kind, userID string, direction Direction, limit int) ([]RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []RequestRecord
	for _, r := range s.tables[kind].requests {
		if r.Status != RequestPending {
			continue
		}
		if (direction == DirectionIncoming && r.ReceiverID == userID) || (direction == DirectionOutgoing && r.SenderID == userID) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Requests returns every stored request of kind. Useful for tests.
func (s *InMemoryStore) Requests(kind Kind) []RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RequestRecord, 0, len(s.tables[kind].requests))
	for _, r := range s.tables[kind].requests {
		out = append(out, r)
	}
	return out
}

// Edges returns every stored edge of kind. Useful for tests.
func (s *InMemoryStore) Edges(kind Kind) []EdgeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EdgeRecord, 0, len(s.tables[kind].edges))
	for _, e := range s.tables[kind].edges {
		out = append(out, e)
	}
	return out
}

type memTx struct {
	kind     Kind
	tables   *memTables
	readOnly bool
}

func (t *memTx) FindEdge(_ context.Context, pair Pair) (EdgeRecord, error) {
	edge, ok := t.tables.edges[pair]
	if !ok {
		return EdgeRecord{}, ErrNoRows
	}
	return edge, nil
}

func (t *memTx) FindRequest(_ context.Context, requestID string) (RequestRecord, error) {
	r, ok := t.tables.requests[requestID]
	if !ok {
		return RequestRecord{}, ErrNoRows
	}
	return r, nil
}

func (t *memTx) FindPending(_ context.Context, senderID, receiverID string) (RequestRecord, error) {
	for _, r := range t.tables.requests {
		if r.Status == RequestPending && r.SenderID == senderID && r.ReceiverID == receiverID {
			return r, nil
		}
	}
	return RequestRecord{}, ErrNoRows
}

func (t *memTx) InsertRequest(ctx context.Context, request RequestRecord) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, ok := t.tables.requests[request.ID]; ok {
		return ErrConflict
	}
	if request.Status == RequestPending {
		if _, err := t.FindPending(ctx, request.SenderID, request.ReceiverID); err == nil {
			return ErrConflict
		}
	}
	request.Kind = t.kind
	t.tables.requests[request.ID] = request
	return nil
}

func (t *memTx) TransitionRequest(_ context.Context, requestID string, party Party, callerID string, status RequestStatus, at time.Time) (RequestRecord, error) {
	if t.readOnly {
		return RequestRecord{}, errReadOnly
	}
	r, ok := t.tables.requests[requestID]
	if !ok || r.Status != RequestPending || party.of(r) != callerID {
		return RequestRecord{}, ErrNoRows
	}
	r.Status = status
	r.UpdatedAt = at
	t.tables.requests[requestID] = r
	return r, nil
}

func (t *memTx) DeleteResolved(_ context.Context, senderID, receiverID string) ([]RequestRecord, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	var removed []RequestRecord
	for id, r := range t.tables.requests {
		if r.SenderID == senderID && r.ReceiverID == receiverID && r.Status.Terminal() {
			removed = append(removed, r)
			delete(t.tables.requests, id)
		}
	}
	return removed, nil
}

func (t *memTx) DeleteRequestsBetween(_ context.Context, pair Pair) ([]RequestRecord, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	var removed []RequestRecord
	for id, r := range t.tables.requests {
		if p, err := CanonicalPair(r.SenderID, r.ReceiverID); err == nil && p == pair {
			removed = append(removed, r)
			delete(t.tables.requests, id)
		}
	}
	return removed, nil
}

func (t *memTx) InsertEdge(_ context.Context, edge EdgeRecord) error {
	if t.readOnly {
		return errReadOnly
	}
	if !edge.Pair.Valid() {
		return ErrInvalidInput
	}
	if _, ok := t.tables.edges[edge.Pair]; ok {
		return ErrConflict
	}
	edge.Kind = t.kind
	t.tables.edges[edge.Pair] = edge
	return nil
}

func (t *memTx) DeleteEdge(_ context.Context, pair Pair) (EdgeRecord, error) {
	if t.readOnly {
		return EdgeRecord{}, errReadOnly
	}
	edge, ok := t.tables.edges[pair]
	if !ok {
		return EdgeRecord{}, ErrNoRows
	}
	delete(t.tables.edges, pair)
	return edge, nil
}

var _ Store = (*InMemoryStore)(nil)
