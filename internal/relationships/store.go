package relationships

import (
	"context"
	"time"
)

// Store runs units of work against the ledger and edge tables of one kind.
//
// Update commits only when fn returns nil. Implementations may run fn more
// than once when the backing store asks for a retry, so fn must confine its
// effects to the Tx it is given.
type Store interface {
	View(ctx context.Context, kind Kind, fn func(Tx) error) error
	Update(ctx context.Context, kind Kind, fn func(Tx) error) error
	Reader
}

// Tx exposes the primitives the guard composes. Lookups return ErrNoRows when
// nothing matches; conditional writes return ErrNoRows when zero rows change.
type Tx interface {
	FindEdge(ctx context.Context, pair Pair) (EdgeRecord, error)
	FindRequest(ctx context.Context, requestID string) (RequestRecord, error)
	// FindPending returns the pending request for the ordered pair.
	FindPending(ctx context.Context, senderID, receiverID string) (RequestRecord, error)

	// InsertRequest returns ErrConflict when a pending request already exists
	// for the ordered pair and ErrUnknownUser when either user is missing.
	InsertRequest(ctx context.Context, request RequestRecord) error
	// TransitionRequest moves a pending request to status when party matches
	// callerID, returning the updated record.
	TransitionRequest(ctx context.Context, requestID string, party Party, callerID string, status RequestStatus, at time.Time) (RequestRecord, error)
	// DeleteResolved removes terminal requests for the ordered pair and returns them.
	DeleteResolved(ctx context.Context, senderID, receiverID string) ([]RequestRecord, error)
	// DeleteRequestsBetween removes every request between the pair in either direction.
	DeleteRequestsBetween(ctx context.Context, pair Pair) ([]RequestRecord, error)

	// InsertEdge returns ErrConflict when an edge already exists for the pair.
	InsertEdge(ctx context.Context, edge EdgeRecord) error
	DeleteEdge(ctx context.Context, pair Pair) (EdgeRecord, error)
}

// Reader serves the aggregate reads that span both halves of every pair.
type Reader interface {
	EdgeCounter
	ListEdges(ctx context.Context, kind Kind, userID string, limit int, after string) ([]EdgeRecord, error)
	ListPending(ctx context.Context, kind Kind, userID string, direction Direction, limit int) ([]RequestRecord, error)
}

// EdgeCounter counts the edges a user belongs to.
type EdgeCounter interface {
	CountEdges(ctx context.Context, kind Kind, userID string) (int, error)
}

// Notifier receives a Change after every committed transition.
type Notifier interface {
	Publish(ctx context.Context, change Change)
}

// Archiver retains request records that leave the ledger.
type Archiver interface {
	Archive(ctx context.Context, reason string, records []RequestRecord) error
}

// Change tells both members of a pair that their view of the relationship is stale.
type Change struct {
	Kind       Kind       `json:"kind"`
	Transition Transition `json:"transition"`
	Users      [2]string  `json:"users"`
	RequestID  string     `json:"requestId,omitempty"`
	EdgeID     string     `json:"edgeId,omitempty"`
	At         time.Time  `json:"at"`
}

// Involves reports whether userID is one of the change's participants.
func (c Change) Involves(userID string) bool {
	return userID != "" && (c.Users[0] == userID || c.Users[1] == userID)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, Change) {}

type noopArchiver struct{}

func (noopArchiver) Archive(context.Context, string, []RequestRecord) error { return nil }
