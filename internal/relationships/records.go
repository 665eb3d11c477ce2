package relationships

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the relationship flow. Each kind has its own ledger and edge table.
type Kind string

const (
	// KindFriend models friend requests resolving into a visible friendship.
	KindFriend Kind = "friend"
	// KindMessage models message requests resolving into a messaging grant.
	KindMessage Kind = "message"
)

// Kinds lists every supported relationship kind.
var Kinds = []Kind{KindFriend, KindMessage}

// ParseKind resolves a textual kind. An empty value selects KindFriend.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case "", KindFriend:
		return KindFriend, nil
	case KindMessage:
		return KindMessage, nil
	default:
		return "", fmt.Errorf("%w: unknown relationship kind %q", ErrInvalidInput, value)
	}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindFriend || k == KindMessage
}

// RequestStatus is the lifecycle state of a RequestRecord.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestDeclined || s == RequestCancelled
}

// RequestRecord is a directed intent from SenderID to ReceiverID.
type RequestRecord struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Status     RequestStatus `json:"status"`
	Message    string        `json:"message,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// EdgeRecord is an established, undirected relationship between the pair.
type EdgeRecord struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Pair      Pair      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// EdgePage is one page of a user's edges ordered by the other member's id.
type EdgePage struct {
	Edges []EdgeRecord
	// Next is the cursor for the following page; empty on the last page.
	Next string
}

// Party names which side of a request a caller must be for a transition.
type Party int

const (
	PartySender Party = iota
	PartyReceiver
)

func (p Party) of(r RequestRecord) string {
	if p == PartySender {
		return r.SenderID
	}
	return r.ReceiverID
}

// Direction filters pending requests relative to a user.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ParseDirection resolves a textual direction. An empty value selects incoming.
func ParseDirection(value string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case "", DirectionIncoming:
		return DirectionIncoming, nil
	case DirectionOutgoing:
		return DirectionOutgoing, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, value)
	}
}
