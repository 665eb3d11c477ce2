package relationships

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds the optional note attached to a request, in runes.
const MaxMessageLength = 280

// Transition names a successful state change. It doubles as the change
// notification type.
type Transition string

const (
	TransitionRequestSent      Transition = "request_sent"
	TransitionRequestCancelled Transition = "request_cancelled"
	TransitionRequestAccepted  Transition = "request_accepted"
	TransitionRequestDeclined  Transition = "request_declined"
	TransitionEdgeRemoved      Transition = "edge_removed"
)

// resolution describes how a pending request terminates for a transition.
type resolution struct {
	party  Party
	target RequestStatus
}

var resolutions = map[Transition]resolution{
	TransitionRequestCancelled: {party: PartySender, target: RequestCancelled},
	TransitionRequestAccepted:  {party: PartyReceiver, target: RequestAccepted},
	TransitionRequestDeclined:  {party: PartyReceiver, target: RequestDeclined},
}

// checkResolve validates that caller may move request out of pending via t.
// The role is checked before the status so a stranger never learns whether a
// request is still open.
func checkResolve(t Transition, request RequestRecord, callerID string) (resolution, error) {
	res, ok := resolutions[t]
	if !ok {
		return resolution{}, fmt.Errorf("%w: transition %q does not resolve a request", ErrInvalidInput, t)
	}
	if res.party.of(request) != callerID {
		return resolution{}, ErrPermission
	}
	if request.Status != RequestPending {
		return resolution{}, ErrNotFound
	}
	return res, nil
}

// checkSend validates a send intent against the state observed from the sender's side.
func checkSend(snap Snapshot) error {
	if snap.Edge != nil {
		return ErrAlreadyRelated
	}
	if snap.Sent != nil && snap.Sent.Status == RequestPending {
		return ErrDuplicateRequest
	}
	return nil
}

// explainConflict maps the status re-read after a lost insert race to the
// error the sender should see.
func explainConflict(rel Relationship) error {
	if rel.Status == StatusEstablished {
		return ErrAlreadyRelated
	}
	return ErrDuplicateRequest
}

func normalizeMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if !utf8.ValidString(message) {
		return "", fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidInput)
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageLength)
	}
	return message, nil
}

func checkKind(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown relationship kind %q", ErrInvalidInput, kind)
	}
	return nil
}

func checkID(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return nil
}
