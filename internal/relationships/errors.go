package relationships

import "errors"

// Outcomes of relationship operations. Callers compare with errors.Is; the
// kinds are stable so clients can react without parsing messages.
var (
	// ErrSelfReference indicates the operation targets the caller.
	ErrSelfReference = errors.New("relationship with self is not allowed")
	// ErrPermission indicates the caller lacks the role required for the transition.
	ErrPermission = errors.New("caller is not permitted to perform this transition")
	// ErrNotFound indicates the request or edge does not exist or was already resolved.
	ErrNotFound = errors.New("relationship record not found")
	// ErrDuplicateRequest indicates a pending request already exists for the ordered pair.
	ErrDuplicateRequest = errors.New("request already pending")
	// ErrAlreadyRelated indicates an edge already exists for the pair.
	ErrAlreadyRelated = errors.New("relationship already established")
	// ErrInvalidInput indicates malformed identifiers, kinds, or messages.
	ErrInvalidInput = errors.New("invalid relationship input")
)

// Store-level outcomes. Store implementations map driver errors onto these.
var (
	// ErrNoRows indicates a lookup found nothing or a conditional write affected zero rows.
	ErrNoRows = errors.New("no matching rows")
	// ErrConflict indicates an insert collided with a uniqueness constraint.
	ErrConflict = errors.New("uniqueness constraint conflict")
	// ErrUnknownUser indicates a referenced user does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// IsOutcome reports whether err is one of the deterministic operation outcomes
// rather than an infrastructure failure.
func IsOutcome(err error) bool {
	for _, target := range []error{ErrSelfReference, ErrPermission, ErrNotFound, ErrDuplicateRequest, ErrAlreadyRelated, ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
