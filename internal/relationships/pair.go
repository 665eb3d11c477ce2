package relationships

import (
	"fmt"
	"strings"
)

// Pair is the order-independent key for two identities. Low always sorts
// before High, so Pair values for (a, b) and (b, a) are equal.
type Pair struct {
	Low  string
	High string
}

// CanonicalPair orders a and b by byte-wise string comparison.
func CanonicalPair(a, b string) (Pair, error) {
	if a == "" || b == "" {
		return Pair{}, fmt.Errorf("%w: both identities are required", ErrInvalidInput)
	}

	switch strings.Compare(a, b) {
	case 0:
		return Pair{}, ErrSelfReference
	case -1:
		return Pair{Low: a, High: b}, nil
	default:
		return Pair{Low: b, High: a}, nil
	}
}

// Contains reports whether id is one of the pair's members.
func (p Pair) Contains(id string) bool {
	return id != "" && (p.Low == id || p.High == id)
}

// Other returns the member that is not id, or "" when id is not a member.
func (p Pair) Other(id string) string {
	switch id {
	case p.Low:
		return p.High
	case p.High:
		return p.Low
	default:
		return ""
	}
}

// Valid reports whether the pair is in canonical order.
func (p Pair) Valid() bool {
	return p.Low != "" && p.High != "" && p.Low < p.High
}

func (p Pair) String() string {
	return p.Low + ":" + p.High
}
