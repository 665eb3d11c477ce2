package repositories

import (
	"fmt"

	"github.com/campusfriends/backend/internal/relationships"
)

// RelationshipTables names the ledger and edge tables that back one kind.
type RelationshipTables struct {
	Requests string
	Edges    string
}

var relationshipTables = map[relationships.Kind]RelationshipTables{
	relationships.KindFriend:  {Requests: "friend_requests", Edges: "friendships"},
	relationships.KindMessage: {Requests: "message_requests", Edges: "message_grants"},
}

// TablesFor returns the tables for kind. Table names never come from input,
// so callers may interpolate them into SQL.
func TablesFor(kind relationships.Kind) (RelationshipTables, error) {
	tables, ok := relationshipTables[kind]
	if !ok {
		return RelationshipTables{}, fmt.Errorf("%w: unknown relationship kind %q", relationships.ErrInvalidInput, kind)
	}
	return tables, nil
}

// PartyColumn names the ledger column that holds party's user id.
func PartyColumn(party relationships.Party) string {
	if party == relationships.PartySender {
		return "sender_id"
	}
	return "receiver_id"
}

// RequestColumns lists ledger columns in scan order.
const RequestColumns = "id, sender_id, receiver_id, status, message, created_at, updated_at"

// EdgeColumns lists edge columns in scan order.
const EdgeColumns = "id, pair_low, pair_high, created_at"
