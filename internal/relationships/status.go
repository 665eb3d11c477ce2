package relationships

// Status is the relationship between a viewer and another user as seen by the viewer.
type Status string

const (
	StatusSelf            Status = "self"
	StatusStrangers       Status = "strangers"
	StatusRequestSent     Status = "request_sent"
	StatusRequestReceived Status = "request_received"
	StatusEstablished     Status = "established"
)

// Relationship is the result of a status read. RequestID is set for the two
// request states and EdgeID for StatusEstablished.
type Relationship struct {
	Status    Status `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	EdgeID    string `json:"edgeId,omitempty"`
}

// Snapshot is the committed state observed for a viewer/other pair.
type Snapshot struct {
	Edge *EdgeRecord
	// Sent is the pending request from the viewer to the other user.
	Sent *RequestRecord
	// Received is the pending request from the other user to the viewer.
	Received *RequestRecord
}

// Resolve computes the viewer's status from a snapshot. The first matching
// rule wins: self, established, request sent, request received, strangers.
func Resolve(viewerID, otherID string, snap Snapshot) Relationship {
	if viewerID == otherID {
		return Relationship{Status: StatusSelf}
	}
	if snap.Edge != nil {
		return Relationship{Status: StatusEstablished, EdgeID: snap.Edge.ID}
	}
	if pendingBetween(snap.Sent, viewerID, otherID) {
		return Relationship{Status: StatusRequestSent, RequestID: snap.Sent.ID}
	}
	if pendingBetween(snap.Received, otherID, viewerID) {
		return Relationship{Status: StatusRequestReceived, RequestID: snap.Received.ID}
	}
	return Relationship{Status: StatusStrangers}
}

func pendingBetween(r *RequestRecord, senderID, receiverID string) bool {
	return r != nil && r.Status == RequestPending && r.SenderID == senderID && r.ReceiverID == receiverID
}
