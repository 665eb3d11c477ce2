package handlers

import (
	"context"

	"github.com/campusfriends/backend/internal/models"
	"github.com/campusfriends/backend/internal/relationships"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// SessionManager issues and refreshes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
}

// RelationshipService applies relationship intents on behalf of the caller.
type RelationshipService interface {
	Status(ctx context.Context, kind relationships.Kind, viewerID, otherID string) (relationships.Relationship, error)
	SendRequest(ctx context.Context, kind relationships.Kind, senderID, receiverID, message string) (relationships.RequestRecord, error)
	CancelRequest(ctx context.Context, kind relationships.Kind, requestID, callerID string) error
	DeclineRequest(ctx context.Context, kind relationships.Kind, requestID, callerID string) error
	AcceptRequest(ctx context.Context, kind relationships.Kind, requestID, callerID string) (relationships.EdgeRecord, error)
	RemoveEdge(ctx context.Context, kind relationships.Kind, a, b, callerID string) error
	ListPending(ctx context.Context, kind relationships.Kind, callerID string, direction relationships.Direction, limit int) ([]relationships.RequestRecord, error)
	EdgeCount(ctx context.Context, kind relationships.Kind, viewerID, targetID string) (int, error)
	ListEdges(ctx context.Context, kind relationships.Kind, viewerID, targetID string, limit int, after string) (relationships.EdgePage, error)
}

// ChangeSubscriber registers a callback for one user's relationship changes.
// The returned function removes the subscription.
type ChangeSubscriber interface {
	Subscribe(userID string, cb func(relationships.Change)) func()
}
