package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated user's ID in context.
func ContextWithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, userID)
}

// ActorFromContext extracts the authenticated user's ID. The second
// return is false for unauthenticated requests.
func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	return id, ok && id != 0
}
