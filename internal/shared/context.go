package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated caller for audit attribution.
type Actor struct {
	ID int64
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}

// ActorID returns the actor id or zero when unauthenticated.
func ActorID(ctx context.Context) int64 {
	if actor := ActorFromContext(ctx); actor != nil {
		return actor.ID
	}
	return 0
}
