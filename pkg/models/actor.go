// Package models contains domain types for stroymon-engine.
package models

import "context"

// ActorKind distinguishes how a change entered the system.
type ActorKind string

const (
	// ActorParser marks changes applied by the batch feed parser.
	ActorParser ActorKind = "parser"
	// ActorHuman marks changes attributed to a named user in the source feed.
	ActorHuman ActorKind = "human"
)

// Actor carries the identity attached to every state mutation.
// It is threaded through context so the change log recorder can attribute
// diffs without every service signature carrying an actor parameter.
type Actor struct {
	Username string
	Kind     ActorKind
}

// SystemActor is used by sweep jobs (risk derivation, hierarchy sync) that
// mutate state without a source record behind them.
var SystemActor = Actor{Username: "system", Kind: ActorParser}

type actorKey struct{}

// WithActor returns a new context with the actor attached.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor retrieves the actor from the context.
// Returns the actor and true if present, otherwise a zero value and false.
func GetActor(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// ActorOrSystem returns the context actor, falling back to SystemActor.
func ActorOrSystem(ctx context.Context) Actor {
	if a, ok := GetActor(ctx); ok {
		return a
	}
	return SystemActor
}
