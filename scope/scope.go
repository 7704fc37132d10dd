// Package scope carries tenant and actor identity through a
// context.Context. The request handler attaches the caller's identity;
// the executor reads it to tag audit entries and restores the run's
// organization on every step invocation.
package scope

import "context"

type ctxKey int

const (
	orgKey ctxKey = iota
	actorKey
)

// WithOrg attaches an organization id to ctx.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgFrom returns the organization id attached to ctx.
func OrgFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(orgKey).(string)
	return v, ok && v != ""
}

// WithActor attaches the id of the user or system acting on the run.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFrom returns the actor id attached to ctx.
func ActorFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey).(string)
	return v, ok && v != ""
}

// Capture extracts the organization and actor ids from ctx.
// Missing values are returned as empty strings.
func Capture(ctx context.Context) (orgID, actorID string) {
	orgID, _ = OrgFrom(ctx)
	actorID, _ = ActorFrom(ctx)
	return orgID, actorID
}

// Restore attaches the non-empty ids to ctx.
func Restore(ctx context.Context, orgID, actorID string) context.Context {
	if orgID != "" {
		ctx = WithOrg(ctx, orgID)
	}
	if actorID != "" {
		ctx = WithActor(ctx, actorID)
	}
	return ctx
}
