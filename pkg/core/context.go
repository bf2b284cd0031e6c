package core

import "context"

type ctxKeySessionID struct{}

// WithSessionID tags ctx with the session an operation belongs to, for
// collaborators reached through interfaces that only see the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, id)
}

// SessionIDFrom returns the session id carried by ctx, if any.
func SessionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeySessionID{}).(string)
	return id, ok
}
