package tools

import "context"

type sessionIDKey struct{}

// WithSessionID attaches the calling session's ID to the context so
// handlers can associate side effects with the conversation.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFrom returns the session ID attached by WithSessionID, or
// the empty string.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
