package auth

import "context"

// CallerInfo is a key type for storing the caller identity in context
type CallerInfo string

// ContextCallerKey is the key used to store the caller identity in context
const ContextCallerKey CallerInfo = "caller"

// Caller identifies who made a request, as far as upstream layers told us.
type Caller struct {
	Subject string
	// Source is where the identity came from: "gateway" or "token".
	Source string
}

// WithCaller adds the caller identity to the context
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ContextCallerKey, c)
}

// GetCaller retrieves the caller identity from context
func GetCaller(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ContextCallerKey).(Caller)
	return c, ok
}
