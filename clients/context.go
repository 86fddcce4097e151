package clients

import "context"

// unique type to prevent assignment.
type callerContextKeyType struct{}

var callerContextKey = callerContextKeyType{}

// WithCaller stores the resolved caller identity on the context. The auth
// middleware sets it; handlers read it back with CallerFrom.
func WithCaller(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, callerContextKey, user)
}

func CallerFrom(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(callerContextKey).(User)
	return user, ok
}
