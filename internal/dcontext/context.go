package dcontext

import (
	"context"

	"github.com/rockslide/rockslide/internal/uuid"
)

type instanceIDKey struct{}

func (instanceIDKey) String() string { return "instance.id" }

type versionKey struct{}

func (versionKey) String() string { return "version" }

// Background returns a root context tagged with a per-process instance id.
func Background() context.Context {
	return context.WithValue(context.Background(), instanceIDKey{}, instanceID)
}

var instanceID = uuid.NewString()

// GetInstanceID returns the instance id carried by a context derived from
// Background, or "".
func GetInstanceID(ctx context.Context) string {
	return GetStringValue(ctx, instanceIDKey{})
}

// WithVersion records the running registry version on ctx and on its logger.
func WithVersion(ctx context.Context, version string) context.Context {
	ctx = context.WithValue(ctx, versionKey{}, version)
	return WithLogger(ctx, GetLogger(ctx, versionKey{}))
}

// GetVersion returns the version recorded by WithVersion, if any.
func GetVersion(ctx context.Context) string {
	return GetStringValue(ctx, versionKey{})
}

// Detach returns a context that keeps the values of ctx (logger, request id)
// but is never cancelled. Background work started from a request uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// GetStringValue returns ctx.Value(key) when it is a string, or "".
func GetStringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}
