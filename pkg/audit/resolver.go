package audit

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tally/pkg/contextkeys"
)

// Resolver determines the acting principal for an audit record. The value
// is opaque to the core.
type Resolver interface {
	Resolve(ctx context.Context) (Value, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context) (Value, error)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(ctx context.Context) (Value, error) {
	return f(ctx)
}

type constantResolver struct {
	v Value
}

func (c constantResolver) Resolve(context.Context) (Value, error) { return c.v, nil }

// Constant always resolves to v
func Constant(v Value) Resolver {
	return constantResolver{v: v}
}

// ContextResolver resolves the actor stored on the context by the HTTP
// middleware, or null when the request is anonymous
func ContextResolver() Resolver {
	return ResolverFunc(func(ctx context.Context) (Value, error) {
		if userID := contextkeys.GetUserID(ctx); userID != "" {
			return String(userID), nil
		}
		return Null(), nil
	})
}

// Resolver names accepted by ResolverByName
const (
	ResolverContext   = "context"
	ResolverAnonymous = "anonymous"
	ResolverSystem    = "system"
)

// ResolverByName returns the strategy configured by name
func ResolverByName(name string) (Resolver, error) {
	switch name {
	case ResolverContext:
		return ContextResolver(), nil
	case ResolverAnonymous:
		return Constant(Null()), nil
	case ResolverSystem:
		return Constant(String("system")), nil
	default:
		return nil, fmt.Errorf("%w: unknown resolver %q", ErrInvalidResolver, name)
	}
}

// Resolve invokes r. A missing resolver fails with ErrInvalidResolver since
// resolution is mandatory whenever a record is built.
func Resolve(ctx context.Context, r Resolver) (Value, error) {
	if r == nil {
		return Value{}, fmt.Errorf("%w: no resolver configured", ErrInvalidResolver)
	}
	if f, ok := r.(ResolverFunc); ok && f == nil {
		return Value{}, fmt.Errorf("%w: resolver function is nil", ErrInvalidResolver)
	}
	v, err := r.Resolve(ctx)
	if err != nil {
		return Value{}, fmt.Errorf("failed to resolve audit user: %w", err)
	}
	return v, nil
}
