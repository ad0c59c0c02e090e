// Package scope carries the caller identity (acting user and organization)
// through context.Context and across the asynchronous boundaries the lock
// executor introduces.
package scope

import "context"

// Identity is who a piece of work runs on behalf of.
type Identity struct {
	Actor          string `json:"actor,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// IsZero reports whether no identity fields are set.
func (i Identity) IsZero() bool {
	return i.Actor == "" && i.OrganizationID == ""
}

type identityKey struct{}

// Capture extracts the identity from the context. Returns the zero
// Identity if none is present.
func Capture(ctx context.Context) Identity {
	i, _ := ctx.Value(identityKey{}).(Identity) //nolint:errcheck // zero value on miss
	return i
}

// Restore attaches identity to the context. A zero Identity leaves ctx
// unchanged.
func Restore(ctx context.Context, i Identity) context.Context {
	if i.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, i)
}
