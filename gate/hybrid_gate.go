// Package gate provides a Gate/Policy authorization system.
// A HybridGate first checks the caller's profile for a "resource:action"
// permission, then asks the resource's registered Policy whether the caller
// may act on that specific record.
//
// The package uses generics to allow any subject type, e.g. HybridGate[auth.Actor]
// for token-derived actors or HybridGate[uint] for bare user ids.
package gate

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized is returned when the subject lacks the permission or
	// the resource's policy refuses the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoPolicyDefined is returned when a resource is passed for a
	// resource type with no registered policy.
	ErrNoPolicyDefined = errors.New("no policy defined for resource")
)

// HybridGate combines profile-based global permissions with resource-specific policies.
// Authorization flow:
//  1. Check if user is valid (non-zero)
//  2. Check if user's profile has the required permission (resource:action)
//  3. If a resource is provided, its registered policy must allow the action
type HybridGate[U comparable] struct {
	resolver ProfileResolver[U]
	policies map[string]Policy[U]
}

// NewHybridGate creates a hybrid gate with the given profile resolver.
func NewHybridGate[U comparable](resolver ProfileResolver[U]) *HybridGate[U] {
	return &HybridGate[U]{
		resolver: resolver,
		policies: make(map[string]Policy[U]),
	}
}

// Register adds a resource-specific policy for party checks.
// Overwrites any existing policy for that type.
func (g *HybridGate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns ErrUnauthorized for a zero-value user, a missing permission
// or a denying policy. A resource without a registered policy yields
// ErrNoPolicyDefined so that record-level checks cannot be skipped by accident.
func (g *HybridGate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	if !g.CanProfile(ctx, user, action, resourceType) {
		return ErrUnauthorized
	}
	if resource == nil {
		return nil
	}
	policy, ok := g.policies[resourceType]
	if !ok {
		return ErrNoPolicyDefined
	}
	if !policy.Can(ctx, user, action, resource) {
		return ErrUnauthorized
	}
	return nil
}

// Can is a convenience wrapper returning bool instead of error.
func (g *HybridGate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}

// CanProfile checks only the profile permission, without the record check.
func (g *HybridGate[U]) CanProfile(ctx context.Context, user U, action Action, resourceType string) bool {
	var zero U
	if user == zero {
		return false
	}
	profile, err := g.resolver.Resolve(ctx, user)
	if err != nil || profile == nil {
		return false
	}
	return profile.HasPermission(NewPermission(resourceType, action))
}
