package gate

import "context"

// Profile represents a role with a set of permissions.
type Profile interface {
	Name() string
	HasPermission(permission Permission) bool
	Permissions() []Permission
}

// ProfileResolver resolves a user to their profile.
type ProfileResolver[U any] interface {
	Resolve(ctx context.Context, user U) (Profile, error)
}

// ResolverFunc adapts a function to ProfileResolver.
type ResolverFunc[U any] func(ctx context.Context, user U) (Profile, error)

func (f ResolverFunc[U]) Resolve(ctx context.Context, user U) (Profile, error) { return f(ctx, user) }

// StaticProfile is a simple in-memory profile implementation.
type StaticProfile struct {
	name        string
	permissions map[Permission]bool
}

// NewStaticProfile creates a profile with the given permissions.
func NewStaticProfile(name string, permissions ...Permission) *StaticProfile {
	p := &StaticProfile{
		name:        name,
		permissions: make(map[Permission]bool),
	}
	for _, perm := range permissions {
		p.permissions[perm] = true
	}
	return p
}

func (p *StaticProfile) Name() string { return p.name }

// Permissions returns all permissions in this profile.
func (p *StaticProfile) Permissions() []Permission {
	perms := make([]Permission, 0, len(p.permissions))
	for perm := range p.permissions {
		perms = append(perms, perm)
	}
	return perms
}

// HasPermission checks if the profile has the requested permission.
// Supports wildcard matching.
func (p *StaticProfile) HasPermission(requested Permission) bool {
	for perm := range p.permissions {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

// Grant builds the permissions for every action on each resource type.
func Grant(resourceTypes []string, actions ...Action) []Permission {
	perms := make([]Permission, 0, len(resourceTypes)*len(actions))
	for _, rt := range resourceTypes {
		for _, a := range actions {
			perms = append(perms, NewPermission(rt, a))
		}
	}
	return perms
}
