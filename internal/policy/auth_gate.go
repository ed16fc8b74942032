package policy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/httpx"
	"github.com/diewo77/go-brokerage/internal/apperr"
)

// AuthGate holds the configured HybridGate with caching.
// It is the single authorization point of the contract services.
type AuthGate struct {
	Gate          *gate.HybridGate[auth.Actor]
	CacheResolver *gate.CachedResolver[auth.Actor]
}

// NewAuthGate builds a gate over resolver, caching profiles for cacheTTL, and
// registers the party policy (with admin bypass) for every contract kind.
func NewAuthGate(resolver gate.ProfileResolver[auth.Actor], cacheTTL time.Duration) *AuthGate {
	cachedResolver := gate.NewCachedResolver[auth.Actor](resolver, cacheTTL)
	hybridGate := gate.NewHybridGate[auth.Actor](cachedResolver)
	ag := &AuthGate{
		Gate:          hybridGate,
		CacheResolver: cachedResolver,
	}
	parties := NewAdminBypassPolicy(NewPartyPolicy(), ag.IsAdmin)
	for _, rt := range ContractResources {
		hybridGate.Register(rt, parties)
	}
	return ag
}

// IsAdmin reports whether the actor's resolved profile holds "*:*".
func (ag *AuthGate) IsAdmin(ctx context.Context, a auth.Actor) bool {
	profile, err := ag.CacheResolver.Resolve(ctx, a)
	return err == nil && profile != nil && profile.HasPermission(gate.PermissionSuperAdmin)
}

// Authorize checks the actor against a contract's parties. A nil parties
// value checks the role permission only. Denials are returned as apperr Forbidden.
func (ag *AuthGate) Authorize(ctx context.Context, a auth.Actor, action gate.Action, resourceType string, parties *Parties) error {
	var resource any
	if parties != nil {
		resource = parties
	}
	err := ag.Gate.Authorize(ctx, a, action, resourceType, resource)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gate.ErrUnauthorized):
		return apperr.Forbidden("You do not have permission to " + string(action) + " this " + resourceType)
	default:
		return err
	}
}

// InvalidateUser clears the cache for a specific actor.
func (ag *AuthGate) InvalidateUser(a auth.Actor) {
	ag.CacheResolver.Invalidate(a)
}

// RequireAdmin returns middleware that only allows actors with the admin profile.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := auth.ActorFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.IsAdmin(r.Context(), a) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
