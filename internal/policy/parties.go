package policy

import (
	"context"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
)

// Parties are the users attached to one contract.
type Parties struct {
	AgentID    *uint
	CustomerID uint
	OwnerID    uint
}

// IsAgent reports whether userID is the assigned sales agent.
func (p Parties) IsAgent(userID uint) bool {
	return p.AgentID != nil && *p.AgentID == userID
}

// PartyPolicy grants write actions to the assigned agent only. Read actions
// and cancel are also granted to the customer and the property owner.
// Void and decide have no party grant, so only the admin bypass allows them.
type PartyPolicy struct{}

func NewPartyPolicy() *PartyPolicy {
	return &PartyPolicy{}
}

func (p *PartyPolicy) Can(_ context.Context, a auth.Actor, action gate.Action, resource any) bool {
	parties, ok := resource.(*Parties)
	if !ok {
		// Unknown resources are denied so a missing check never grants access.
		return false
	}
	switch action {
	case gate.ActionVoid, gate.ActionDecide:
		return false
	case gate.ActionView, gate.ActionList, gate.ActionCancel:
		if a.UserID == parties.CustomerID || a.UserID == parties.OwnerID {
			return true
		}
	}
	return a.IsAgent() && parties.IsAgent(a.UserID)
}

// AdminBypassPolicy wraps another policy and always allows access for admins.
type AdminBypassPolicy struct {
	inner       gate.Policy[auth.Actor]
	isAdminFunc func(ctx context.Context, a auth.Actor) bool
}

// NewAdminBypassPolicy creates a policy that bypasses party checks for admins.
func NewAdminBypassPolicy(inner gate.Policy[auth.Actor], isAdminFunc func(ctx context.Context, a auth.Actor) bool) *AdminBypassPolicy {
	return &AdminBypassPolicy{
		inner:       inner,
		isAdminFunc: isAdminFunc,
	}
}

func (p *AdminBypassPolicy) Can(ctx context.Context, a auth.Actor, action gate.Action, resource any) bool {
	if p.isAdminFunc(ctx, a) {
		return true
	}
	return p.inner.Can(ctx, a, action, resource)
}
