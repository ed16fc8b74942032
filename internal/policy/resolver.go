package policy

import (
	"context"
	"errors"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/internal/models"
	"gorm.io/gorm"
)

// ContractResources are the authorization resource types of the contract kinds.
var ContractResources = []string{
	models.ContractKindDeposit.Resource(),
	models.ContractKindPurchase.Resource(),
	models.ContractKindRental.Resource(),
}

var (
	adminProfile = gate.NewStaticProfile("admin", gate.PermissionSuperAdmin)
	agentProfile = gate.NewStaticProfile("agent", gate.Grant(ContractResources,
		gate.ActionCreate, gate.ActionView, gate.ActionList, gate.ActionUpdate,
		gate.ActionDelete, gate.ActionTransition, gate.ActionCancel)...)
	customerProfile = gate.NewStaticProfile("customer", gate.Grant(ContractResources,
		gate.ActionView, gate.ActionList, gate.ActionCancel)...)
)

// ProfileForRole returns the static profile of a role, or nil.
func ProfileForRole(role auth.Role) gate.Profile {
	switch role {
	case auth.RoleAdmin:
		return adminProfile
	case auth.RoleAgent:
		return agentProfile
	case auth.RoleCustomer:
		return customerProfile
	}
	return nil
}

// ClaimsResolver trusts the role carried by the actor.
func ClaimsResolver() gate.ProfileResolver[auth.Actor] {
	return gate.ResolverFunc[auth.Actor](func(_ context.Context, a auth.Actor) (gate.Profile, error) {
		return ProfileForRole(a.Role), nil
	})
}

// DBRoleResolver resolves the actor's current role from the users table, so a
// demoted or deleted user loses access even with a valid token.
type DBRoleResolver struct {
	DB *gorm.DB
}

func NewDBRoleResolver(db *gorm.DB) *DBRoleResolver {
	return &DBRoleResolver{DB: db}
}

func (r *DBRoleResolver) Resolve(ctx context.Context, a auth.Actor) (gate.Profile, error) {
	var user models.User
	err := r.DB.WithContext(ctx).Select("id", "role").First(&user, a.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ProfileForRole(auth.Role(user.Role)), nil
}
