package service

import (
	"context"
	"log/slog"
	"strings"

	"storefront-api/internal/model"
	"storefront-api/internal/repository"
)

// seedAdminEmails ships with the binary. Operators extend the set through
// the ADMIN_EMAILS environment variable; the merged set is immutable after
// process start.
var seedAdminEmails = []string{
	"admin@storefront.dev",
}

// RoleElevator decides, from the configured allow-list, whether an account
// holds administrator privileges. Elevation is lazy: membership is
// re-evaluated on every login and profile fetch instead of being migrated
// into historical records. Admin is sticky; this component never demotes.
type RoleElevator struct {
	users   repository.UserRepository
	allowed map[string]struct{}
}

// NewRoleElevator merges the compiled seed list with a comma-separated
// operator list, normalizing every entry.
func NewRoleElevator(users repository.UserRepository, operatorEmails string) *RoleElevator {
	allowed := make(map[string]struct{})
	for _, email := range seedAdminEmails {
		allowed[model.NormalizeEmail(email)] = struct{}{}
	}
	for _, email := range strings.Split(operatorEmails, ",") {
		if normalized := model.NormalizeEmail(email); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return &RoleElevator{users: users, allowed: allowed}
}

// Decide is the pure elevation policy: (email, currentRole) -> newRole.
func (e *RoleElevator) Decide(email string, current model.Role) model.Role {
	if current == model.RoleAdmin {
		return model.RoleAdmin
	}
	if _, ok := e.allowed[model.NormalizeEmail(email)]; ok {
		return model.RoleAdmin
	}
	return current
}

// ElevateIfNeeded persists a pending promotion. A persistence failure is
// logged and swallowed: failing to elevate must never block a login.
func (e *RoleElevator) ElevateIfNeeded(ctx context.Context, user *model.User) {
	next := e.Decide(user.Email, user.Role)
	if next == user.Role {
		return
	}

	if err := e.users.UpdateRole(ctx, user.ID, next); err != nil {
		slog.Warn("role elevation failed", "user_id", user.ID, "error", err)
		return
	}

	user.Role = next
}
