package rbac

import (
	"sort"
	"strings"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// EffectivePermissions resolves the permission set granted to the principal's
// roles. Unknown roles grant nothing.
func (p Policy) EffectivePermissions(principal shared.Principal) []string {
	unique := make(map[string]struct{})
	for _, role := range principal.Roles {
		for _, perm := range p[strings.ToLower(strings.TrimSpace(role))] {
			unique[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(unique))
	for perm := range unique {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}
