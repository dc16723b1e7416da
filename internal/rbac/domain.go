package rbac

// Permissions checked by the API routes.
const (
	PermCatalogView      = "catalog.view"
	PermCatalogManage    = "catalog.manage"
	PermDocumentsView    = "documents.view"
	PermDocumentsWrite   = "documents.write"
	PermDocumentsReverse = "documents.reverse"
	PermLedgerView       = "ledger.view"
	PermLedgerReconcile  = "ledger.reconcile"
	PermAuditView        = "audit.view"

	// PermAll grants every permission.
	PermAll = "*"
)

// Built-in roles carried in bearer tokens.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleClerk      = "clerk"
	RoleAuditor    = "auditor"
)

// Policy maps a role name to the permissions it grants.
type Policy map[string][]string

// DefaultPolicy is used when a Middleware has no explicit policy.
var DefaultPolicy = Policy{
	RoleAdmin: {PermAll},
	RoleSupervisor: {
		PermCatalogView, PermCatalogManage,
		PermDocumentsView, PermDocumentsWrite, PermDocumentsReverse,
		PermLedgerView, PermLedgerReconcile,
		PermAuditView,
	},
	RoleClerk: {
		PermCatalogView,
		PermDocumentsView, PermDocumentsWrite,
		PermLedgerView,
	},
	RoleAuditor: {
		PermCatalogView,
		PermDocumentsView,
		PermLedgerView, PermLedgerReconcile,
		PermAuditView,
	},
}
