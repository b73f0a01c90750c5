package rbac

// Role constants
const (
	RoleJudge   = "judge"
	RoleClerk   = "clerk"
	RoleAuditor = "auditor"
	RoleAdmin   = "admin"
)

// Permission constants
const (
	PermCreateDecision = "create_decision"
	PermEditDecision   = "edit_decision"
	PermSignDecision   = "sign_decision"
	PermAnnulDecision  = "annul_decision"
	PermViewDraft      = "view_draft"
	PermViewAudit      = "view_audit"
	PermExportAudit    = "export_audit"
	PermVerifyChain    = "verify_chain"
	PermManageRegistry = "manage_registry"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleJudge: {
		// Judges see their own drafts through authorship, not PermViewDraft;
		// another judge's draft stays hidden.
		PermCreateDecision, PermEditDecision, PermSignDecision, PermAnnulDecision,
	},
	RoleClerk: {
		// Clerks see case metadata through the case system; drafts and
		// signing are judge-only.
	},
	RoleAuditor: {
		PermViewAudit, PermExportAudit, PermVerifyChain,
	},
	RoleAdmin: {
		PermViewDraft, PermViewAudit, PermExportAudit, PermVerifyChain, PermManageRegistry,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
