// api/model/rule.go
package model

// RuleKind distinguishes the two rule shapes stored in the shared table.
type RuleKind string

const (
	// KindPermission maps a subject or role to an object/action pair.
	KindPermission RuleKind = "p"
	// KindGrouping assigns a principal to a role.
	KindGrouping RuleKind = "g"
)

// Rule is one authorization fact. For permission rules V0 is the subject or
// role, V1 the object and V2 the action. For grouping rules V0 is the
// principal, V1 the role and V2 is empty. Tenant is carried as a field value;
// every store query must filter on it.
type Rule struct {
	Kind   RuleKind `json:"kind"`
	V0     string   `json:"v0"`
	V1     string   `json:"v1"`
	V2     string   `json:"v2,omitempty"`
	Tenant string   `json:"tenant"`
}

// NewPermissionRule builds a permission rule scoped to the given tenant.
func NewPermissionRule(subject, object, action, tenant string) Rule {
	return Rule{Kind: KindPermission, V0: subject, V1: object, V2: action, Tenant: tenant}
}

// NewGroupingRule builds a principal-to-role assignment scoped to the given tenant.
func NewGroupingRule(principal, role, tenant string) Rule {
	return Rule{Kind: KindGrouping, V0: principal, V1: role, Tenant: tenant}
}
