// api/engine/engine.go
package engine

import (
	"github.com/amanshivam/auth/model"
)

// PolicyEngine evaluates authorization requests against one tenant's rules.
// Instances are built from a full rule set, are never mutated while readers
// hold them (refresh builds a replacement instance), and must have
// ReleaseResources called when evicted or replaced.
type PolicyEngine interface {
	// Evaluate reports whether the subject may perform the action on the
	// object within this instance's tenant. Once ReleaseResources has run
	// it fails with ErrEngineReleased instead of returning a denial, so a
	// reader holding a torn-down instance can re-fetch a live one.
	Evaluate(subject, object, action string) (bool, error)

	// ListRules returns the rules of the given kind held in memory. Fails
	// with ErrEngineReleased after teardown.
	ListRules(kind model.RuleKind) ([]model.Rule, error)

	// AddRuleInMemory adds a single rule to the live instance without
	// touching the store. Used only by tests and tooling; the service
	// refresh path always rebuilds from the store.
	AddRuleInMemory(rule model.Rule) error

	// RemoveAllRules clears the in-memory rule set.
	RemoveAllRules()

	// ReleaseResources tears down internal structures (role links,
	// matcher state). The instance must not be used afterwards.
	ReleaseResources()

	// RuleCount returns the number of rules currently held.
	RuleCount() int

	// TenantID returns the tenant this instance was built for.
	TenantID() string
}

// Factory builds a PolicyEngine for a tenant from its full rule set.
type Factory func(tenantID string, rules []model.Rule) (PolicyEngine, error)
