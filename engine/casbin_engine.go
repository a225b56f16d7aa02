// api/engine/casbin_engine.go
package engine

import (
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	auth_errors "github.com/amanshivam/auth/errors"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

// Domain-scoped RBAC model. The tenant identifier is the casbin domain, so
// role links and permission matches never cross tenants.
const modelText = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

// CasbinEngine is a per-tenant PolicyEngine backed by a casbin enforcer.
type CasbinEngine struct {
	mu       sync.RWMutex
	tenantID string
	enforcer *casbin.Enforcer
	rules    []model.Rule
	released bool
}

// NewCasbinEngine builds an enforcer from the tenant's full rule set. Every
// rule must carry the given tenant; a mismatch is rejected outright rather
// than silently dropped.
func NewCasbinEngine(tenantID string, rules []model.Rule) (PolicyEngine, error) {
	if tenantID == "" {
		return nil, auth_errors.ErrTenantNotSet
	}

	m, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to build casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build enforcer: %w", err)
	}

	eng := &CasbinEngine{
		tenantID: tenantID,
		enforcer: enforcer,
		rules:    make([]model.Rule, 0, len(rules)),
	}
	for _, rule := range rules {
		if err := eng.addRuleLocked(rule); err != nil {
			return nil, err
		}
	}

	logger.Debug("Policy engine built",
		zap.String("tenant", tenantID),
		zap.Int("ruleCount", len(rules)))
	return eng, nil
}

func (e *CasbinEngine) addRuleLocked(rule model.Rule) error {
	if rule.Tenant != e.tenantID {
		return fmt.Errorf("%w: rule tenant %q does not match engine tenant %q",
			auth_errors.ErrInvalidTenant, rule.Tenant, e.tenantID)
	}
	switch rule.Kind {
	case model.KindPermission:
		if _, err := e.enforcer.AddNamedPolicy("p", rule.V0, rule.Tenant, rule.V1, rule.V2); err != nil {
			return fmt.Errorf("failed to add permission rule: %w", err)
		}
	case model.KindGrouping:
		if _, err := e.enforcer.AddNamedGroupingPolicy("g", rule.V0, rule.V1, rule.Tenant); err != nil {
			return fmt.Errorf("failed to add grouping rule: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", auth_errors.ErrInvalidRule, rule.Kind)
	}
	e.rules = append(e.rules, rule)
	return nil
}

func (e *CasbinEngine) Evaluate(subject, object, action string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.released {
		// A refresh or eviction tore this instance down after the reader
		// obtained it. Fail closed with a retryable error; returning a
		// denial here would fabricate a decision.
		return false, fmt.Errorf("%w: tenant %s", auth_errors.ErrEngineReleased, e.tenantID)
	}
	allowed, err := e.enforcer.Enforce(subject, e.tenantID, object, action)
	if err != nil {
		return false, fmt.Errorf("enforce failed for tenant %s: %w", e.tenantID, err)
	}
	return allowed, nil
}

func (e *CasbinEngine) ListRules(kind model.RuleKind) ([]model.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.released {
		return nil, fmt.Errorf("%w: tenant %s", auth_errors.ErrEngineReleased, e.tenantID)
	}
	out := make([]model.Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Kind == kind {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (e *CasbinEngine) AddRuleInMemory(rule model.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return fmt.Errorf("%w: engine released", auth_errors.ErrInternalServer)
	}
	return e.addRuleLocked(rule)
}

func (e *CasbinEngine) RemoveAllRules() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.enforcer.ClearPolicy()
	e.rules = e.rules[:0]
}

// ReleaseResources tears down the enforcer's policy and role-link structures
// so release is deterministic instead of GC-timing-dependent.
func (e *CasbinEngine) ReleaseResources() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.enforcer.ClearPolicy()
	e.enforcer = nil
	e.rules = nil
	e.released = true
	logger.Debug("Policy engine released", zap.String("tenant", e.tenantID))
}

func (e *CasbinEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (e *CasbinEngine) TenantID() string {
	return e.tenantID
}
