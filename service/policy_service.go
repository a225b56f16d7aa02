// api/service/policy_service.go
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/amanshivam/auth/bus"
	"github.com/amanshivam/auth/cache"
	"github.com/amanshivam/auth/dao"
	"github.com/amanshivam/auth/engine"
	auth_errors "github.com/amanshivam/auth/errors"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
	"github.com/amanshivam/auth/util"
)

// IPolicyService is the surface the controllers depend on.
type IPolicyService interface {
	Enforce(ctx context.Context, subject, object, action, tenant string) (bool, error)
	AddPolicy(ctx context.Context, subject, object, action, tenant string) error
	AddGroupingPolicy(ctx context.Context, principal, role, tenant string) error
	ListPolicies(ctx context.Context, tenant string) ([]model.Rule, error)
	ListGroupingPolicies(ctx context.Context, tenant string) ([]model.Rule, error)
	RefreshTenant(ctx context.Context, tenant string) error
}

// PolicyService coordinates the read path (cache get, store load on miss) and
// the write path (duplicate pre-check, store write, full local reload,
// best-effort invalidation publish).
type PolicyService struct {
	ruleDAO         *dao.RuleDAO
	tenantCache     *cache.TenantPolicyCache
	invalidationBus *bus.InvalidationBus
	validationUtil  *util.ValidationUtil
}

// NewPolicyService wires the coordinator and subscribes it to remote
// invalidation events.
func NewPolicyService(ctx context.Context, ruleDAO *dao.RuleDAO, tenantCache *cache.TenantPolicyCache, invalidationBus *bus.InvalidationBus, validationUtil *util.ValidationUtil) (*PolicyService, error) {
	s := &PolicyService{
		ruleDAO:         ruleDAO,
		tenantCache:     tenantCache,
		invalidationBus: invalidationBus,
		validationUtil:  validationUtil,
	}
	if err := invalidationBus.Subscribe(ctx, s.handleRemoteInvalidation); err != nil {
		return nil, err
	}
	return s, nil
}

// Enforce answers "can subject do action on object in tenant". A cache miss
// loads the tenant's rules from the store; store failure surfaces as
// ErrStoreUnavailable and is never turned into a denial.
func (s *PolicyService) Enforce(ctx context.Context, subject, object, action, tenant string) (bool, error) {
	if err := s.validationUtil.ValidateTenant(tenant); err != nil {
		return false, err
	}
	var allowed bool
	err := s.withEngine(ctx, tenant, func(eng engine.PolicyEngine) error {
		var evalErr error
		allowed, evalErr = eng.Evaluate(subject, object, action)
		return evalErr
	})
	if err != nil {
		return false, err
	}
	logger.Debug("Enforce decision",
		zap.String("tenant", tenant),
		zap.String("subject", subject),
		zap.String("object", object),
		zap.String("action", action),
		zap.Bool("allowed", allowed))
	return allowed, nil
}

// AddPolicy writes a permission rule through the coordinator sequence.
func (s *PolicyService) AddPolicy(ctx context.Context, subject, object, action, tenant string) error {
	rule := model.NewPermissionRule(subject, object, action, tenant)
	if err := s.validationUtil.ValidateRule(rule); err != nil {
		return err
	}
	return s.writeRule(ctx, rule, "policy_added")
}

// AddGroupingPolicy writes a principal-to-role assignment through the
// coordinator sequence.
func (s *PolicyService) AddGroupingPolicy(ctx context.Context, principal, role, tenant string) error {
	rule := model.NewGroupingRule(principal, role, tenant)
	if err := s.validationUtil.ValidateRule(rule); err != nil {
		return err
	}
	return s.writeRule(ctx, rule, "grouping_added")
}

// writeRule is the write coordinator: pre-check, write, full local reload,
// best-effort publish. The pre-check and write are not one transaction; the
// store's unique index backstops the cross-replica race and the insert
// surfaces it as ErrAlreadyExists.
func (s *PolicyService) writeRule(ctx context.Context, rule model.Rule, operation string) error {
	count, err := s.ruleDAO.CountMatching(ctx, rule)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("Duplicate rule rejected by pre-check",
			zap.String("tenant", rule.Tenant),
			zap.String("kind", string(rule.Kind)))
		return auth_errors.ErrAlreadyExists
	}

	if err := s.ruleDAO.WriteRule(ctx, rule); err != nil {
		return err
	}

	// Full reload rather than an incremental patch: the in-memory state
	// must match the store exactly after a write.
	if err := s.refreshLocal(ctx, rule.Tenant); err != nil {
		logger.Warn("Write succeeded but local refresh failed, keeping previous cache entry",
			zap.Error(err),
			zap.String("tenant", rule.Tenant))
	}

	s.invalidationBus.Publish(ctx, rule.Tenant, operation)
	return nil
}

// ListPolicies returns the tenant's permission rules from its live engine.
func (s *PolicyService) ListPolicies(ctx context.Context, tenant string) ([]model.Rule, error) {
	return s.listRules(ctx, tenant, model.KindPermission)
}

// ListGroupingPolicies returns the tenant's grouping rules from its live engine.
func (s *PolicyService) ListGroupingPolicies(ctx context.Context, tenant string) ([]model.Rule, error) {
	return s.listRules(ctx, tenant, model.KindGrouping)
}

func (s *PolicyService) listRules(ctx context.Context, tenant string, kind model.RuleKind) ([]model.Rule, error) {
	if err := s.validationUtil.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var rules []model.Rule
	err := s.withEngine(ctx, tenant, func(eng engine.PolicyEngine) error {
		var listErr error
		rules, listErr = eng.ListRules(kind)
		return listErr
	})
	return rules, err
}

// RefreshTenant is the operator-facing escape hatch: reload from the store
// and re-publish without any mutation.
func (s *PolicyService) RefreshTenant(ctx context.Context, tenant string) error {
	if err := s.validationUtil.ValidateTenant(tenant); err != nil {
		return err
	}
	if err := s.refreshLocal(ctx, tenant); err != nil {
		return err
	}
	s.invalidationBus.Publish(ctx, tenant, "manual_refresh")
	return nil
}

// engineRetries bounds how many times a read re-fetches after losing the
// engine to a concurrent refresh or eviction between Get and use.
const engineRetries = 2

// withEngine runs fn against the tenant's live engine. When fn finds the
// instance released, the cache already holds (or will lazily load) a
// replacement, so the read is retried against a fresh fetch.
func (s *PolicyService) withEngine(ctx context.Context, tenant string, fn func(engine.PolicyEngine) error) error {
	var err error
	for attempt := 0; attempt <= engineRetries; attempt++ {
		var eng engine.PolicyEngine
		eng, err = s.engineFor(ctx, tenant)
		if err != nil {
			return err
		}
		err = fn(eng)
		if !errors.Is(err, auth_errors.ErrEngineReleased) {
			return err
		}
		logger.Debug("Engine released mid-read, re-fetching",
			zap.String("tenant", tenant),
			zap.Int("attempt", attempt+1))
	}
	return err
}

// engineFor returns the cached engine, loading the tenant from the store on
// a miss.
func (s *PolicyService) engineFor(ctx context.Context, tenant string) (engine.PolicyEngine, error) {
	if eng, ok := s.tenantCache.Get(tenant); ok {
		return eng, nil
	}
	rules, err := s.ruleDAO.LoadTenantRules(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.tenantCache.Set(tenant, rules)
}

// refreshLocal reloads one tenant and replaces its cache entry wholesale.
func (s *PolicyService) refreshLocal(ctx context.Context, tenant string) error {
	rules, err := s.ruleDAO.LoadTenantRules(ctx, tenant)
	if err != nil {
		return err
	}
	if _, err := s.tenantCache.Set(tenant, rules); err != nil {
		return err
	}
	logger.Debug("Refreshed tenant cache entry",
		zap.String("tenant", tenant),
		zap.Int("ruleCount", len(rules)))
	return nil
}

// handleRemoteInvalidation reacts to a peer's write. Tenants we do not hold
// are skipped; entries stay lazy and are loaded on next demand.
func (s *PolicyService) handleRemoteInvalidation(ctx context.Context, tenant string) error {
	if !s.tenantCache.Contains(tenant) {
		logger.Debug("Invalidation for uncached tenant, nothing to refresh",
			zap.String("tenant", tenant))
		return nil
	}
	if s.tenantCache.SkipBackgroundRefresh() {
		// Under critical memory pressure a rebuild would allocate a second
		// engine; drop the stale entry and let demand reload it.
		s.tenantCache.Evict(tenant)
		logger.Warn("Memory pressure, evicted tenant instead of rebuilding after invalidation",
			zap.String("tenant", tenant))
		return nil
	}
	err := s.refreshLocal(ctx, tenant)
	if err != nil && !errors.Is(err, auth_errors.ErrStoreUnavailable) {
		logger.Error("Unexpected refresh failure",
			zap.Error(err),
			zap.String("tenant", tenant))
	}
	return err
}
