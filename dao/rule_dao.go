// api/dao/rule_dao.go
package dao

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	auth_errors "github.com/amanshivam/auth/errors"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

const (
	// readRetries bounds adapter-level retries for idempotent reads.
	// Writes are never silently retried to avoid double-application.
	readRetries  = 2
	retryBackoff = 100 * time.Millisecond
)

// RuleDAO is the tenant-scoped adapter over the shared rules table. Every
// query carries an explicit tenant-equality predicate; there is no load-all
// operation.
type RuleDAO struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

// NewRuleDAO wraps the shared connection pool and ensures the schema exists.
// driverName must be "postgres" or "sqlite"; it selects placeholder syntax.
func NewRuleDAO(db *sql.DB, driverName string, timeout time.Duration) (*RuleDAO, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dao := &RuleDAO{db: db, driver: driverName, timeout: timeout}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dao.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return dao, nil
}

// EnsureSchema creates the shared rules table and the unique index that backs
// duplicate prevention when two replicas race past the pre-check.
func (dao *RuleDAO) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id      INTEGER PRIMARY KEY,
			kind    TEXT NOT NULL,
			v0      TEXT NOT NULL,
			v1      TEXT NOT NULL,
			v2      TEXT NOT NULL DEFAULT '',
			tenant  TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rules_unique_tuple
			ON rules (kind, v0, v1, v2, tenant)`,
	}
	if dao.driver == "postgres" {
		statements[0] = `CREATE TABLE IF NOT EXISTS rules (
			id      BIGSERIAL PRIMARY KEY,
			kind    TEXT NOT NULL,
			v0      TEXT NOT NULL,
			v1      TEXT NOT NULL,
			v2      TEXT NOT NULL DEFAULT '',
			tenant  TEXT NOT NULL
		)`
	}
	for _, stmt := range statements {
		if _, err := dao.db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to ensure rules schema", zap.Error(err))
			return dao.classify(err)
		}
	}
	return nil
}

// LoadTenantRules loads the full rule set for one tenant. Retryable store
// failures are retried a bounded number of times before surfacing as
// ErrStoreUnavailable.
func (dao *RuleDAO) LoadTenantRules(ctx context.Context, tenantID string) ([]model.Rule, error) {
	if tenantID == "" {
		return nil, auth_errors.ErrTenantNotSet
	}

	var rules []model.Rule
	var err error
	for attempt := 0; attempt <= readRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		rules, err = dao.loadTenantRulesOnce(ctx, tenantID)
		if err == nil || !errors.Is(err, auth_errors.ErrStoreUnavailable) {
			break
		}
		logger.Warn("Retrying tenant rule load",
			zap.String("tenant", tenantID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return rules, err
}

func (dao *RuleDAO) loadTenantRulesOnce(ctx context.Context, tenantID string) ([]model.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, dao.timeout)
	defer cancel()

	query := dao.rebind(`SELECT kind, v0, v1, v2, tenant FROM rules WHERE tenant = ?`)
	rows, err := dao.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, dao.classify(err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var rule model.Rule
		var kind string
		if err := rows.Scan(&kind, &rule.V0, &rule.V1, &rule.V2, &rule.Tenant); err != nil {
			return nil, dao.classify(err)
		}
		rule.Kind = model.RuleKind(kind)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, dao.classify(err)
	}

	logger.Debug("Loaded tenant rules",
		zap.String("tenant", tenantID),
		zap.Int("count", len(rules)))
	return rules, nil
}

// WriteRule inserts one rule. A unique-index violation means another writer
// won the race; it surfaces as ErrAlreadyExists, not as a store failure.
func (dao *RuleDAO) WriteRule(ctx context.Context, rule model.Rule) error {
	if rule.Tenant == "" {
		return auth_errors.ErrTenantNotSet
	}
	ctx, cancel := context.WithTimeout(ctx, dao.timeout)
	defer cancel()

	query := dao.rebind(`INSERT INTO rules (kind, v0, v1, v2, tenant) VALUES (?, ?, ?, ?, ?)`)
	if _, err := dao.db.ExecContext(ctx, query, string(rule.Kind), rule.V0, rule.V1, rule.V2, rule.Tenant); err != nil {
		classified := dao.classify(err)
		if errors.Is(classified, auth_errors.ErrAlreadyExists) {
			logger.Debug("Rule insert lost duplicate race",
				zap.String("tenant", rule.Tenant),
				zap.String("kind", string(rule.Kind)))
		} else {
			logger.Error("Failed to write rule",
				zap.String("tenant", rule.Tenant),
				zap.Error(err))
		}
		return classified
	}
	return nil
}

// CountMatching counts rules equal to the given tuple within its tenant.
// Used as the duplicate pre-check before a write.
func (dao *RuleDAO) CountMatching(ctx context.Context, rule model.Rule) (int, error) {
	if rule.Tenant == "" {
		return 0, auth_errors.ErrTenantNotSet
	}

	var count int
	var err error
	for attempt := 0; attempt <= readRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		count, err = dao.countMatchingOnce(ctx, rule)
		if err == nil || !errors.Is(err, auth_errors.ErrStoreUnavailable) {
			break
		}
	}
	return count, err
}

func (dao *RuleDAO) countMatchingOnce(ctx context.Context, rule model.Rule) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dao.timeout)
	defer cancel()

	query := dao.rebind(`SELECT COUNT(*) FROM rules WHERE kind = ? AND v0 = ? AND v1 = ? AND v2 = ? AND tenant = ?`)
	var count int
	err := dao.db.QueryRowContext(ctx, query, string(rule.Kind), rule.V0, rule.V1, rule.V2, rule.Tenant).Scan(&count)
	if err != nil {
		return 0, dao.classify(err)
	}
	return count, nil
}

// DeleteTenantRules removes every rule belonging to one tenant. Used before a
// full rewrite, never for single-rule deletes.
func (dao *RuleDAO) DeleteTenantRules(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return auth_errors.ErrTenantNotSet
	}
	ctx, cancel := context.WithTimeout(ctx, dao.timeout)
	defer cancel()

	query := dao.rebind(`DELETE FROM rules WHERE tenant = ?`)
	result, err := dao.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		return dao.classify(err)
	}
	if affected, err := result.RowsAffected(); err == nil {
		logger.Info("Deleted tenant rules",
			zap.String("tenant", tenantID),
			zap.Int64("count", affected))
	}
	return nil
}

// rebind converts ? placeholders to $n for the postgres driver.
func (dao *RuleDAO) rebind(query string) string {
	if dao.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// classify maps driver errors onto the adapter's taxonomy: definitive
// duplicates (unique violations) become ErrAlreadyExists, everything
// transient becomes the retryable ErrStoreUnavailable.
func (dao *RuleDAO) classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return auth_errors.ErrAlreadyExists
	}
	// modernc.org/sqlite reports constraint violations by message. Match
	// only the unique class; NOT NULL and CHECK failures are not duplicates.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return auth_errors.ErrAlreadyExists
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", auth_errors.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", auth_errors.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%w: %v", auth_errors.ErrStoreUnavailable, err)
}
