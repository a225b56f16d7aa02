// api/util/validation_util.go

package util

import (
	"fmt"
	"strings"

	auth_errors "github.com/amanshivam/auth/errors"
	"github.com/amanshivam/auth/model"
)

type ValidationUtil struct{}

func NewValidationUtil() *ValidationUtil {
	return &ValidationUtil{}
}

// ValidateTenant fails fast on a missing or malformed tenant identifier. A
// request without a tenant must never fall through to a shared scope.
func (v *ValidationUtil) ValidateTenant(tenant string) error {
	if tenant == "" {
		return auth_errors.ErrTenantNotSet
	}
	if strings.TrimSpace(tenant) != tenant || strings.ContainsAny(tenant, " \t\n") {
		return fmt.Errorf("%w: %q", auth_errors.ErrInvalidTenant, tenant)
	}
	return nil
}

// ValidateRule checks a rule's shape before it reaches the store.
func (v *ValidationUtil) ValidateRule(rule model.Rule) error {
	if err := v.ValidateTenant(rule.Tenant); err != nil {
		return err
	}
	switch rule.Kind {
	case model.KindPermission:
		if rule.V0 == "" || rule.V1 == "" || rule.V2 == "" {
			return fmt.Errorf("%w: permission rule requires subject, object and action", auth_errors.ErrInvalidRule)
		}
	case model.KindGrouping:
		if rule.V0 == "" || rule.V1 == "" {
			return fmt.Errorf("%w: grouping rule requires principal and role", auth_errors.ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", auth_errors.ErrInvalidRule, rule.Kind)
	}
	return nil
}
