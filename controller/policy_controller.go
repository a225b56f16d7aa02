// api/controller/policy_controller.go
package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	auth_errors "github.com/amanshivam/auth/errors"
	"github.com/amanshivam/auth/service"
	"github.com/amanshivam/auth/util"
)

type PolicyController struct {
	policyService service.IPolicyService
}

func NewPolicyController(policyService service.IPolicyService) *PolicyController {
	return &PolicyController{
		policyService: policyService,
	}
}

// RegisterRoutes registers the API routes
func (pc *PolicyController) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/enforce", pc.Enforce)
	policies := r.Group("/policies")
	{
		policies.POST("", pc.AddPolicy)
		policies.GET("", pc.ListPolicies)
	}
	grouping := r.Group("/grouping-policies")
	{
		grouping.POST("", pc.AddGroupingPolicy)
		grouping.GET("", pc.ListGroupingPolicies)
	}
	r.POST("/tenants/:tenant/refresh", pc.RefreshTenant)
}

type enforceRequest struct {
	Subject string `json:"subject" binding:"required"`
	Object  string `json:"object" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Tenant  string `json:"tenant" binding:"required"`
}

type policyRequest struct {
	Subject string `json:"subject" binding:"required"`
	Object  string `json:"object" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Tenant  string `json:"tenant" binding:"required"`
}

type groupingRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      string `json:"role" binding:"required"`
	Tenant    string `json:"tenant" binding:"required"`
}

// Enforce endpoint
func (pc *PolicyController) Enforce(c *gin.Context) {
	var req enforceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid enforce request", err)
		return
	}

	allowed, err := pc.policyService.Enforce(c, req.Subject, req.Object, req.Action, req.Tenant)
	if err != nil {
		// An infrastructure failure is never reported as a denial.
		respondServiceError(c, err, "Failed to evaluate request")
		return
	}

	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// AddPolicy endpoint
func (pc *PolicyController) AddPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid policy data", err)
		return
	}

	if err := pc.policyService.AddPolicy(c, req.Subject, req.Object, req.Action, req.Tenant); err != nil {
		respondServiceError(c, err, "Failed to add policy")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

// AddGroupingPolicy endpoint
func (pc *PolicyController) AddGroupingPolicy(c *gin.Context) {
	var req groupingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid grouping policy data", err)
		return
	}

	if err := pc.policyService.AddGroupingPolicy(c, req.Principal, req.Role, req.Tenant); err != nil {
		respondServiceError(c, err, "Failed to add grouping policy")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

// ListPolicies endpoint
func (pc *PolicyController) ListPolicies(c *gin.Context) {
	rules, err := pc.policyService.ListPolicies(c, c.Query("tenant"))
	if err != nil {
		respondServiceError(c, err, "Failed to list policies")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// ListGroupingPolicies endpoint
func (pc *PolicyController) ListGroupingPolicies(c *gin.Context) {
	rules, err := pc.policyService.ListGroupingPolicies(c, c.Query("tenant"))
	if err != nil {
		respondServiceError(c, err, "Failed to list grouping policies")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// RefreshTenant endpoint forces a reload from the store plus an invalidation
// publish, for operator-triggered reconciliation.
func (pc *PolicyController) RefreshTenant(c *gin.Context) {
	tenant := c.Param("tenant")
	if err := pc.policyService.RefreshTenant(c, tenant); err != nil {
		respondServiceError(c, err, "Failed to refresh tenant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "tenant": tenant})
}

// respondServiceError maps the error taxonomy onto HTTP statuses.
func respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, auth_errors.ErrAlreadyExists):
		util.RespondWithError(c, http.StatusConflict, "Rule already exists", err)
	case errors.Is(err, auth_errors.ErrTenantNotSet), errors.Is(err, auth_errors.ErrInvalidTenant):
		util.RespondWithError(c, http.StatusBadRequest, "Invalid or missing tenant", err)
	case errors.Is(err, auth_errors.ErrInvalidRule):
		util.RespondWithError(c, http.StatusBadRequest, "Invalid rule data", err)
	case errors.Is(err, auth_errors.ErrStoreUnavailable):
		c.Header("Retry-After", "1")
		util.RespondWithError(c, http.StatusServiceUnavailable, "Policy store unavailable", err)
	case errors.Is(err, auth_errors.ErrEngineReleased):
		c.Header("Retry-After", "1")
		util.RespondWithError(c, http.StatusServiceUnavailable, "Policy engine refreshing, retry", err)
	case errors.Is(err, auth_errors.ErrQueueFull):
		c.Header("Retry-After", "1")
		util.RespondWithError(c, http.StatusServiceUnavailable, "Server busy", err)
	default:
		util.RespondWithError(c, http.StatusInternalServerError, fallback, err)
	}
}
