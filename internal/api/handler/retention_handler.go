package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

type RetentionHandler struct {
	retentionService *service.RetentionService
}

func NewRetentionHandler(retentionService *service.RetentionService) *RetentionHandler {
	return &RetentionHandler{
		retentionService: retentionService,
	}
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max_total_size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("max_total_size must be positive")
	}
	return int64(n), nil
}

// CreatePolicy handles POST /policies
func (h *RetentionHandler) CreatePolicy(c *gin.Context) {
	var req dto.CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	policy := domain.NewRetentionPolicy(req.Name, principal(c))
	policy.Description = req.Description
	policy.IsDefault = req.IsDefault
	for dst, src := range map[*int]*int{
		&policy.DailyDays:         req.DailyDays,
		&policy.WeeklyWeeks:       req.WeeklyWeeks,
		&policy.MonthlyMonths:     req.MonthlyMonths,
		&policy.YearlyYears:       req.YearlyYears,
		&policy.MaxDailyBackups:   req.MaxDailyBackups,
		&policy.MaxWeeklyBackups:  req.MaxWeeklyBackups,
		&policy.MaxMonthlyBackups: req.MaxMonthlyBackups,
		&policy.MaxYearlyBackups:  req.MaxYearlyBackups,
		&policy.MaxTotalBackups:   req.MaxTotalBackups,
	} {
		if src != nil {
			*dst = *src
		}
	}
	if req.AutoCleanupEnabled != nil {
		policy.AutoCleanupEnabled = *req.AutoCleanupEnabled
	}
	if req.CleanupSchedule != "" {
		policy.CleanupSchedule = req.CleanupSchedule
	}
	if req.MaxTotalSize != "" {
		size, err := parseSize(req.MaxTotalSize)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		policy.MaxTotalSizeBytes = &size
	}

	if err := h.retentionService.CreatePolicy(c.Request.Context(), policy); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toPolicyResponse(policy))
}

// GetPolicy handles GET /policies/:id
func (h *RetentionHandler) GetPolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	policy, err := h.retentionService.GetPolicy(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPolicyResponse(policy))
}

// ListPolicies handles GET /policies
func (h *RetentionHandler) ListPolicies(c *gin.Context) {
	policies, err := h.retentionService.ListPolicies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.PolicyListResponse{Items: make([]dto.PolicyResponse, len(policies))}
	for i, p := range policies {
		response.Items[i] = toPolicyResponse(p)
	}
	c.JSON(http.StatusOK, response)
}

// UpdatePolicy handles PATCH /policies/:id
func (h *RetentionHandler) UpdatePolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	patch := domain.RetentionPolicyPatch{
		Name:               req.Name,
		Description:        req.Description,
		IsDefault:          req.IsDefault,
		DailyDays:          req.DailyDays,
		WeeklyWeeks:        req.WeeklyWeeks,
		MonthlyMonths:      req.MonthlyMonths,
		YearlyYears:        req.YearlyYears,
		MaxDailyBackups:    req.MaxDailyBackups,
		MaxWeeklyBackups:   req.MaxWeeklyBackups,
		MaxMonthlyBackups:  req.MaxMonthlyBackups,
		MaxYearlyBackups:   req.MaxYearlyBackups,
		MaxTotalBackups:    req.MaxTotalBackups,
		AutoCleanupEnabled: req.AutoCleanupEnabled,
		CleanupSchedule:    req.CleanupSchedule,
	}
	if req.MaxTotalSize != nil {
		if *req.MaxTotalSize == "" {
			patch.ClearMaxTotalSize = true
		} else {
			size, err := parseSize(*req.MaxTotalSize)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			patch.MaxTotalSizeBytes = &size
		}
	}

	policy, err := h.retentionService.UpdatePolicy(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPolicyResponse(policy))
}

// DeletePolicy handles DELETE /policies/:id
func (h *RetentionHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.retentionService.DeletePolicy(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetDefaultPolicy handles POST /policies/:id/default
func (h *RetentionHandler) SetDefaultPolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	policy, err := h.retentionService.SetDefaultPolicy(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPolicyResponse(policy))
}

// RunPolicyCleanup handles POST /policies/:id/cleanup?dry_run=true
func (h *RetentionHandler) RunPolicyCleanup(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	dryRun, err := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	if err != nil {
		badRequest(c, "dry_run must be true or false")
		return
	}
	h.runCleanup(c, id, dryRun)
}

// Cleanup handles POST /cleanup. Without policy_id the default policy runs.
func (h *RetentionHandler) Cleanup(c *gin.Context) {
	var req dto.CleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	policyID := int64(0)
	if req.PolicyID != nil {
		policyID = *req.PolicyID
	} else {
		policy, err := h.retentionService.GetDefaultPolicy(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		policyID = policy.ID
	}
	h.runCleanup(c, policyID, req.DryRun)
}

func (h *RetentionHandler) runCleanup(c *gin.Context, policyID int64, dryRun bool) {
	report, err := h.retentionService.RunCleanup(c.Request.Context(), policyID, dryRun)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CleanupResponse{
		PolicyID: report.PolicyID,
		DryRun:   report.DryRun,
		Deleted:  report.Deleted,
		Kept:     report.Kept,
		Failures: report.Failures,
	})
}
