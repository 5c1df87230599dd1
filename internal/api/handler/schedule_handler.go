package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/service"
)

var (
	scheduleSchema = util.Schema{
		Query: map[string]util.FieldKind{
			"id":                  util.KindInt,
			"name":                util.KindString,
			"enabled":             util.KindBool,
			"backup_type":         util.KindString,
			"timezone":            util.KindString,
			"retention_policy_id": util.KindInt,
			"next_run_at":         util.KindTime,
			"last_run_at":         util.KindTime,
			"created_at":          util.KindTime,
		},
		Order: []string{"id", "name", "next_run_at", "last_run_at", "created_at"},
	}
)

type ScheduleHandler struct {
	scheduleService  *service.ScheduleService
	executionService *service.ExecutionService
}

func NewScheduleHandler(scheduleService *service.ScheduleService, executionService *service.ExecutionService) *ScheduleHandler {
	return &ScheduleHandler{
		scheduleService:  scheduleService,
		executionService: executionService,
	}
}

// CreateSchedule handles POST /schedules
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	schedule := domain.NewSchedule(req.Name, req.CronExpression, req.Timezone, domain.BackupType(req.BackupType), principal(c))
	schedule.Description = req.Description
	schedule.RetentionPolicyID = req.RetentionPolicyID
	if req.Categories != nil {
		schedule.Categories = req.Categories
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}
	if req.MaxBackupCount != nil {
		schedule.MaxBackupCount = *req.MaxBackupCount
	}
	if req.RetentionDays != nil {
		schedule.RetentionDays = *req.RetentionDays
	}
	if req.MaxRetries != nil {
		schedule.MaxRetries = *req.MaxRetries
	}
	if req.CompressionEnabled != nil {
		schedule.CompressionEnabled = *req.CompressionEnabled
	}

	if err := h.scheduleService.CreateSchedule(c.Request.Context(), schedule); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toScheduleResponse(schedule))
}

// GetSchedule handles GET /schedules/:id
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	schedule, err := h.scheduleService.GetSchedule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toScheduleResponse(schedule))
}

// ListSchedules handles GET /schedules
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	listFilter, ok := parseListFilter(c, scheduleSchema)
	if !ok {
		return
	}
	filter := repository.ScheduleFilter{ListFilter: listFilter}

	schedules, err := h.scheduleService.ListSchedules(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.scheduleService.CountSchedules(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.ScheduleListResponse{
		Items:      make([]dto.ScheduleResponse, len(schedules)),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	}
	for i, schedule := range schedules {
		response.Items[i] = toScheduleResponse(schedule)
	}

	c.JSON(http.StatusOK, response)
}

// UpdateSchedule handles PATCH /schedules/:id
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	patch := domain.SchedulePatch{
		Name:               req.Name,
		Description:        req.Description,
		CronExpression:     req.CronExpression,
		Timezone:           req.Timezone,
		Enabled:            req.Enabled,
		Categories:         req.Categories,
		MaxBackupCount:     req.MaxBackupCount,
		RetentionDays:      req.RetentionDays,
		RetentionPolicyID:  req.RetentionPolicyID,
		ClearPolicy:        req.ClearPolicy,
		MaxRetries:         req.MaxRetries,
		CompressionEnabled: req.CompressionEnabled,
	}
	if req.BackupType != nil {
		bt := domain.BackupType(*req.BackupType)
		patch.BackupType = &bt
	}

	schedule, err := h.scheduleService.UpdateSchedule(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toScheduleResponse(schedule))
}

// DeleteSchedule handles DELETE /schedules/:id
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.scheduleService.DeleteSchedule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// EnableSchedule handles POST /schedules/:id/enable
func (h *ScheduleHandler) EnableSchedule(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableSchedule handles POST /schedules/:id/disable
func (h *ScheduleHandler) DisableSchedule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *ScheduleHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	schedule, err := h.scheduleService.SetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toScheduleResponse(schedule))
}

// TriggerSchedule handles POST /schedules/:id/trigger. The run continues in
// the background; the response carries the running execution.
func (h *ScheduleHandler) TriggerSchedule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	execution, err := h.scheduleService.TriggerManual(c.Request.Context(), id, principal(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Location", "/executions/"+formatID(execution.ID))
	c.JSON(http.StatusAccepted, toExecutionResponse(execution))
}

// GetScheduleStatus handles GET /schedules/:id/status
func (h *ScheduleHandler) GetScheduleStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.scheduleService.GetScheduleStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ScheduleStatusResponse{
		Schedule:         toScheduleResponse(status.Schedule),
		RecentExecutions: toExecutionResponses(status.RecentExecutions),
		Stats: dto.ScheduleStatsResponse{
			PeriodDays:         status.Stats.PeriodDays,
			Total:              status.Stats.Total,
			Successful:         status.Stats.Successful,
			Failed:             status.Stats.Failed,
			SuccessRate:        status.Stats.SuccessRate,
			AvgDurationSeconds: status.Stats.AvgDurationSeconds,
		},
		SecondsUntilNextRun: status.SecondsUntilNextRun,
	})
}

// ListScheduleExecutions handles GET /schedules/:id/executions
func (h *ScheduleHandler) ListScheduleExecutions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.scheduleService.GetSchedule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	listFilter, ok := parseListFilter(c, executionSchema)
	if !ok {
		return
	}
	listExecutions(c, h.executionService, repository.ExecutionFilter{ListFilter: listFilter, ScheduleID: &id})
}
