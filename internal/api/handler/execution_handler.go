package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/service"
)

// Shared by /executions and /schedules/:id/executions
var (
	executionSchema = util.Schema{
		Query: map[string]util.FieldKind{
			"id":           util.KindInt,
			"schedule_id":  util.KindInt,
			"kind":         util.KindString,
			"status":       util.KindString,
			"terminal":     util.KindBool,
			"retry_count":  util.KindInt,
			"started_at":   util.KindTime,
			"finished_at":  util.KindTime,
			"backup_id":    util.KindString,
			"triggered_by": util.KindString,
		},
		Order: []string{"id", "started_at", "finished_at", "duration_seconds", "retry_count"},
	}
)

type ExecutionHandler struct {
	executionService *service.ExecutionService
}

func NewExecutionHandler(executionService *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{
		executionService: executionService,
	}
}

// GetExecution handles GET /executions/:id
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	execution, err := h.executionService.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toExecutionResponse(execution))
}

// ListExecutions handles GET /executions
func (h *ExecutionHandler) ListExecutions(c *gin.Context) {
	listFilter, ok := parseListFilter(c, executionSchema)
	if !ok {
		return
	}
	listExecutions(c, h.executionService, repository.ExecutionFilter{ListFilter: listFilter})
}

func listExecutions(c *gin.Context, svc *service.ExecutionService, filter repository.ExecutionFilter) {
	executions, err := svc.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := svc.CountExecutions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ExecutionListResponse{
		Items:      toExecutionResponses(executions),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
