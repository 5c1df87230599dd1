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
	notificationLogSchema = util.Schema{
		Query: map[string]util.FieldKind{
			"id":           util.KindInt,
			"config_id":    util.KindInt,
			"schedule_id":  util.KindInt,
			"execution_id": util.KindInt,
			"event":        util.KindString,
			"outcome":      util.KindString,
			"created_at":   util.KindTime,
		},
		Order: []string{"id", "created_at"},
	}
)

type NotificationHandler struct {
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// CreateNotification handles POST /schedules/:id/notifications
func (h *NotificationHandler) CreateNotification(c *gin.Context) {
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg := domain.NewNotificationConfig(scheduleID, domain.ChannelKind(req.Kind))
	patch := domain.NotificationConfigPatch{
		Enabled:            req.Enabled,
		OnSuccess:          req.OnSuccess,
		OnFailure:          req.OnFailure,
		OnRetry:            req.OnRetry,
		OnScheduleDisabled: req.OnScheduleDisabled,
		Recipients:         req.Recipients,
		WebhookURL:         &req.WebhookURL,
		Template:           &req.Template,
		MaxPerHour:         req.MaxPerHour,
		SilenceMinutes:     req.SilenceMinutes,
	}
	*cfg = patch.Apply(*cfg)

	if err := h.notificationService.CreateConfig(c.Request.Context(), cfg); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toNotificationResponse(cfg))
}

// ListScheduleNotifications handles GET /schedules/:id/notifications
func (h *NotificationHandler) ListScheduleNotifications(c *gin.Context) {
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}

	configs, err := h.notificationService.ListConfigs(c.Request.Context(), scheduleID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.NotificationListResponse{Items: make([]dto.NotificationResponse, len(configs))}
	for i, cfg := range configs {
		response.Items[i] = toNotificationResponse(cfg)
	}
	c.JSON(http.StatusOK, response)
}

// GetNotification handles GET /notifications/:id
func (h *NotificationHandler) GetNotification(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	cfg, err := h.notificationService.GetConfig(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toNotificationResponse(cfg))
}

// UpdateNotification handles PATCH /notifications/:id
func (h *NotificationHandler) UpdateNotification(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg, err := h.notificationService.UpdateConfig(c.Request.Context(), id, domain.NotificationConfigPatch{
		Enabled:            req.Enabled,
		OnSuccess:          req.OnSuccess,
		OnFailure:          req.OnFailure,
		OnRetry:            req.OnRetry,
		OnScheduleDisabled: req.OnScheduleDisabled,
		Recipients:         req.Recipients,
		WebhookURL:         req.WebhookURL,
		Template:           req.Template,
		MaxPerHour:         req.MaxPerHour,
		SilenceMinutes:     req.SilenceMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toNotificationResponse(cfg))
}

// DeleteNotification handles DELETE /notifications/:id
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.notificationService.DeleteConfig(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListLogs handles GET /notifications/logs
func (h *NotificationHandler) ListLogs(c *gin.Context) {
	listFilter, ok := parseListFilter(c, notificationLogSchema)
	if !ok {
		return
	}
	filter := repository.NotificationLogFilter{ListFilter: listFilter}

	logs, err := h.notificationService.ListLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.notificationService.CountLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.NotificationLogListResponse{
		Items:      make([]dto.NotificationLogResponse, len(logs)),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	}
	for i, l := range logs {
		response.Items[i] = toNotificationLogResponse(l)
	}
	c.JSON(http.StatusOK, response)
}
