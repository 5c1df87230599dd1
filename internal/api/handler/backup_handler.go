package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/service"
)

// Fields a backup list may be filtered and sorted by
var (
	backupSchema = util.Schema{
		Query: map[string]util.FieldKind{
			"id":           util.KindString,
			"schedule_id":  util.KindInt,
			"execution_id": util.KindInt,
			"created_at":   util.KindTime,
			"size_bytes":   util.KindInt,
			"item_count":   util.KindInt,
			"category":     util.KindString,
		},
		Order: []string{"id", "created_at", "size_bytes", "item_count"},
	}
)

type BackupHandler struct {
	backupService *service.BackupService
}

func NewBackupHandler(backupService *service.BackupService) *BackupHandler {
	return &BackupHandler{
		backupService: backupService,
	}
}

// GetBackup handles GET /backups/:id
func (h *BackupHandler) GetBackup(c *gin.Context) {
	backup, err := h.backupService.GetBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBackupResponse(backup))
}

// ListBackups handles GET /backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	listFilter, ok := parseListFilter(c, backupSchema)
	if !ok {
		return
	}
	filter := repository.BackupFilter{ListFilter: listFilter}

	backups, err := h.backupService.ListBackups(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.backupService.CountBackups(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.BackupListResponse{
		Items:      make([]dto.BackupResponse, len(backups)),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	}
	for i, backup := range backups {
		response.Items[i] = toBackupResponse(backup)
	}

	c.JSON(http.StatusOK, response)
}

// DeleteBackup handles DELETE /backups/:id
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	if err := h.backupService.DeleteBackup(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
