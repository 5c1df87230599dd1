package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/api/dto"
)

func TestListBackups(t *testing.T) {
	env := setupTestEnv(t)
	env.seedBackups(t, env.createSchedule(t, "router"), 10)

	tests := []struct {
		name      string
		path      string
		wantTotal int
		wantFirst string
		wantLen   int
	}{
		{"default order newest first", "/backups", 10, "backup-010", 10},
		{"pagination", "/backups?per_page=4&page=3", 10, "backup-002", 2},
		{"category filter", "/backups?query=category|manual", 4, "backup-010", 4},
		{"size filter", "/backups?query=size_bytes|gte|5000", 6, "backup-010", 6},
		{"date filter", "/backups?query=created_at|lt|2025-11-03", 2, "backup-002", 2},
		{"in filter", "/backups?query=id|in|backup-004", 1, "backup-004", 1},
		{"order by size ascending", "/backups?order=size_bytes|asc", 10, "backup-001", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.makeRequest(t, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[dto.BackupListResponse](t, w)
			assert.Equal(t, tt.wantTotal, resp.Pagination.Total)
			require.Len(t, resp.Items, tt.wantLen)
			assert.Equal(t, tt.wantFirst, resp.Items[0].ID)
		})
	}
}

func TestListBackupsRejectsBadParameters(t *testing.T) {
	env := setupTestEnv(t)

	for _, path := range []string{
		"/backups?query=location|x",
		"/backups?query=size_bytes|between|1",
		"/backups?order=location|asc",
		"/backups?order=created_at|sideways",
		"/backups?page=0",
		"/backups?per_page=100000",
	} {
		w := env.makeRequest(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestGetAndDeleteBackup(t *testing.T) {
	env := setupTestEnv(t)
	env.seedBackups(t, env.createSchedule(t, "switch"), 3)

	w := env.makeRequest(t, http.MethodGet, "/backups/backup-003", nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[dto.BackupResponse](t, w)
	assert.Equal(t, int64(3000), b.SizeBytes)
	assert.Equal(t, "3.0 kB", b.Size)
	assert.Equal(t, "scheduled", b.Category)
	assert.Equal(t, []string{"scheduled", "auto"}, b.Tags)
	assert.Equal(t, "mem:backup-003", b.Location)

	w = env.makeRequest(t, http.MethodDelete, "/backups/backup-003", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.makeRequest(t, http.MethodGet, "/backups/backup-003", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.makeRequest(t, http.MethodDelete, "/backups/backup-003", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
