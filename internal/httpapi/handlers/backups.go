package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/livarr/livarr/internal/backup"
	"github.com/livarr/livarr/internal/models"
)

// BackupsHandler serves the backup listing endpoint.
type BackupsHandler struct {
	backups *backup.Service
}

// NewBackupsHandler creates a backups handler.
func NewBackupsHandler(backups *backup.Service) *BackupsHandler {
	return &BackupsHandler{backups: backups}
}

// ListBackupsInput is the input for listing backups.
type ListBackupsInput struct{}

// ListBackupsOutput is the output for listing backups.
type ListBackupsOutput struct {
	Body struct {
		Backups         []*models.BackupMetadata  `json:"backups"`
		Count           int                       `json:"count"`
		BackupDirectory string                    `json:"backup_directory"`
		Schedule        models.BackupScheduleInfo `json:"schedule"`
	}
}

// Register registers the backup routes with the API.
func (h *BackupsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBackups",
		Method:      "GET",
		Path:        "/api/v1/backups",
		Summary:     "List database backups",
		Description: "Lists the backup archives on disk, newest first, together with the backup directory and the active schedule.",
		Tags:        []string{"Backups"},
	}, h.ListBackups)
}

// ListBackups lists the archives on disk, newest first.
func (h *BackupsHandler) ListBackups(ctx context.Context, input *ListBackupsInput) (*ListBackupsOutput, error) {
	backups, err := h.backups.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing backups failed", err)
	}

	out := &ListBackupsOutput{}
	out.Body.Backups = backups
	out.Body.Count = len(backups)
	out.Body.BackupDirectory = h.backups.Dir()
	out.Body.Schedule = h.backups.ScheduleInfo()
	return out, nil
}
