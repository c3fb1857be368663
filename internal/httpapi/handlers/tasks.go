package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/livarr/livarr/internal/scheduler"
)

// TaskTrigger starts pipeline work in the background.
type TaskTrigger interface {
	TriggerProcessing() error
	TriggerUpload() error
	TriggerBackup() error
}

// TasksHandler serves the manual task trigger endpoints.
type TasksHandler struct {
	trigger TaskTrigger
}

// NewTasksHandler creates a tasks handler.
func NewTasksHandler(trigger TaskTrigger) *TasksHandler {
	return &TasksHandler{trigger: trigger}
}

// TaskInput is the input for the trigger endpoints.
type TaskInput struct{}

// TaskOutput acknowledges a scheduled background task.
type TaskOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Register registers the task routes with the API.
func (h *TasksHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "triggerProcessing",
		Method:      "POST",
		Path:        "/api/v1/tasks/processing",
		Summary:     "Run the processing pass",
		Description: "Starts cleanup, danmaku conversion and encoding in the background. Refused while a monitored stream is live and post-stream processing is configured.",
		Tags:        []string{"Tasks"},
	}, h.TriggerProcessing)
	huma.Register(api, huma.Operation{
		OperationID: "triggerUpload",
		Method:      "POST",
		Path:        "/api/v1/tasks/upload",
		Summary:     "Run the upload pass",
		Description: "Starts the bvid backfill and the upload pass in the background, regardless of whether scheduled uploads are enabled. Subject to the same live gate as processing.",
		Tags:        []string{"Tasks"},
	}, h.TriggerUpload)
	huma.Register(api, huma.Operation{
		OperationID: "triggerBackup",
		Method:      "POST",
		Path:        "/api/v1/tasks/backup",
		Summary:     "Run a database backup",
		Tags:        []string{"Tasks"},
	}, h.TriggerBackup)
}

// TriggerProcessing starts the processing pass in the background.
func (h *TasksHandler) TriggerProcessing(ctx context.Context, input *TaskInput) (*TaskOutput, error) {
	if err := h.trigger.TriggerProcessing(); err != nil {
		return nil, mapTriggerError(err, "starting processing failed")
	}
	return taskAccepted("processing started in the background"), nil
}

// TriggerUpload starts the backfill and upload pass in the background.
func (h *TasksHandler) TriggerUpload(ctx context.Context, input *TaskInput) (*TaskOutput, error) {
	if err := h.trigger.TriggerUpload(); err != nil {
		return nil, mapTriggerError(err, "starting the upload pass failed")
	}
	return taskAccepted("bvid backfill and upload started in the background"), nil
}

// TriggerBackup starts a database snapshot in the background.
func (h *TasksHandler) TriggerBackup(ctx context.Context, input *TaskInput) (*TaskOutput, error) {
	if err := h.trigger.TriggerBackup(); err != nil {
		return nil, mapTriggerError(err, "starting the backup failed")
	}
	return taskAccepted("database backup started in the background"), nil
}

func taskAccepted(message string) *TaskOutput {
	out := &TaskOutput{}
	out.Body.Message = message
	return out
}

// mapTriggerError keeps the live-gate refusal polite; everything else
// unexpected is a 500.
func mapTriggerError(err error, msg string) error {
	switch {
	case errors.Is(err, scheduler.ErrStreamLive):
		return huma.Error409Conflict(fmt.Sprintf("%s; try again after the broadcast ends", err.Error()))
	case errors.Is(err, scheduler.ErrBackupNotConfigured):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
