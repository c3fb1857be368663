package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/repository"
)

// VideosHandler serves the uploaded-video endpoints.
type VideosHandler struct {
	videos   repository.UploadedVideoRepository
	sessions repository.StreamSessionRepository
}

// NewVideosHandler creates a videos handler. The session repository
// backs the latest-bvid lookup, which needs the streamer's broadcast
// history.
func NewVideosHandler(videos repository.UploadedVideoRepository, sessions repository.StreamSessionRepository) *VideosHandler {
	return &VideosHandler{videos: videos, sessions: sessions}
}

// RecordUploadInput records an issued upload.
type RecordUploadInput struct {
	Body struct {
		Title             string `json:"title" minLength:"1" doc:"Submission title"`
		FirstPartFilename string `json:"first_part_filename" minLength:"1" doc:"Artifact basename; the idempotency key"`
		Bvid              string `json:"bvid,omitempty" doc:"Identifier when already known"`
	}
}

// RecordUploadOutput returns the stored record.
type RecordUploadOutput struct {
	Body models.UploadedVideo
}

// CheckUploadedInput probes whether a filename was uploaded before.
type CheckUploadedInput struct {
	Filename string `path:"filename" doc:"Artifact basename to probe"`
}

// CheckUploadedOutput reports the probe result.
type CheckUploadedOutput struct {
	Body struct {
		Uploaded bool    `json:"uploaded"`
		Bvid     *string `json:"bvid,omitempty"`
		Title    string  `json:"title,omitempty"`
	}
}

// MissingBvidInput is the input for the missing-bvid listing.
type MissingBvidInput struct{}

// MissingBvidOutput lists records still waiting for an identifier.
type MissingBvidOutput struct {
	Body struct {
		Videos []*models.UploadedVideo `json:"videos"`
		Count  int                     `json:"count"`
	}
}

// LatestBvidInput asks for the newest known identifier.
type LatestBvidInput struct {
	Streamer string `path:"streamer" doc:"Streamer name"`
}

// LatestBvidOutput is the output for the latest-bvid lookup.
type LatestBvidOutput struct {
	Body LatestBvidResponse
}

// LatestBvidResponse reports the newest known identifier, or why none
// could be determined.
type LatestBvidResponse struct {
	Found  bool   `json:"found"`
	Bvid   string `json:"bvid,omitempty"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason,omitempty" doc:"insufficient_sessions or no_uploads"`
}

// UpdateBvidInput sets the identifier on an existing record.
type UpdateBvidInput struct {
	ID   string `path:"id" doc:"Video record ID"`
	Body struct {
		Bvid string `json:"bvid" minLength:"1" doc:"Identifier to record"`
	}
}

// UpdateBvidOutput returns the updated record.
type UpdateBvidOutput struct {
	Body models.UploadedVideo
}

// Register registers the video routes with the API.
func (h *VideosHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "recordUpload",
		Method:      "POST",
		Path:        "/api/v1/videos",
		Summary:     "Record an upload",
		Description: "Records an issued upload. A known filename with a missing identifier is completed instead of duplicated; anything else already recorded is rejected.",
		Tags:        []string{"Videos"},
	}, h.RecordUpload)
	huma.Register(api, huma.Operation{
		OperationID: "checkUploaded",
		Method:      "GET",
		Path:        "/api/v1/videos/uploaded/{filename}",
		Summary:     "Check whether a file was uploaded",
		Tags:        []string{"Videos"},
	}, h.CheckUploaded)
	huma.Register(api, huma.Operation{
		OperationID: "listMissingBvid",
		Method:      "GET",
		Path:        "/api/v1/videos/missing-bvid",
		Summary:     "List uploads without an identifier",
		Tags:        []string{"Videos"},
	}, h.ListMissingBvid)
	huma.Register(api, huma.Operation{
		OperationID: "getLatestBvid",
		Method:      "GET",
		Path:        "/api/v1/videos/latest-bvid/{streamer}",
		Summary:     "Get the newest known identifier",
		Description: "Returns the most recent upload's identifier once the streamer has at least two recorded sessions",
		Tags:        []string{"Videos"},
	}, h.GetLatestBvid)
	huma.Register(api, huma.Operation{
		OperationID: "updateVideoBvid",
		Method:      "PUT",
		Path:        "/api/v1/videos/{id}/bvid",
		Summary:     "Set a record's identifier",
		Tags:        []string{"Videos"},
	}, h.UpdateBvid)
}

// RecordUpload stores an upload record, or completes an existing row
// whose identifier was not yet known.
func (h *VideosHandler) RecordUpload(ctx context.Context, input *RecordUploadInput) (*RecordUploadOutput, error) {
	body := input.Body

	if body.Bvid != "" {
		if !models.IsValidBvid(body.Bvid) {
			return nil, huma.Error400BadRequest("invalid bvid format")
		}
		existing, err := h.videos.GetByBvid(ctx, body.Bvid)
		if err != nil {
			return nil, huma.Error500InternalServerError("checking the bvid failed", err)
		}
		if existing != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("bvid %s is already recorded", body.Bvid))
		}
	}

	row, err := h.videos.GetByFilename(ctx, body.FirstPartFilename)
	if err != nil {
		return nil, huma.Error500InternalServerError("checking the filename failed", err)
	}
	if row != nil {
		// A late identifier for a known artifact completes the row.
		if body.Bvid != "" && !row.HasBvid() {
			if err := h.videos.SetBvid(ctx, row.ID, body.Bvid); err != nil {
				return nil, mapBvidError(err)
			}
			updated, err := h.videos.GetByID(ctx, row.ID)
			if err != nil {
				return nil, huma.Error500InternalServerError("reloading the record failed", err)
			}
			return &RecordUploadOutput{Body: *updated}, nil
		}
		return nil, huma.Error400BadRequest(fmt.Sprintf("filename %s is already recorded", body.FirstPartFilename))
	}

	video := &models.UploadedVideo{
		Title:             body.Title,
		FirstPartFilename: body.FirstPartFilename,
		UploadTime:        time.Now(),
	}
	if body.Bvid != "" {
		video.Bvid = &body.Bvid
	}
	if err := h.videos.Create(ctx, video); err != nil {
		return nil, huma.Error500InternalServerError("recording the upload failed", err)
	}
	return &RecordUploadOutput{Body: *video}, nil
}

// CheckUploaded reports whether a filename already has a record.
func (h *VideosHandler) CheckUploaded(ctx context.Context, input *CheckUploadedInput) (*CheckUploadedOutput, error) {
	row, err := h.videos.GetByFilename(ctx, input.Filename)
	if err != nil {
		return nil, huma.Error500InternalServerError("checking the filename failed", err)
	}

	out := &CheckUploadedOutput{}
	if row != nil {
		out.Body.Uploaded = true
		out.Body.Bvid = row.Bvid
		out.Body.Title = row.Title
	}
	return out, nil
}

// ListMissingBvid returns the records still waiting for an identifier,
// oldest first.
func (h *VideosHandler) ListMissingBvid(ctx context.Context, input *MissingBvidInput) (*MissingBvidOutput, error) {
	videos, err := h.videos.GetMissingBvid(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing records failed", err)
	}

	out := &MissingBvidOutput{}
	out.Body.Videos = videos
	out.Body.Count = len(videos)
	return out, nil
}

// GetLatestBvid returns the newest upload's identifier. Fewer than two
// recorded sessions means the last complete broadcast cannot be framed
// yet, so the lookup reports insufficient_sessions instead.
func (h *VideosHandler) GetLatestBvid(ctx context.Context, input *LatestBvidInput) (*LatestBvidOutput, error) {
	sessions, err := h.sessions.GetRecentByStreamer(ctx, input.Streamer, 2)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sessions failed", err)
	}
	if len(sessions) < 2 {
		return &LatestBvidOutput{Body: LatestBvidResponse{Found: false, Reason: "insufficient_sessions"}}, nil
	}

	recent, err := h.videos.GetRecent(ctx, 1)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing uploads failed", err)
	}
	if len(recent) == 0 || !recent[0].HasBvid() {
		return &LatestBvidOutput{Body: LatestBvidResponse{Found: false, Reason: "no_uploads"}}, nil
	}

	return &LatestBvidOutput{Body: LatestBvidResponse{
		Found: true,
		Bvid:  *recent[0].Bvid,
		Title: recent[0].Title,
	}}, nil
}

// UpdateBvid sets the identifier on a record.
func (h *VideosHandler) UpdateBvid(ctx context.Context, input *UpdateBvidInput) (*UpdateBvidOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid video id", err)
	}

	if err := h.videos.SetBvid(ctx, id, input.Body.Bvid); err != nil {
		return nil, mapBvidError(err)
	}

	video, err := h.videos.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("reloading the record failed", err)
	}
	return &UpdateBvidOutput{Body: *video}, nil
}

// mapBvidError converts repository bvid errors to API errors.
func mapBvidError(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidBvid):
		return huma.Error400BadRequest("invalid bvid format", err)
	case errors.Is(err, models.ErrDuplicateBvid):
		return huma.Error400BadRequest("bvid is already recorded on another video", err)
	case errors.Is(err, models.ErrVideoNotFound):
		return huma.Error404NotFound("no such video record")
	default:
		return huma.Error500InternalServerError("updating the bvid failed", err)
	}
}
