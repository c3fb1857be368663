package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/repository"
)

// SessionsHandler serves the stream session endpoints.
type SessionsHandler struct {
	sessions repository.StreamSessionRepository
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(sessions repository.StreamSessionRepository) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// EndSessionInput records a going-offline event.
type EndSessionInput struct {
	Body struct {
		StreamerName string     `json:"streamer_name" minLength:"1" doc:"Streamer whose broadcast ended"`
		EndTime      *time.Time `json:"end_time,omitempty" doc:"Going-offline instant; defaults to now"`
	}
}

// EndSessionOutput returns the affected session row.
type EndSessionOutput struct {
	Body models.StreamSession
}

// ListSessionsInput selects recent sessions for one streamer.
type ListSessionsInput struct {
	Streamer string `path:"streamer" doc:"Streamer name"`
	Limit    int    `query:"limit" default:"10" minimum:"1" maximum:"200" doc:"Maximum rows returned"`
}

// ListSessionsOutput lists sessions newest first.
type ListSessionsOutput struct {
	Body struct {
		Sessions []*models.StreamSession `json:"sessions"`
		Count    int                     `json:"count"`
	}
}

// Register registers the session routes with the API.
func (h *SessionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "endSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/end",
		Summary:     "Record a stream end",
		Description: "Closes the streamer's open session. When none is open an end-only row is inserted so downstream grouping still observes the edge.",
		Tags:        []string{"Sessions"},
	}, h.EndSession)
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions/{streamer}",
		Summary:     "List recent sessions",
		Description: "Returns the streamer's latest sessions, newest first",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)
}

// EndSession records a going-offline event for a streamer.
func (h *SessionsHandler) EndSession(ctx context.Context, input *EndSessionInput) (*EndSessionOutput, error) {
	end := time.Now()
	if input.Body.EndTime != nil {
		end = *input.Body.EndTime
	}

	open, err := h.sessions.GetLatestOpen(ctx, input.Body.StreamerName)
	if err != nil {
		return nil, huma.Error500InternalServerError("looking up the open session failed", err)
	}

	if open != nil {
		if err := h.sessions.SetEndTime(ctx, open.ID, end); err != nil {
			return nil, huma.Error500InternalServerError("closing the session failed", err)
		}
		closed, err := h.sessions.GetByID(ctx, open.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("reloading the session failed", err)
		}
		return &EndSessionOutput{Body: *closed}, nil
	}

	session := &models.StreamSession{
		StreamerName: input.Body.StreamerName,
		EndTime:      &end,
	}
	if err := h.sessions.Create(ctx, session); err != nil {
		return nil, huma.Error500InternalServerError("recording the stream end failed", err)
	}
	return &EndSessionOutput{Body: *session}, nil
}

// ListSessions returns the latest sessions for a streamer.
func (h *SessionsHandler) ListSessions(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	sessions, err := h.sessions.GetRecentByStreamer(ctx, input.Streamer, limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sessions failed", err)
	}

	out := &ListSessionsOutput{}
	out.Body.Sessions = sessions
	out.Body.Count = len(sessions)
	return out, nil
}
