package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrStreamerNameRequired indicates a required streamer name field is empty.
	ErrStreamerNameRequired = errors.New("streamer_name is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrFilenameRequired indicates a required first part filename field is empty.
	ErrFilenameRequired = errors.New("first_part_filename is required")

	// ErrInvalidBvid indicates a malformed bilibili video identifier.
	ErrInvalidBvid = errors.New("invalid bvid: must start with BV")

	// ErrDuplicateBvid indicates another row already carries this bvid.
	ErrDuplicateBvid = errors.New("bvid already recorded on another video")

	// ErrDuplicateFilename indicates another row already carries this filename.
	ErrDuplicateFilename = errors.New("first_part_filename already recorded")

	// ErrSessionNotFound indicates a stream session was not found.
	ErrSessionNotFound = errors.New("stream session not found")

	// ErrVideoNotFound indicates an uploaded video record was not found.
	ErrVideoNotFound = errors.New("uploaded video not found")
)
