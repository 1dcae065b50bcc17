package api

import (
	"context"
	"errors"
	"net/http"

	"treemirror/internal/mirror"
	"treemirror/internal/workspace"
)

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestTimeout:
		return "timeout"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// errorForMirror maps tree and workspace errors onto HTTP statuses.
func errorForMirror(err error) *apiError {
	var ioErr *mirror.IOError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusRequestTimeout, Message: "content kept changing during read"}
	case errors.Is(err, workspace.ErrUnknownRoot):
		return &apiError{Status: http.StatusNotFound, Message: "root not found", Code: "unknown_root"}
	case errors.Is(err, mirror.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "path not found"}
	case errors.Is(err, mirror.ErrNotAFile):
		return &apiError{Status: http.StatusBadRequest, Message: "path is a directory", Code: "not_a_file"}
	case errors.As(err, &ioErr):
		return &apiError{Status: http.StatusInternalServerError, Message: ioErr.Error(), Code: "io_error"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
