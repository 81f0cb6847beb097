package http

import (
	"errors"
	"net/http"
	"strings"

	"chongmu/internal/services"
)

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		BadRequestError(r, err.Error()).Write(w)
	case services.IsNotFound(err):
		NotFoundError(r, err.Error()).Write(w)
	case services.IsConflict(err):
		ConflictError(r, err.Error()).Write(w)
	case services.IsValidation(err):
		UnprocessableEntityError(r, err.Error()).Write(w)
	default:
		InternalServerError(r, err).Write(w)
	}
}
