package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// errBadRequest marks a malformed or invalid request body or parameter.
var errBadRequest = eris.New("bad request")

// HTTPStatus maps an orchestrator error to a response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateJob), errors.Is(err, model.ErrInvalidPrecondition), errors.Is(err, model.ErrStale):
		return http.StatusConflict
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable kind sent alongside the message.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrDuplicateJob):
		return "duplicate_job"
	case errors.Is(err, model.ErrInvalidPrecondition):
		return "invalid_precondition"
	case errors.Is(err, model.ErrStale):
		return "stale"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		f := ve[0]
		return fmt.Sprintf("validation error: %s - %s", f.Namespace(), f.Tag())
	}
	return "validation error: invalid request"
}
