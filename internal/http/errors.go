package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
	"github.com/adenalhardan/punchcard-backend/internal/service/event"
	"github.com/adenalhardan/punchcard-backend/internal/service/form"
	"github.com/adenalhardan/punchcard-backend/internal/service/schema"
)

const (
	codeInvalidInput     = "InvalidInput"
	codeNotFound         = "NotFound"
	codeMethodNotAllowed = "MethodNotAllowed"
	codeRateLimited      = "RateLimited"
	codeUnauthorized     = "Unauthorized"
	codeStoreUnavailable = "StoreUnavailable"
	codeInternal         = "Internal"
)

var validationCodes = map[error]string{
	schema.ErrMalformedField:       "MalformedField",
	schema.ErrUnsupportedType:      "UnsupportedType",
	schema.ErrUnsupportedPresence:  "UnsupportedPresence",
	schema.ErrDuplicateField:       "DuplicateField",
	schema.ErrNoRequiredField:      "NoRequiredField",
	schema.ErrFieldSetMismatch:     "FieldSetMismatch",
	schema.ErrRequiredFieldMissing: "RequiredFieldMissing",
	schema.ErrTypeMismatch:         "TypeMismatch",
}

// classify maps a service error onto an HTTP status and reason code.
func classify(err error) (int, string) {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		if code, ok := validationCodes[verr.Err]; ok {
			return http.StatusBadRequest, code
		}
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, event.ErrDuplicateTitle):
		return http.StatusConflict, "DuplicateTitle"
	case errors.Is(err, form.ErrDuplicateSubmission):
		return http.StatusConflict, "DuplicateSubmission"
	case errors.Is(err, event.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, form.ErrEventNotFound):
		return http.StatusNotFound, "EventNotFound"
	case errors.Is(err, event.ErrPartialDelete):
		return http.StatusInternalServerError, "PartialDeleteFailure"
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeStoreUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "code", code, "error", err)
		if status == http.StatusServiceUnavailable {
			msg = "store unavailable"
		}
	}
	writeError(w, status, msg, code)
}
