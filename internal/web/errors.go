package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/teetime-scheduler/internal/internaltypes"
)

// apiError is the body of every non-2xx API response.
type apiError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

var (
	errUnauthenticated = apiError{
		Code:     "UNAUTHENTICATED",
		Message:  "Not signed in or the session has expired.",
		Category: "auth",
		Action:   "Sign in again.",
	}
	errInvalidCredentials = apiError{
		Code:     "INVALID_CREDENTIALS",
		Message:  "Invalid username or password.",
		Category: "auth",
		Action:   "Check your username and password and try again.",
	}
	errPasswordChangeRequired = apiError{
		Code:     "PASSWORD_CHANGE_REQUIRED",
		Message:  "You must change your password before continuing.",
		Category: "auth",
		Action:   "Set a new password via POST /api/auth/password.",
	}
	errWeakPassword = apiError{
		Code:     "WEAK_PASSWORD",
		Message:  "Password must be at least 6 characters.",
		Category: "validation",
		Action:   "Choose a longer password.",
	}
	errMissingCredential = apiError{
		Code:     "MISSING_CREDENTIAL",
		Message:  "You have no stored login for this course.",
		Category: "credential",
		Action:   "Add your course login on the credentials page, then submit the request again.",
	}
	errNotFound = apiError{
		Code:     "NOT_FOUND",
		Message:  "Not found.",
		Category: "client",
		Action:   "Check the id in the URL.",
	}
	errInvalidTransition = apiError{
		Code:     "INVALID_TRANSITION",
		Message:  "The request is no longer in a state that allows this.",
		Category: "conflict",
		Action:   "Reload the request to see its current status.",
	}
	errForbidden = apiError{
		Code:     "FORBIDDEN",
		Message:  "This action is disabled.",
		Category: "auth",
		Action:   "Ask an administrator.",
	}
	errMethodNotAllowed = apiError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "Method not allowed.",
		Category: "client",
		Action:   "Check the API documentation for this route.",
	}
	errRateLimited = apiError{
		Code:     "RATE_LIMITED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait for the time given in Retry-After and retry.",
	}
	errInternal = apiError{
		Code:     "INTERNAL",
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Try again in a moment.",
	}
)

func writeAPIError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, e)
}

// writeError maps a service error onto its status and envelope. Anything not
// recognised is logged and reported as INTERNAL without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *internaltypes.ValidationError
	switch {
	case errors.As(err, &ve):
		writeAPIError(w, http.StatusUnprocessableEntity, apiError{
			Code:     "VALIDATION",
			Message:  ve.Error(),
			Category: "validation",
			Action:   "Correct the " + fieldOrInput(ve.Field) + " and try again.",
		})
	case errors.Is(err, internaltypes.ErrUnauthenticated):
		writeAPIError(w, http.StatusUnauthorized, errUnauthenticated)
	case errors.Is(err, internaltypes.ErrInvalidCredentials):
		writeAPIError(w, http.StatusUnauthorized, errInvalidCredentials)
	case errors.Is(err, internaltypes.ErrPasswordChangeRequired):
		writeAPIError(w, http.StatusForbidden, errPasswordChangeRequired)
	case errors.Is(err, internaltypes.ErrWeakPassword):
		writeAPIError(w, http.StatusUnprocessableEntity, errWeakPassword)
	case errors.Is(err, internaltypes.ErrMissingCredential):
		writeAPIError(w, http.StatusConflict, errMissingCredential)
	case errors.Is(err, internaltypes.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, errNotFound)
	case errors.Is(err, internaltypes.ErrInvalidTransition):
		writeAPIError(w, http.StatusConflict, errInvalidTransition)
	case errors.Is(err, internaltypes.ErrForbidden):
		writeAPIError(w, http.StatusForbidden, errForbidden)
	default:
		s.logger().ErrorContext(r.Context(), "request failed",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeAPIError(w, http.StatusInternalServerError, errInternal)
	}
}

func fieldOrInput(f string) string {
	if f == "" {
		return "input"
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
