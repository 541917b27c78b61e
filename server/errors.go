package server

import (
	"context"
	"net/http"

	"github.com/teranos/lookout/admission"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/upload"
)

// ErrDraining is returned for new runs while the server shuts down
var ErrDraining = errors.Mark(errors.New("server is shutting down"), errors.ErrServiceUnavailable)

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, admission.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsServiceUnavailableError(err):
		return http.StatusServiceUnavailable
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON body. Internal errors never leak their message.
func errorBody(err error, status int) ErrorResponse {
	if status == http.StatusInternalServerError {
		return ErrorResponse{Error: "internal server error"}
	}
	if status == http.StatusTooManyRequests {
		return ErrorResponse{Error: admission.ErrAdmissionDenied.Error()}
	}

	body := ErrorResponse{Error: err.Error()}
	var be *upload.BatchError
	if errors.As(err, &be) {
		body.Error = be.Err.Error()
		body.File = be.Filename
	}
	if kind := upload.KindOf(err); kind != "" {
		body.Kind = kind
	}
	if details := errors.GetAllDetails(err); len(details) > 0 {
		body.Detail = details[0]
	}
	return body
}

// handleError logs err at a level matching its status and writes the reply
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logger.LoggerFromContext(r.Context())

	switch {
	case status >= 500 && status != http.StatusServiceUnavailable:
		log.Errorw("Request failed", logger.FieldStatus, status, logger.FieldError, err)
	case status == 499:
		log.Debugw("Client disconnected", logger.FieldError, err)
		return
	default:
		log.Infow("Request rejected",
			logger.FieldStatus, status,
			logger.FieldErrorKind, upload.KindOf(err),
			logger.FieldError, err.Error())
	}

	writeJSON(w, status, errorBody(err, status))
}
