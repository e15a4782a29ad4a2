package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
)

// Error texts sent to clients. Internal error detail stays in the logs.
const (
	InvalidKeyMessage    = "Invalid videoId"
	NotFoundMessage      = "Not found"
	InternalErrorMessage = "Internal server error"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeWrappedError maps err onto a status code and logs server-side failures.
// Validation failures become 400 with their reason code, missing jobs 404,
// everything else the given fallback status.
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string, fallback int) {
	if ve, ok := errors.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  InvalidKeyMessage,
			Reason: string(ve.Reason),
			Key:    ve.Key,
		})
		return
	}
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, NotFoundMessage)
		return
	}
	if errors.IsInvalidRequestError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Errorw(context, logger.FieldError, err, "transient", errors.IsTransient(err))
	writeError(w, fallback, InternalErrorMessage)
}
