package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrReceiptNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrTimeoutTooLarge, http.StatusBadRequest, "timeout_too_large"},
	{domainErrors.ErrInvalidTransaction, http.StatusBadRequest, "invalid_transaction"},
	{domainErrors.ErrDriverUnavailable, http.StatusServiceUnavailable, "driver_unavailable"},
	{domainErrors.ErrInboxWriteFailed, http.StatusInternalServerError, "inbox_write_failed"},
	{domainErrors.ErrRequestInProgress, http.StatusConflict, "request_in_progress"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus resolves err to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "validation_error"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		return http.StatusUnprocessableEntity, domainErr.Code
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if code == "internal_error" {
		log.Error().Err(err).Msg("unhandled error in handler")
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	// an empty body decodes as the zero value
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
