package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		payload      any
		expectedBody string
	}{
		{
			name:         "simple map",
			status:       http.StatusOK,
			payload:      map[string]string{"message": "hello"},
			expectedBody: `{"message":"hello"}`,
		},
		{
			name:         "error response",
			status:       http.StatusBadRequest,
			payload:      ErrorResponse{Error: "bad request", Code: "invalid_input"},
			expectedBody: `{"error":"bad request","code":"invalid_input"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewValidationError("payment", "must be CASH or CARD"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_error", response.Code)
	assert.Contains(t, response.Error, "payment")
}

func TestWriteError_DomainErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"receipt not found", domainErrors.ErrReceiptNotFound, http.StatusNotFound, "not_found"},
		{"timeout too large", domainErrors.NewDomainError("timeout_too_large", "too long", domainErrors.ErrTimeoutTooLarge), http.StatusBadRequest, "timeout_too_large"},
		{"driver unavailable", domainErrors.ErrDriverUnavailable, http.StatusServiceUnavailable, "driver_unavailable"},
		{"wrapped inbox write failure", fmt.Errorf("write bon_1.txt: %w", domainErrors.ErrInboxWriteFailed), http.StatusInternalServerError, "inbox_write_failed"},
		{"request in progress", domainErrors.ErrRequestInProgress, http.StatusConflict, "request_in_progress"},
		{"invalid state transition", domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
		{"unauthorized", domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedCode, response.Code)
		})
	}
}

func TestWriteError_GenericDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, domainErrors.NewDomainError("custom_error", "custom error message", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "custom_error", response.Code)
	assert.Equal(t, "custom error message", response.Error)
}

func TestWriteError_UnknownError_FallbackToInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "internal_error", response.Code)
	assert.Equal(t, "internal server error", response.Error)
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"product":"Coffee","duration":"","price":5.00,"payment":"CASH"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))

	var result CreateReceiptRequest
	require.NoError(t, decodeAndValidate(httptest.NewRecorder(), req, &result))
	assert.Equal(t, "Coffee", result.Product)
	assert.Equal(t, 5.00, result.Price)
	assert.Equal(t, "CASH", result.Payment)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{invalid json}`))

	var result CreateReceiptRequest
	err := decodeAndValidate(httptest.NewRecorder(), req, &result)

	var validationErr *domainErrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "body", validationErr.Field)
	assert.Contains(t, validationErr.Message, "invalid JSON")
}

func TestDecodeAndValidate_TagFailures(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing payment", `{"product":"Coffee","price":5}`, "Payment"},
		{"unknown payment", `{"product":"Coffee","price":5,"payment":"CHEQUE"}`, "Payment"},
		{"negative timeout", `{"product":"Coffee","price":5,"payment":"CASH","timeout_ms":-1}`, "TimeoutMS"},
		{"item without name", `{"items":[{"quantity":1,"price":2}],"payment":"CARD"}`, "Name"},
		{"item with zero quantity", `{"items":[{"name":"Tea","quantity":0,"price":2}],"payment":"CARD"}`, "Quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))

			var result CreateReceiptRequest
			err := decodeAndValidate(httptest.NewRecorder(), req, &result)

			var validationErr *domainErrors.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Contains(t, validationErr.Message, "validation failed")
		})
	}
}

func TestDecodeAndValidate_EmptyBody(t *testing.T) {
	var report CreateReportRequest
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(nil))
	assert.NoError(t, decodeAndValidate(httptest.NewRecorder(), req, &report))

	var sale CreateReceiptRequest
	req = httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(nil))
	assert.Error(t, decodeAndValidate(httptest.NewRecorder(), req, &sale))
}

func TestDecodeAndValidate_BodyTooLarge(t *testing.T) {
	body := `{"product":"` + strings.Repeat("x", maxBodyBytes) + `","price":1,"payment":"CASH"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))

	var result CreateReceiptRequest
	assert.Error(t, decodeAndValidate(httptest.NewRecorder(), req, &result))
}
