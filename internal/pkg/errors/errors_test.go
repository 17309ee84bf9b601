package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New(CodeValidation, "query is required")
	want := "VALIDATION_ERROR: query is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(CodeRetrievalUnavailable, "search failed", errors.New("conn refused"))
	if wrapped.Unwrap() == nil {
		t.Error("Unwrap() = nil, want inner error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeRetrievalUnavailable, http.StatusServiceUnavailable},
		{CodeRoutingUnavailable, http.StatusServiceUnavailable},
		{CodeFallbackModelFailure, http.StatusInternalServerError},
		{CodeGuardMalformedOutput, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCode(t *testing.T) {
	if Code(PrimaryModelError(errors.New("boom"))) != CodePrimaryModelFailure {
		t.Error("Code() should return the AppError code")
	}
	if Code(errors.New("plain")) != CodeInternal {
		t.Error("Code() should default to INTERNAL_ERROR")
	}
	if !Is(FallbackModelError(nil), CodeFallbackModelFailure) {
		t.Error("Is() should match the code")
	}
}

func TestWriteError_Sanitizes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("secret internal detail"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Error != "internal server error" {
		t.Errorf("error message leaked: %q", resp.Error)
	}
}

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, RateLimitedError(30))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Code != CodeRateLimited {
		t.Errorf("code = %s, want %s", resp.Code, CodeRateLimited)
	}
	if resp.Details["retry_after"] != "30" {
		t.Errorf("retry_after = %q, want 30", resp.Details["retry_after"])
	}
}
