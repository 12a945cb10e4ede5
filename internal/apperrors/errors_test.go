package apperrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "without underlying error",
			err:  newErr(CodeNotFound, "test message", http.StatusNotFound),
			want: "[NOT_FOUND] test message",
		},
		{
			name: "with underlying error",
			err:  wrapErr(CodePermanent, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[PERMANENT_BACKEND] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := wrapErr(CodePermanent, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := Validation("field", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "field" {
		t.Errorf("Details[field] = %v, want field", err.Details["field"])
	}
	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("agent", "g1")

	if err.Code != CodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, CodeNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "agent" || err.Details["id"] != "g1" {
		t.Errorf("unexpected details: %v", err.Details)
	}
}

func TestConflict(t *testing.T) {
	err := Conflict("incompatible delivery target")

	if err.Code != CodeConflict {
		t.Errorf("Code = %v, want %v", err.Code, CodeConflict)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestTransient(t *testing.T) {
	underlying := errors.New("connection reset")
	err := Transient("vector_search", underlying)

	if err.Code != CodeTransient {
		t.Errorf("Code = %v, want %v", err.Code, CodeTransient)
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusServiceUnavailable)
	}
	if !errors.Is(err, underlying) {
		t.Error("expected wrapped error chain to include underlying")
	}
}

func TestDelivery_NeverSurfacedHTTPStatus(t *testing.T) {
	err := Delivery("https://example.com/hook", errors.New("5xx"))
	if err.Code != CodeDelivery {
		t.Errorf("Code = %v, want %v", err.Code, CodeDelivery)
	}
	// Delivery failures are never surfaced to the publisher as an HTTP
	// response; HTTPStatus is left at the zero value to make that explicit.
	if err.HTTPStatus != 0 {
		t.Errorf("HTTPStatus = %d, want 0", err.HTTPStatus)
	}
}

func TestIsAndAs(t *testing.T) {
	err := Transient("op", errors.New("boom"))

	if !Is(err, CodeTransient) {
		t.Error("expected Is(err, CodeTransient) to be true")
	}
	if Is(err, CodeConflict) {
		t.Error("expected Is(err, CodeConflict) to be false")
	}

	se, ok := As(err)
	if !ok || se.Code != CodeTransient {
		t.Errorf("As() = %v, %v", se, ok)
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Error("expected As() to fail for a plain error")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(NotFound("x", "y")); got != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %d, want %d", got, http.StatusNotFound)
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() = %d, want %d", got, http.StatusInternalServerError)
	}
}
