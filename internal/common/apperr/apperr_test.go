package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestWrapPreservesCodeAndStatus(t *testing.T) {
	base := QuotaExceeded("user-1", 10)
	wrapped := Wrap(base, "while checking quota")

	if wrapped.Code != CodeQuotaExceeded {
		t.Errorf("Code = %q, want %q", wrapped.Code, CodeQuotaExceeded)
	}
	if wrapped.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want %d", wrapped.HTTPStatus, http.StatusTooManyRequests)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Errorf("wrapped error should be comparable to itself via errors.Is")
	}
}

func TestWrapClassifiesPlainErrorsAsInternal(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "store write failed")
	if wrapped.Code != CodeInternal {
		t.Errorf("Code = %q, want %q", wrapped.Code, CodeInternal)
	}
	if wrapped.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", wrapped.HTTPStatus, http.StatusInternalServerError)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "anything") != nil {
		t.Errorf("Wrap(nil) should return nil")
	}
}

func TestIsAndHTTPStatus(t *testing.T) {
	err := NotFound("workspace", "ws-1")
	if !Is(err, CodeNotFound) {
		t.Errorf("Is(err, CodeNotFound) = false, want true")
	}
	if HTTPStatus(err) != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", HTTPStatus(err), http.StatusNotFound)
	}
	if HTTPStatus(errors.New("plain")) != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain error) should default to 500")
	}
}
