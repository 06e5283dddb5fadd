package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeChallengeMissing, "no live challenge")
	other := New(CodeChallengeMissing, "different message, same code")

	if !errors.Is(base, other) {
		t.Fatal("expected errors with equal codes to match")
	}
	if errors.Is(base, New(CodeChallengeMismatch, "mismatch")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCodeUnwrapsChain(t *testing.T) {
	cause := New(CodeCounterRegression, "counter regressed")
	wrapped := fmt.Errorf("verify login: %w", cause)

	if got := GetCode(wrapped); got != CodeCounterRegression {
		t.Fatalf("expected %v, got %v", CodeCounterRegression, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected %v, got %v", CodeUnknown, got)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("expected %v for nil, got %v", CodeUnknown, got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeEmailTaken, http.StatusConflict},
		{CodeUsernameTaken, http.StatusConflict},
		{CodeNotFound, http.StatusNotFound},
		{CodeTokenInvalid, http.StatusUnauthorized},
		{CodeSecondFactorRequired, http.StatusUnauthorized},
		{CodeCounterRegression, http.StatusBadRequest},
		{CodePasskeyVerificationFailed, http.StatusBadRequest},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %v: expected status %d, got %d", tc.code, tc.want, got)
		}
	}
}
