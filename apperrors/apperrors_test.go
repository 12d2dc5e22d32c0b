package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestErrorMessageIncludesCodeAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUnknown, "failed to fetch challenge", cause)

	if got := err.Error(); got != "UNKNOWN: failed to fetch challenge: connection refused" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must unwrap")
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	err := New(CodeInvalidState, "challenge cannot be closed")
	wrapped := fmt.Errorf("close: %w", err)

	if GetCode(wrapped) != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE through wrapping, got %s", GetCode(wrapped))
	}
	if !IsCode(wrapped, CodeInvalidState) {
		t.Fatal("IsCode must see through wrapping")
	}
	if GetCode(errors.New("plain")) != CodeUnknown {
		t.Fatal("non-domain errors must map to UNKNOWN")
	}
}

func TestWithMetaAndDetails(t *testing.T) {
	err := New(CodeNotFound, "challenge not found").
		WithMeta("challenge_id", "c1").
		WithDetails([]string{"a", "b"})

	if err.Metadata["challenge_id"] != "c1" {
		t.Fatalf("metadata not attached: %+v", err.Metadata)
	}
	details, ok := err.Details.([]string)
	if !ok || len(details) != 2 {
		t.Fatalf("details not attached: %+v", err.Details)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeNotFound, fiber.StatusNotFound},
		{CodeUnauthorized, fiber.StatusForbidden},
		{CodeInvalidArgument, fiber.StatusBadRequest},
		{CodeInvalidParticipant, fiber.StatusBadRequest},
		{CodeInvalidState, fiber.StatusConflict},
		{CodeEvaluationIncomplete, fiber.StatusConflict},
		{CodeConflictingState, fiber.StatusConflict},
		{CodeUnknown, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(New(tc.code, "x")); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
	if HTTPStatus(errors.New("plain")) != fiber.StatusInternalServerError {
		t.Error("non-domain errors must map to 500")
	}
}
