package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeTransient, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodePoisonMessage, status: http.StatusUnprocessableEntity},
		{code: CodeHandlerFailure, status: http.StatusInternalServerError, retryable: true},
		{code: CodeTerminalDelivery, status: http.StatusInternalServerError},
		{code: CodeSerialization, status: http.StatusInternalServerError},
		{code: CodeIdempotency, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	root := stdErrors.New("redis down")
	wrapped := fmt.Errorf("dispatch: %w", Wrap(CodeIdempotency, root, "mark processed"))

	if !stdErrors.Is(wrapped, root) {
		t.Fatalf("expected root cause to be reachable")
	}
	if CodeOf(wrapped) != CodeIdempotency {
		t.Fatalf("expected idempotency code, got %s", CodeOf(wrapped))
	}
	if !IsCode(wrapped, CodeIdempotency) {
		t.Fatalf("expected IsCode to match")
	}
}

func TestIsCodeFindsInnerCode(t *testing.T) {
	inner := New(CodePoisonMessage, "bad envelope")
	outer := Wrap(CodeHandlerFailure, inner, "handler")
	if !IsCode(outer, CodePoisonMessage) {
		t.Fatalf("expected nested code to be found")
	}
	if IsCode(outer, CodeSerialization) {
		t.Fatalf("unexpected code match")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Fatalf("cancellation should not be retryable")
	}
	if IsRetryable(New(CodePoisonMessage, "bad")) {
		t.Fatalf("poison message should not be retryable")
	}
	if !IsRetryable(New(CodeTransient, "timeout")) {
		t.Fatalf("transient should be retryable")
	}
	if !IsRetryable(stdErrors.New("unknown")) {
		t.Fatalf("foreign errors default to retryable")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(CodeSerialization, stdErrors.New("unsupported type"), "encode snapshot")
	if got := err.Error(); got != "SERIALIZATION_ERROR: encode snapshot: unsupported type" {
		t.Fatalf("unexpected error string %q", got)
	}
	var nilErr *Error
	if nilErr.Code() != CodeInternal {
		t.Fatalf("nil error should report internal")
	}
}
