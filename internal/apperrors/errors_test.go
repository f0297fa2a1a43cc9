package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
		public   string
		status   int
	}{
		{
			name:     "not_found",
			err:      NotFound("order %d not found", 7),
			expected: KindNotFound,
			public:   "order 7 not found",
			status:   http.StatusNotFound,
		},
		{
			name:     "wrapped_validation",
			err:      fmt.Errorf("create order: %w", Validation("address is required")),
			expected: KindValidation,
			public:   "address is required",
			status:   http.StatusBadRequest,
		},
		{
			name:     "conflict",
			err:      Conflict("order already has a courier"),
			expected: KindConflict,
			public:   "order already has a courier",
			status:   http.StatusConflict,
		},
		{
			name:     "plain_error_is_internal",
			err:      errors.New("connection reset"),
			expected: KindInternal,
			public:   "internal error",
			status:   http.StatusInternalServerError,
		},
		{
			name:     "internal_hides_details",
			err:      Internal(errors.New("pq: deadlock detected"), "update stock"),
			expected: KindInternal,
			public:   "internal error",
			status:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("Expected kind %s, got %s", tt.expected, got)
			}
			if got := PublicMessage(tt.err); got != tt.public {
				t.Errorf("Expected public message %q, got %q", tt.public, got)
			}
			if got := HTTPStatus(KindOf(tt.err)); got != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause, "persist order")

	if !errors.Is(err, cause) {
		t.Error("Expected Internal to wrap its cause")
	}
	if err.Error() != "persist order: boom" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if Is(nil, KindInternal) {
		t.Error("nil must not match any kind")
	}
}
