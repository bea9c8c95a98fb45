package corekind

import (
	"errors"
	"testing"
)

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(UpstreamTransient, "provider call failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIs(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"matching kind", New(Forbidden, "not owner"), Forbidden, true},
		{"different kind", New(NotFound, "missing"), Forbidden, false},
		{"plain error", errors.New("boom"), Forbidden, false},
		{"nil error", nil, Forbidden, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Is(tc.err, tc.kind); got != tc.want {
				t.Errorf("Is(%v, %v) = %v, want %v", tc.err, tc.kind, got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(New(QuotaExceeded, "over limit")); k != QuotaExceeded {
		t.Errorf("KindOf = %v, want %v", k, QuotaExceeded)
	}
	if k := KindOf(errors.New("plain")); k != Invariant {
		t.Errorf("KindOf(plain) = %v, want %v", k, Invariant)
	}
	if k := KindOf(nil); k != "" {
		t.Errorf("KindOf(nil) = %v, want empty", k)
	}
}

func TestRetryable(t *testing.T) {
	if !UpstreamTransient.Retryable() {
		t.Errorf("UpstreamTransient should be retryable")
	}
	if UpstreamPermanent.Retryable() {
		t.Errorf("UpstreamPermanent should not be retryable")
	}
	if Validation.Retryable() {
		t.Errorf("Validation should not be retryable")
	}
}
