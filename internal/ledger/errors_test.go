package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")
	pe := persistence("insert chat message", cause)
	if !errors.Is(pe, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", pe)
	}
	if !errors.Is(pe, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if again := persistence("outer", fmt.Errorf("wrapped: %w", pe)); !errors.Is(again, ErrPersistence) {
		t.Fatalf("expected rewrap to keep kind")
	}
	if persistence("noop", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	if !errors.Is(notFound("call", "x"), ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	if errors.Is(invalid("email", "bad"), ErrNotFound) {
		t.Fatalf("validation must not match ErrNotFound")
	}
}

func TestValidateEmailAndPhone(t *testing.T) {
	for _, addr := range []string{"a@b.co", " jane.doe@example.com "} {
		if err := ValidateEmail("to", addr); err != nil {
			t.Fatalf("%q: unexpected error %v", addr, err)
		}
	}
	for _, addr := range []string{"", "nope", "a@b", "a b@c.d"} {
		if err := ValidateEmail("to", addr); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", addr, err)
		}
	}
	if err := ValidatePhone("phone", "+1 555-123-4567"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := ValidatePhone("phone", "12345"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNameFromAddress(t *testing.T) {
	cases := map[string]string{
		"jane.doe@example.com": "Jane Doe",
		"bob_smith@x.io":       "Bob Smith",
		"solo":                 "Solo",
		"":                     "",
	}
	for in, want := range cases {
		if got := NameFromAddress(in); got != want {
			t.Fatalf("NameFromAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCallStatusTransitions(t *testing.T) {
	allowed := map[[2]CallStatus]bool{
		{CallPending, CallInProgress}:    true,
		{CallPending, CallCompleted}:     true,
		{CallPending, CallMissed}:        true,
		{CallPending, CallDeclined}:      true,
		{CallInProgress, CallCompleted}:  true,
		{CallInProgress, CallMissed}:     true,
		{CallInProgress, CallDeclined}:   false,
		{CallCompleted, CallMissed}:      false,
		{CallDeclined, CallInProgress}:   false,
		{CallInProgress, CallInProgress}: false,
	}
	for pair, want := range allowed {
		if got := pair[0].CanTransition(pair[1]); got != want {
			t.Fatalf("%s -> %s: got %v want %v", pair[0], pair[1], got, want)
		}
	}
}
