package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestHasCode_MatchesThroughWrapping(t *testing.T) {
	base := New(CodeConflict, "user already has talk")
	wrapped := fmt.Errorf("talk button: %w", base)

	if !HasCode(wrapped, CodeConflict) {
		t.Fatal("expected conflict code to be found through fmt wrapping")
	}
	if HasCode(wrapped, CodeNotFound) {
		t.Fatal("did not expect not-found code")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected unknown code, got %q", got)
	}
	cause := stderrors.New("429 too many requests")
	err := Wrap(CodeTransient, "edit artifact", cause)
	if got := CodeOf(err); got != CodeTransient {
		t.Fatalf("expected transient code, got %q", got)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via errors.Is")
	}
	if err.Error() != "edit artifact: 429 too many requests" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
