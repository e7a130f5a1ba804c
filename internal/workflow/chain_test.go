package workflow

import (
	"testing"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
)

func chainOf(statuses ...StepStatus) []ChainStep {
	chain := make([]ChainStep, len(statuses))
	for i, s := range statuses {
		chain[i] = ChainStep{Position: i + 1, Status: s, SignerID: string(rune('a' + i))}
	}
	return chain
}

func TestCurrent(t *testing.T) {
	chain := chainOf(StepSigned, StepToSign, StepPending)
	idx, err := Current(chain)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if idx != 1 {
		t.Fatalf("got index %d want 1", idx)
	}
}

func TestCurrentNoneAwaiting(t *testing.T) {
	_, err := Current(chainOf(StepSigned, StepSigned))
	if err == nil {
		t.Fatal("expected error for chain with no current step")
	}
	if apperrors.Code(err) != apperrors.ErrCodeConflict {
		t.Fatalf("expected conflict, got %q", apperrors.Code(err))
	}
}

func TestCurrentMultipleAwaiting(t *testing.T) {
	_, err := Current(chainOf(StepToSign, StepToSign))
	if err == nil {
		t.Fatal("expected error for chain with two current steps")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(chainOf(StepSigned, StepSigned, StepToSign, StepPending)); err != nil {
		t.Fatalf("valid chain rejected: %v", err)
	}
	// Fully resolved chains (all signed, or denied mid-way) are also valid.
	if err := Validate(chainOf(StepSigned, StepSigned)); err != nil {
		t.Fatalf("resolved chain rejected: %v", err)
	}
	if err := Validate(chainOf(StepPending, StepToSign)); err == nil {
		t.Fatal("pending before current step must be invalid")
	}
	if err := Validate(chainOf(StepToSign, StepSigned)); err == nil {
		t.Fatal("signed after current step must be invalid")
	}

	unordered := chainOf(StepSigned, StepToSign)
	unordered[1].Position = 1
	if err := Validate(unordered); err == nil {
		t.Fatal("duplicate positions must be invalid")
	}
}

func TestVisibleHidesProxies(t *testing.T) {
	chain := chainOf(StepSigned, StepToSign, StepPending)
	chain[0].IsOfficeProxy = true
	chain[2].IsOfficeProxy = true

	visible := Visible(chain)
	if len(visible) != 1 {
		t.Fatalf("got %d visible steps, want 1", len(visible))
	}
	if visible[0].Position != 2 {
		t.Fatalf("got position %d, want 2", visible[0].Position)
	}

	// A proxy holding the pen stays visible.
	pen := chainOf(StepSigned, StepToSign)
	pen[1].IsOfficeProxy = true
	if got := Visible(pen); len(got) != 2 {
		t.Fatalf("proxy with to_sign must be shown, got %d steps", len(got))
	}
}

func TestCanAct(t *testing.T) {
	chain := chainOf(StepSigned, StepToSign, StepPending)
	if err := CanAct(chain, "b"); err != nil {
		t.Fatalf("current signer rejected: %v", err)
	}
	err := CanAct(chain, "c")
	if err == nil {
		t.Fatal("out-of-turn signer must be rejected")
	}
	if apperrors.Code(err) != apperrors.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %q", apperrors.Code(err))
	}
}
