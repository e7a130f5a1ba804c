package workflow

import (
	"fmt"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
)

// ChainStep is the minimal view of one approval chain entry the state
// machine needs. The service layer maps storage rows onto it.
type ChainStep struct {
	Position      int
	Status        StepStatus
	SignerID      string
	IsOfficeProxy bool
}

// Current returns the index of the single to_sign step. It is an error for a
// live chain to have zero or more than one.
func Current(chain []ChainStep) (int, error) {
	idx := -1
	for i, s := range chain {
		if s.Status != StepToSign {
			continue
		}
		if idx >= 0 {
			return -1, apperrors.New(apperrors.ErrCodeInternal,
				"approval chain has more than one current step")
		}
		idx = i
	}
	if idx < 0 {
		return -1, apperrors.Conflict("invoice has no step awaiting signature")
	}
	return idx, nil
}

// Validate checks the chain ordering invariant: at most one to_sign step,
// every step before it signed, every step after it pending. The chain must
// be ordered by position.
func Validate(chain []ChainStep) error {
	cur := -1
	for i, s := range chain {
		if i > 0 && s.Position <= chain[i-1].Position {
			return apperrors.New(apperrors.ErrCodeInternal,
				fmt.Sprintf("chain positions out of order at index %d", i))
		}
		if s.Status == StepToSign {
			if cur >= 0 {
				return apperrors.New(apperrors.ErrCodeInternal,
					"approval chain has more than one current step")
			}
			cur = i
		}
	}
	if cur < 0 {
		return nil
	}
	for i, s := range chain {
		switch {
		case i < cur && s.Status != StepSigned:
			return apperrors.New(apperrors.ErrCodeInternal,
				fmt.Sprintf("step at position %d precedes the current step but is %q", s.Position, s.Status))
		case i > cur && s.Status != StepPending:
			return apperrors.New(apperrors.ErrCodeInternal,
				fmt.Sprintf("step at position %d follows the current step but is %q", s.Position, s.Status))
		}
	}
	return nil
}

// Visible filters the chain for display. Office-proxy entries are silent
// pass-through approvers: they are hidden while pending and after they have
// signed, and shown only while they hold the pen.
func Visible(chain []ChainStep) []ChainStep {
	out := make([]ChainStep, 0, len(chain))
	for _, s := range chain {
		if s.IsOfficeProxy && s.Status != StepToSign {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CanAct reports whether the user is the signer of the chain's current step.
func CanAct(chain []ChainStep, userID string) error {
	idx, err := Current(chain)
	if err != nil {
		return err
	}
	if chain[idx].SignerID != userID {
		return apperrors.Unauthorized("user is not the current signer for this invoice")
	}
	return nil
}
