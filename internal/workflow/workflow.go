// Package workflow is the invoice approval state machine: statuses, the
// transitions between them, and the guards that decide what an actor may do.
// Everything here is pure; persistence and authorization context live in the
// service layer.
package workflow

import (
	"fmt"

	"github.com/skyfin/be-invoice-signoff/internal/apperrors"
)

// Status is the invoice-level lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusToSign     Status = "to_sign"
	StatusSigned     Status = "signed"
	StatusDenied     Status = "denied"
	StatusRollback   Status = "rollback"
	StatusProcessing Status = "processing"
	StatusForwarded  Status = "forwarded"
)

// StepStatus is the per-signer status of one chain entry.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepToSign   StepStatus = "to_sign"
	StepSigned   StepStatus = "signed"
	StepDenied   StepStatus = "denied"
	StepRollback StepStatus = "rollback"
)

// Action is a signer- or owner-initiated workflow event.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionDeny     Action = "deny"
	ActionRollback Action = "rollback"
	ActionResubmit Action = "resubmit"
)

// ValidStatus reports whether s is a known invoice status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusToSign, StatusSigned, StatusDenied,
		StatusRollback, StatusProcessing, StatusForwarded:
		return true
	}
	return false
}

// Editable reports whether the owner may mutate invoice content.
func Editable(s Status) bool {
	return s == StatusPending || s == StatusRollback || s == StatusToSign
}

// Deletable reports whether the owner may delete the invoice.
func Deletable(s Status) bool {
	return s == StatusPending || s == StatusDenied
}

// Resubmittable reports whether the owner may reopen the invoice for a fresh
// approval round.
func Resubmittable(s Status) bool {
	return s == StatusDenied || s == StatusRollback
}

// Actionable reports whether the invoice has a live approval chain a signer
// can act on.
func Actionable(s Status) bool {
	switch s {
	case StatusPending, StatusToSign, StatusProcessing, StatusForwarded:
		return true
	}
	return false
}

// ApproveMode distinguishes the three outcomes of an approval.
type ApproveMode int

const (
	// ApproveAdvance signs the current step and hands the chain to the next
	// pre-built step.
	ApproveAdvance ApproveMode = iota
	// ApproveForward signs the current step and appends newly selected
	// signers to the chain.
	ApproveForward
	// ApproveFinal signs the current step as the last required approval.
	ApproveFinal
)

// Transition returns the invoice status after an action. It validates the
// source status only; step-level guards are separate.
func Transition(from Status, action Action, mode ApproveMode) (Status, error) {
	switch action {
	case ActionApprove:
		if !Actionable(from) {
			return from, apperrors.Conflict(fmt.Sprintf("cannot approve invoice with status %q", from))
		}
		switch mode {
		case ApproveFinal:
			return StatusSigned, nil
		case ApproveForward:
			return StatusForwarded, nil
		default:
			return StatusProcessing, nil
		}
	case ActionDeny:
		if !Actionable(from) {
			return from, apperrors.Conflict(fmt.Sprintf("cannot deny invoice with status %q", from))
		}
		return StatusDenied, nil
	case ActionRollback:
		if !Actionable(from) {
			return from, apperrors.Conflict(fmt.Sprintf("cannot roll back invoice with status %q", from))
		}
		return StatusRollback, nil
	case ActionResubmit:
		switch from {
		case StatusDenied:
			return StatusPending, nil
		case StatusRollback:
			// Rollback re-enters the chain for re-approval rather than
			// restarting from a draft.
			return StatusToSign, nil
		default:
			return from, apperrors.Conflict(fmt.Sprintf("cannot resubmit invoice with status %q", from))
		}
	default:
		return from, apperrors.New(apperrors.ErrCodeInternal, fmt.Sprintf("unknown action %q", action))
	}
}

// ValidateGLLines checks that GL allocations add up to the invoice total.
// A single line must match the total exactly; multiple lines must sum to it.
func ValidateGLLines(amounts []int64, total int64) error {
	if len(amounts) == 0 {
		return apperrors.InvalidInput("gl_lines", "invoice must have at least 1 GL line")
	}
	var sum int64
	for i, a := range amounts {
		if a <= 0 {
			return apperrors.InvalidInput("gl_lines", fmt.Sprintf("line %d: amount must be positive", i+1))
		}
		sum += a
	}
	if sum != total {
		return apperrors.InvalidInput("gl_lines",
			fmt.Sprintf("line amounts sum to %d, invoice total is %d", sum, total))
	}
	return nil
}
