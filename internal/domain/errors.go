package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)

// NotFoundError names the entity that could not be loaded.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionNotAllowedError carries the rejected (role, from, to) triple.
type TransitionNotAllowedError struct {
	Role Role
	From State
	To   State
}

func (e *TransitionNotAllowedError) Error() string {
	return fmt.Sprintf("role %s may not move a case from %s to %s", e.Role, e.From, e.To)
}

// ProvisioningError records a failed enrollment for one workshop. It is
// logged and audited, never returned to transition callers.
type ProvisioningError struct {
	CaseID     string
	WorkshopID string
	Stage      string
	Err        error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision case %s workshop %s (%s): %v", e.CaseID, e.WorkshopID, e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// SideEffect kinds.
const (
	SideEffectAudit        = "audit"
	SideEffectNotification = "notification"
)

// SideEffectError wraps a failed audit write or notification hand-off.
type SideEffectError struct {
	Kind string
	Tag  string
	Err  error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s side effect %s: %v", e.Kind, e.Tag, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }
