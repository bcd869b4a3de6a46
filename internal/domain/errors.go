package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound             = errors.New("rule not found")
	ErrInsufficientCandidates   = errors.New("insufficient candidates")
	ErrInvalidState             = errors.New("invalid draw state")
	ErrInvalidReplacementTarget = errors.New("invalid replacement target")
	ErrNoBackupAvailable        = errors.New("no backup available")
	ErrTimeout                  = errors.New("roster provider timeout")
	ErrConflict                 = errors.New("concurrent modification")
	ErrValidation               = errors.New("invalid request")
)

// InsufficientCandidatesError reports the pool shortfall of a selection.
type InsufficientCandidatesError struct {
	Available int
	Required  int
}

func (e InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates: %d eligible, %d required", e.Available, e.Required)
}

func (e InsufficientCandidatesError) Unwrap() error { return ErrInsufficientCandidates }

// StateError reports an operation attempted against an incompatible status.
type StateError struct {
	Op     string
	Status string
}

func (e StateError) Error() string {
	return fmt.Sprintf("cannot %s draw in status %s", e.Op, e.Status)
}

func (e StateError) Unwrap() error { return ErrInvalidState }
