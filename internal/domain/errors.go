package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code and message so wrapped sentinels
// still compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeAlreadyExists           = "ALREADY_EXISTS"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeInternalError           = "INTERNAL_ERROR"
	ErrCodeInvalidOperation        = "INVALID_OPERATION"
	ErrCodeContaminationRejected   = "CONTAMINATION_REJECTED"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodePersistenceConflict     = "PERSISTENCE_CONFLICT"
	ErrCodeSchedulerOverlap        = "SCHEDULER_OVERLAP"
)

// Validation errors
var (
	ErrInvalidVerifiedStatus = NewDomainError(ErrCodeValidation, "invalid verified status")
	ErrInvalidQAStatus       = NewDomainError(ErrCodeValidation, "invalid qa status")
	ErrInvalidLegacyStatus   = NewDomainError(ErrCodeValidation, "invalid verification status")
	ErrInvalidVehicleKey     = NewDomainError(ErrCodeValidation, "invalid vehicle key")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrChunkNotFound      = NewDomainError(ErrCodeNotFound, "chunk not found")
	ErrReportNotFound     = NewDomainError(ErrCodeNotFound, "qa report not found")
	ErrCheckpointNotFound = NewDomainError(ErrCodeNotFound, "scheduler checkpoint not found")
)

// Already exists errors
var (
	ErrReportAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "qa report already exists for date")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Lifecycle errors
var (
	ErrContaminationRejected   = NewDomainError(ErrCodeContaminationRejected, "content rejected by contamination guard")
	ErrCollaboratorUnavailable = NewDomainError(ErrCodeCollaboratorUnavailable, "collaborator unavailable")
	ErrPersistenceConflict     = NewDomainError(ErrCodePersistenceConflict, "value rejected by store schema")
	ErrSchedulerOverlap        = NewDomainError(ErrCodeSchedulerOverlap, "qa cycle already in progress")
)

// ContaminationError is returned when the guard blocks a write. The banned
// marker for Key has already been persisted when this is returned.
type ContaminationError struct {
	Key    ChunkKey
	Rule   string
	Reason string
}

func (e *ContaminationError) Error() string {
	return fmt.Sprintf("contamination blocked %s (%s): %s", e.Key, e.Rule, e.Reason)
}

// Is lets errors.Is(err, ErrContaminationRejected) match.
func (e *ContaminationError) Is(target error) bool {
	return target == ErrContaminationRejected
}

// CollaboratorError wraps a failed call to a search source or the oracle.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCollaboratorUnavailable) match.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

// PersistenceConflictError reports a value the store schema does not accept,
// typically an enum value missing from a check constraint.
type PersistenceConflictError struct {
	Constraint string
	Err        error
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("persistence conflict on %s: %v", e.Constraint, e.Err)
}

func (e *PersistenceConflictError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistenceConflict) match.
func (e *PersistenceConflictError) Is(target error) bool {
	return target == ErrPersistenceConflict
}

// CodeOf returns the domain error code carried by err, or "" when err is not
// a domain error.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrContaminationRejected):
		return ErrCodeContaminationRejected
	case errors.Is(err, ErrCollaboratorUnavailable):
		return ErrCodeCollaboratorUnavailable
	case errors.Is(err, ErrPersistenceConflict):
		return ErrCodePersistenceConflict
	}
	return ""
}
