package models

import (
	"errors"
	"fmt"
)

// ValidationError covers malformed input and state-machine violations.
// Surfaced to the caller immediately; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError is returned for operations referencing an unknown user,
// alert, or incident.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ScoringUnavailableError signals that one of the ensemble models failed to
// produce a value. The scoring attempt fails as a whole; a partial ensemble
// is never substituted.
type ScoringUnavailableError struct {
	Model string
	Err   error
}

func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable: %s model: %v", e.Model, e.Err)
}

func (e *ScoringUnavailableError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsScoringUnavailable(err error) bool {
	var se *ScoringUnavailableError
	return errors.As(err, &se)
}
