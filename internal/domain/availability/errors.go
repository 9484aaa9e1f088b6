package availability

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input to a store mutator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError is only returned for explicit id lookups. A doctor with no
// schedule is never "not found".
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// BatchError describes one failed unit of a batch operation.
type BatchError struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// BatchResult is returned by batch mutators. Units are attempted
// independently and successes are not rolled back.
type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors,omitempty"`
}

func (r *BatchResult) ok() { r.Succeeded++ }

func (r *BatchResult) fail(unit string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, BatchError{Unit: unit, Error: err.Error()})
}

// Partial reports whether some, but not all, units failed.
func (r *BatchResult) Partial() bool {
	return r.Failed > 0 && r.Succeeded > 0
}
