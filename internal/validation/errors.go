package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInternalValidation is matched by InternalValidationError.
var ErrInternalValidation = errors.New("internal validation error")

// InternalValidationError aborts a site run when a load job does not finish
// in time. The run is retried on the next scheduled invocation.
type InternalValidationError struct {
	FileName string
	JobIDs   []string
}

func (e *InternalValidationError) Error() string {
	return fmt.Sprintf("failed to load %s: load jobs %s did not complete", e.FileName, strings.Join(e.JobIDs, ", "))
}

// Is lets errors.Is match ErrInternalValidation.
func (e *InternalValidationError) Is(target error) bool {
	return target == ErrInternalValidation
}
