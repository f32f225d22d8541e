package insurance

import (
	"errors"
	"fmt"

	"github.com/hms/hms/pkg/validation"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrClaimExists          = errors.New("a claim has already been submitted for this invoice")
	ErrSubmissionInProgress = errors.New("a claim submission for this invoice is already in progress")
)

func notFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// ValidationError carries field-level messages. It is returned before any
// insurer call is made.
type ValidationError = validation.Errors

func invalid(field, msg string) error {
	return validation.Field(field, msg)
}
