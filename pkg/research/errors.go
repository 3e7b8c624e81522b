package research

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownReportSource = errors.New("unknown report source")
	ErrMissingCollaborator = errors.New("missing collaborator")
	ErrFabricatedSource    = errors.New("curation introduced a source that was not researched")
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrNoDocuments         = errors.New("no documents supplied")
)

// FatalError marks a collaborator failure that must abort the whole session
// instead of degrading a single sub-query.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the engine propagates it out of ConductResearch.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err should abort the session. Cancellation and
// deadline errors are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
