package escrow

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

var (
	// ErrTradeNotFound is returned for ids that were never issued or have
	// been reaped. It matches domain.ErrNotFound under errors.Is.
	ErrTradeNotFound = fmt.Errorf("trade no longer exists: %w", domain.ErrNotFound)

	ErrNotParticipant   = errors.New("party is not part of this trade")
	ErrNotBuyer         = errors.New("only the buyer can report a payment")
	ErrSessionFinished  = errors.New("session already produced a trade")
	ErrIDSpaceExhausted = errors.New("could not allocate a unique trade id")
	ErrInvariant        = errors.New("trade invariant violated")
)

// ValidationError is a recoverable input error. The step that rejected the
// input stays current and the party is asked again.
type ValidationError struct {
	Step   Step
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(step Step, reason string, err error) error {
	return &ValidationError{Step: step, Reason: reason, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
