package store

import "errors"

var ErrNotFound = errors.New("record not found")

// ValidationError reports a record that would break the store invariants.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
