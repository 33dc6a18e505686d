package relay

import "errors"

// PermissionError is returned when a message does not come from the owner, or
// when it arrives through a channel that is disabled for the owner. No reply
// should be sent to the originator.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return e.Message
}

// InvalidParametersError is returned when an owner message cannot be turned
// into an SMS, e.g. because of bad addressing or an invalid number. The text
// is meant to be sent back to the owner on the channel the message came from.
type InvalidParametersError struct {
	Message string
}

func (e *InvalidParametersError) Error() string {
	return e.Message
}

// IsPermission reports whether err is or wraps a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsInvalidParameters reports whether err is or wraps an
// InvalidParametersError.
func IsInvalidParameters(err error) bool {
	var ie *InvalidParametersError
	return errors.As(err, &ie)
}
