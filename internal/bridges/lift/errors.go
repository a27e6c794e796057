package lift

import "errors"

// Domain errors for the lift bridge package.
var (
	// ErrConnectFailed is returned by an OpenFunc when the serial port cannot
	// be opened. Open logs it and retries; it is never surfaced to callers.
	ErrConnectFailed = errors.New("lift: serial connect failed")

	// ErrReadFailed is returned when reading from the device channel fails.
	// The update loop logs it, pauses, and resumes on the same channel.
	ErrReadFailed = errors.New("lift: serial read failed")

	// ErrMalformedLine is returned when a brace-delimited line is not a
	// valid JSON object.
	ErrMalformedLine = errors.New("lift: malformed status line")

	// ErrMissingArgument is returned when a command is requested without a
	// floor value.
	ErrMissingArgument = errors.New("lift: floor argument required")

	// ErrWriteFailed is returned when writing a command to the device fails.
	ErrWriteFailed = errors.New("lift: command write failed")

	// ErrChannelClosed is returned when the channel is used after Close.
	ErrChannelClosed = errors.New("lift: channel closed")
)

// WriteError is the error SendCommand returns when the device write fails.
// It matches ErrWriteFailed and the underlying cause with errors.Is.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return ErrWriteFailed.Error() + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}
