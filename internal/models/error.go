package models

import "fmt"

// TransferError is a per-resource failure captured by an adapter. It is a
// value, not a Go error: per-resource failures never cross the adapter
// boundary as returned errors, they accumulate and are drained after the pass.
type TransferError struct {
	ResourceName string `json:"resource_name"`
	ResourceID   string `json:"resource_id"`
	Message      string `json:"message"`
	Cause        error  `json:"-"`
}

// FormatFetch renders the operator-facing message for a source-side failure.
func (e *TransferError) FormatFetch() string {
	return e.format("fetching", "from source")
}

// FormatPush renders the operator-facing message for a destination-side failure.
func (e *TransferError) FormatPush() string {
	return e.format("pushing", "to destination")
}

func (e *TransferError) format(verb, side string) string {
	msg := fmt.Sprintf("Error occurred while %s '%s:%s' %s with message: '%s'",
		verb, e.ResourceName, e.ResourceID, side, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" Message: %s", e.Cause.Error())
	}
	return msg
}
