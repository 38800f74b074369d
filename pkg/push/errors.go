package push

import (
	"errors"
	"fmt"
)

var (
	ErrTokenAcquisitionFailed = errors.New("token acquisition failed")
	ErrMalformedPayload       = errors.New("malformed payload")
)

// PermissionDeniedError reports why a negotiation did not grant access.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// ListenerAttachError reports that one event source could not be attached.
type ListenerAttachError struct {
	Source string
	Err    error
}

func (e *ListenerAttachError) Error() string {
	return fmt.Sprintf("attach listener %q: %v", e.Source, e.Err)
}

func (e *ListenerAttachError) Unwrap() error { return e.Err }
