package upload

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Kind classifies an upload error.
type Kind int

const (
	// KindClient marks a malformed or incomplete request, detected before
	// the object store is contacted.
	KindClient Kind = iota + 1
	// KindService marks a failure reported by, or on the way to, the object store.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation. Message is safe to show to
// callers; Err carries the underlying store error and is only ever logged.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func clientError(op, message string) *Error {
	return &Error{Kind: KindClient, Op: op, Message: message}
}

func serviceError(op, message string, err error) *Error {
	return &Error{Kind: KindService, Op: op, Message: message, Err: err}
}

// IsClientError reports whether err is an upload error caused by the request.
func IsClientError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindClient
}

// IsServiceError reports whether err is an upload error caused by the store.
func IsServiceError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindService
}

// PublicMessage returns the message that may be sent back to a caller.
// Anything that is not an *Error gets a generic message.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// StoreErrorCode extracts the object store's error code, if any.
func StoreErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// completeFailureMessages rewords store rejections of a completion request
// whose cause the caller can act on. Other codes stay opaque.
var completeFailureMessages = map[string]string{
	"InvalidPart":      "One or more parts could not be found or their ETags do not match",
	"InvalidPartOrder": "Parts must be listed in ascending part number order",
	"EntityTooSmall":   "Every part except the last must be at least 5 MiB",
	"NoSuchUpload":     "Upload session does not exist or has already been completed or aborted",
}
