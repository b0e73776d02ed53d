// Package rtcerrors defines the closed error taxonomy surfaced by the media
// session controller. Every error that crosses a component boundary is an
// *Error carrying a kind, a human message, an optional platform code and the
// original cause.
package rtcerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the coarse error category.
type Kind string

const (
	KindPermission Kind = "permission" // device/display access denied
	KindConnection Kind = "connection" // negotiation/ICE failure
	KindMedia      Kind = "media"      // device busy, not found, bad constraints, recording unsupported
	KindNetwork    Kind = "network"    // signaling delivery failure
	KindUnknown    Kind = "unknown"
)

// Code narrows a media error down to the platform-level failure.
type Code string

const (
	CodePermissionDenied   Code = "permission-denied"
	CodeDeviceNotFound     Code = "device-not-found"
	CodeDeviceBusy         Code = "device-busy"
	CodeConstraints        Code = "constraints-unsatisfiable"
	CodeRecordingRejected  Code = "recording-unsupported"
	CodeRetriesExhausted   Code = "reconnect-attempts-exhausted"
	CodeEnumerationDenied  Code = "enumeration-denied"
	CodeSignalingDelivery  Code = "signaling-delivery"
	CodeUnknown            Code = "unknown"
)

// Error is the single error type surfaced by this module.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new Error.
func Wrap(err error, kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: err}
}

// KindOf reports the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of err, or CodeUnknown if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ClassifyCapture maps a raw capture-provider error onto the media taxonomy.
// Classification is string-based because platform capture backends do not
// expose sentinel errors.
func ClassifyCapture(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission denied", "not allowed", "access denied", "operation not permitted"):
		return Wrap(err, KindPermission, CodePermissionDenied, "capture access denied")
	case containsAny(msg, "not found", "no such device", "no device", "failed to find"):
		return Wrap(err, KindMedia, CodeDeviceNotFound, "capture device not found")
	case containsAny(msg, "busy", "in use", "already opened", "resource unavailable"):
		return Wrap(err, KindMedia, CodeDeviceBusy, "capture device busy")
	case containsAny(msg, "constraint", "unsupported", "overconstrained", "no suitable"):
		return Wrap(err, KindMedia, CodeConstraints, "capture constraints unsatisfiable")
	default:
		return Wrap(err, KindUnknown, CodeUnknown, "capture failed")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
