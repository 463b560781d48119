// ABOUTME: Typed failure taxonomy for signed-request verification
// ABOUTME: Each kind maps to one fixed HTTP status code

package auth

import "fmt"

// Kind identifies why a request failed verification. Handlers branch on the
// kind (or just the status) rather than on error text.
type Kind string

const (
	KindMissingHeaders Kind = "missing_headers" // one of the four auth headers absent
	KindMalformed      Kind = "malformed"       // unparseable timestamp or signature encoding
	KindExpired        Kind = "expired"         // timestamp outside the freshness window
	KindUnknownDevice  Kind = "unknown_device"  // no matching (device, user) record
	KindBadSignature   Kind = "bad_signature"   // cryptographic verification failed
	KindInternal       Kind = "internal"        // corrupt stored key or dependency failure
)

// Error is a verification failure with a fixed HTTP status.
type Error struct {
	Kind   Kind
	Status int
	msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Message returns the short, client-safe description. Internal failures keep
// their cause out of the message so handlers never echo dependency errors.
func (e *Error) Message() string { return e.msg }

func errMissingHeaders() *Error {
	return &Error{Kind: KindMissingHeaders, Status: 401, msg: "missing auth headers"}
}

func errMalformed(msg string) *Error {
	return &Error{Kind: KindMalformed, Status: 400, msg: msg}
}

func errExpired() *Error {
	return &Error{Kind: KindExpired, Status: 401, msg: "request expired"}
}

func errUnknownDevice() *Error {
	return &Error{Kind: KindUnknownDevice, Status: 401, msg: "unknown device"}
}

func errBadSignature() *Error {
	return &Error{Kind: KindBadSignature, Status: 403, msg: "invalid signature"}
}

func errInternal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Status: 500, msg: msg, cause: cause}
}
