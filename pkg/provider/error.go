package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Class buckets an external-provider failure into the small set of outcomes
// callers actually branch on. Anything not in the table is permanent.
type Class string

const (
	ClassTransient         Class = "TRANSIENT"
	ClassRateLimited       Class = "RATE_LIMITED"
	ClassInsufficientFunds Class = "INSUFFICIENT_FUNDS"
	ClassRestrictedAccount Class = "RESTRICTED_ACCOUNT"
	ClassPermanent         Class = "PERMANENT"
)

type Error struct {
	Provider string
	Class    Class
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s/%s] %s", e.Provider, e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", e.Provider, e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same call can reasonably succeed.
func (e *Error) Retryable() bool {
	return e.Class == ClassTransient || e.Class == ClassRateLimited
}

// CodeTable maps a provider's documented error codes onto classes. Each
// client package owns its table; substring fallbacks live in Classifier.
type CodeTable map[string]Class

// Fallback matches a lowercase substring of the response body. It is the
// last resort for providers that omit structured codes.
type Fallback struct {
	Substring string
	Class     Class
}

type Classifier struct {
	Provider  string
	Codes     CodeTable
	Fallbacks []Fallback
}

// Classify turns a provider response into a classified *Error. code wins over
// the HTTP status, which wins over substring fallbacks.
func (c Classifier) Classify(status int, code, message string) *Error {
	if code != "" {
		if class, ok := c.Codes[code]; ok {
			return &Error{Provider: c.Provider, Class: class, Code: code, Message: message}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Provider: c.Provider, Class: ClassRateLimited, Code: code, Message: message}
	case status >= http.StatusInternalServerError:
		return &Error{Provider: c.Provider, Class: ClassTransient, Code: code, Message: message}
	}

	lower := strings.ToLower(message)
	for _, fb := range c.Fallbacks {
		if strings.Contains(lower, fb.Substring) {
			return &Error{Provider: c.Provider, Class: fb.Class, Code: code, Message: message}
		}
	}

	return &Error{Provider: c.Provider, Class: ClassPermanent, Code: code, Message: message}
}

// Transport wraps a network-level failure as transient.
func (c Classifier) Transport(err error) *Error {
	return &Error{Provider: c.Provider, Class: ClassTransient, Message: "transport failure", Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// provider failure. Raw network and deadline errors count as retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassOf extracts the class from err, or ClassPermanent when err carries none.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassPermanent
}
