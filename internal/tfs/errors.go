package tfs

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyQuery is returned when a WIQL query string is blank.
var ErrEmptyQuery = errors.New("wiql query is empty")

// Kind classifies an upstream failure.
type Kind string

const (
	// KindTransient covers timeouts, network failures, 429 and 5xx; eligible for retry.
	KindTransient Kind = "transient"
	// KindPermanent covers 4xx responses other than auth failures.
	KindPermanent Kind = "permanent"
	// KindAuth covers 401 and 403 responses.
	KindAuth Kind = "auth"
	// KindDecode covers responses that could not be decoded.
	KindDecode Kind = "decode"
)

// Error is returned for every failed call to the TFS REST API.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("tfs %s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status: %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TFS failure that may succeed on retry.
func IsTransient(err error) bool {
	var tfsErr *Error
	return errors.As(err, &tfsErr) && tfsErr.Kind == KindTransient
}

// IsPermanent reports whether err is a TFS failure that will not succeed on retry.
func IsPermanent(err error) bool {
	var tfsErr *Error
	return errors.As(err, &tfsErr) && tfsErr.Kind != KindTransient
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var tfsErr *Error
	if errors.As(err, &tfsErr) {
		return tfsErr.StatusCode
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
