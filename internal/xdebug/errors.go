package xdebug

import (
	"errors"
	"fmt"
)

// Terminal parse failures. Match them with errors.Is.
var (
	ErrSourceUnavailable = errors.New("trace source unavailable")
	ErrEmptySource       = errors.New("trace source is empty")
	ErrMalformedHeader   = errors.New("malformed trace header")
)

// Non-fatal data line failures, returned by ParseLine.
var (
	ErrSummaryLine   = errors.New("summary line")
	ErrMalformedLine = errors.New("malformed data line")
)

// ParseError describes why a trace could not be parsed at all.
type ParseError struct {
	Kind    error  // One of ErrSourceUnavailable, ErrEmptySource, ErrMalformedHeader
	Message string // Human readable description
	Path    string // Trace file path, if known
	Err     error  // Underlying OS or read error, if any
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s '%s'", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newParseError(kind error, message string, err error) *ParseError {
	return &ParseError{Kind: kind, Message: message, Err: err}
}
