package main

import (
	"errors"
	"fmt"
)

// startupError carries a one-line diagnosis plus the log file a human
// should check next, mirroring the four error categories a fatal failure
// can fall into: transient (retry), permanent (fix and retry), resource
// (environment problem), or programmer invariant (a bug).
type startupError struct {
	category string
	message  string
	logPath  string
	cause    error
}

func (e *startupError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.category, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.category, e.message)
}

func (e *startupError) Unwrap() error { return e.cause }

func fatalf(category, logPath, format string, args ...any) *startupError {
	return &startupError{category: category, message: fmt.Sprintf(format, args...), logPath: logPath}
}

func wrapFatal(category, logPath string, cause error, message string) *startupError {
	return &startupError{category: category, message: message, logPath: logPath, cause: cause}
}

// diagnose turns any error returned from a command's Run into the one-line
// message and log path the CLI prints to stderr before exiting non-zero.
func diagnose(err error) (string, string) {
	var se *startupError
	if errors.As(err, &se) {
		return fmt.Sprintf("error (%s): %s", se.category, se.Error()), se.logPath
	}
	return fmt.Sprintf("error: %v", err), ""
}

const (
	categoryTransient  = "transient"
	categoryPermanent  = "permanent"
	categoryResource   = "resource"
	categoryInvariant  = "programmer_invariant"
)
