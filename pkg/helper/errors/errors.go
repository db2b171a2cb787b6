// Package errors provides standardized error handling utilities for xmlsecflow.
// It wraps the standard errors package and fmt.Errorf to provide consistent
// error-kind sentinels and wrapping helpers across the codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, named after the error kinds enumerated for the
// streaming security pipeline. Callers test against these with Is.
var (
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrUnsupportedAlgorithm  = errors.New("unsupported algorithm")
	ErrMissingRequiredElem   = errors.New("missing required element")
	ErrLimitExceeded         = errors.New("limit exceeded")
	ErrReferenceUnprocessed  = errors.New("reference unprocessed")
	ErrDuplicateReference    = errors.New("duplicate reference")
	ErrDigestMismatch        = errors.New("digest mismatch")
	ErrSignatureMismatch     = errors.New("signature mismatch")
	ErrRecursiveKeyReference = errors.New("recursive key reference")
	ErrKeyResolutionFailed   = errors.New("key resolution failed")
	ErrIO                    = errors.New("io failure")
	ErrTransformFailure      = errors.New("transform failure")
	ErrInvalidSecurity       = errors.New("invalid security")

	// General-purpose sentinels kept for parity with the rest of the
	// codebase's error-handling idiom.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context using fmt.Errorf and %w.
// If err is nil, Wrap returns nil.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: %w", format, err)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Wrapf is an alias for Wrap, kept for readability at call sites that
// already pass format arguments.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, format, args...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree matching target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func formatError(base error, format string, args ...interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: %w", format, base)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}

// LimitExceededf reports that a secure-processing bound was exceeded.
func LimitExceededf(format string, args ...interface{}) error {
	return formatError(ErrLimitExceeded, format, args...)
}

// UnsupportedAlgorithmf reports an algorithm URI absent from the registry.
func UnsupportedAlgorithmf(format string, args ...interface{}) error {
	return formatError(ErrUnsupportedAlgorithm, format, args...)
}

// DigestMismatchf reports a reference whose computed digest did not match.
func DigestMismatchf(format string, args ...interface{}) error {
	return formatError(ErrDigestMismatch, format, args...)
}

// SignatureMismatchf reports a SignatureValue that failed to verify.
func SignatureMismatchf(format string, args ...interface{}) error {
	return formatError(ErrSignatureMismatch, format, args...)
}

// RecursiveKeyReferencef reports re-entrant key resolution on one token.
func RecursiveKeyReferencef(format string, args ...interface{}) error {
	return formatError(ErrRecursiveKeyReference, format, args...)
}

// ReferenceUnprocessedf reports a Reference that never matched an element.
func ReferenceUnprocessedf(format string, args ...interface{}) error {
	return formatError(ErrReferenceUnprocessed, format, args...)
}

// DuplicateReferencef reports the same Reference firing twice.
func DuplicateReferencef(format string, args ...interface{}) error {
	return formatError(ErrDuplicateReference, format, args...)
}

// KeyResolutionFailedf reports a wrapping-token or key-material lookup failure.
func KeyResolutionFailedf(format string, args ...interface{}) error {
	return formatError(ErrKeyResolutionFailed, format, args...)
}

// TransformFailuref reports a canonicalization/transform chain failure.
func TransformFailuref(format string, args ...interface{}) error {
	return formatError(ErrTransformFailure, format, args...)
}

// InvalidSecurityf reports a structurally or policy-invalid security header.
func InvalidSecurityf(format string, args ...interface{}) error {
	return formatError(ErrInvalidSecurity, format, args...)
}

// InvalidConfigurationf reports a configuration error detected at init time.
func InvalidConfigurationf(format string, args ...interface{}) error {
	return formatError(ErrInvalidConfiguration, format, args...)
}

// MissingRequiredElementf reports an absent but mandatory XML element.
func MissingRequiredElementf(format string, args ...interface{}) error {
	return formatError(ErrMissingRequiredElem, format, args...)
}

// NotFoundf reports that a requested resource was not found.
func NotFoundf(format string, args ...interface{}) error {
	return formatError(ErrNotFound, format, args...)
}

// AlreadyExistsf reports that a resource already exists.
func AlreadyExistsf(format string, args ...interface{}) error {
	return formatError(ErrAlreadyExists, format, args...)
}

// InvalidInputf reports that caller-supplied input was invalid.
func InvalidInputf(format string, args ...interface{}) error {
	return formatError(ErrInvalidInput, format, args...)
}

// Newf creates an error with a formatted message and no wrapped base.
func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
