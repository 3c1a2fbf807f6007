package app

import "errors"

var (
	// ErrValidation marks rejected input: unsupported media, oversized
	// files, unknown status values.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks lookups of unknown work or infringement IDs.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks status moves the resolution state machine
	// forbids. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMissingData marks takedown generation against dangling references.
	ErrMissingData = errors.New("related record missing")
)
