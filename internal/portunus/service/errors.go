package service

import "errors"

var (
	ErrInvalidTagUID = errors.New("tag_uid must be a positive integer")
	ErrInvalidPerson = errors.New("invalid person")
	ErrInvalidPeriod = errors.New("period must be today, week or month")

	// ErrNotInside is returned by an exit for someone with no open entry.
	ErrNotInside = errors.New("person is not inside")

	// ErrPersistence means the audit record could not be written after
	// every retry. The caller must not treat the access as logged.
	ErrPersistence = errors.New("access event could not be persisted")
)
