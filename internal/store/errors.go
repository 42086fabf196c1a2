package store

import "errors"

var (
	// ErrNotFound is returned when a trade or rule does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned when inserting an ID that already exists.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrInvalidInput is returned for nil or incomplete records.
	ErrInvalidInput = errors.New("store: invalid input")
)
