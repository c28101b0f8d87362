package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrDuplicateKey is returned when a unique key (cycle_key) already exists.
var ErrDuplicateKey = errors.New("duplicate key")
