package store

import "errors"

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")
