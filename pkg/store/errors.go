package store

import "errors"

// ErrNotFound is returned when a node or edge lookup finds no row.
var ErrNotFound = errors.New("not found")
