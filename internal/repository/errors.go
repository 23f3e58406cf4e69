package repository

import "errors"

// ErrNotFound is returned (wrapped) when the referenced row does not exist.
var ErrNotFound = errors.New("record not found")
