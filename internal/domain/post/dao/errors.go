package dao

import "errors"

// ErrDuplicateIdempotencyKey is returned by Create when another post owns the key
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
