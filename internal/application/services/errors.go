package services

import "errors"

// ErrAccountRequired indicates a caller passed an empty account to an
// operation that needs one.
var ErrAccountRequired = errors.New("account is required")
