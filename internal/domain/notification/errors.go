package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the base error for malformed input. Wrapped
	// validation failures map to a 400 at the transport layer.
	ErrValidation = errors.New("validation failed")

	ErrMissingTenant  = fmt.Errorf("%w: tenant_id is required", ErrValidation)
	ErrMissingAccount = fmt.Errorf("%w: account_id is required", ErrValidation)
	ErrMissingTitle   = fmt.Errorf("%w: title is required", ErrValidation)

	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("notification not found")

	// ErrAlreadyExists is returned by Create when a row with the same id
	// exists. It is the serialization point for idempotent sends.
	ErrAlreadyExists = errors.New("notification already exists")
)
