package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrLockNotHeld   = errors.New("no matching lock held by this context")
	ErrInvalidScope  = errors.New("invalid lock scope")
	ErrInvalidMode   = errors.New("invalid lock mode")
	ErrInvalidAction = errors.New("invalid action")
)
