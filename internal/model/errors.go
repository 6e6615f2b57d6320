package model

import "errors"

// Sentinel errors compared with errors.Is across the service. The HTTP layer
// maps ErrNotFound to 404 and the rest of the structural errors to 400;
// provider errors never surface to callers.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state for operation")
	ErrNoActionToUndo = errors.New("no action to undo")
	ErrInvalidInput   = errors.New("invalid input")
)
