package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLayerCreation marks failures to build a renderable from a payload.
	ErrLayerCreation = errors.New("layer creation failed")
	// ErrDuplicateStamp marks a stamping collision with a live layer.
	ErrDuplicateStamp = errors.New("duplicate layer stamp")
	// ErrLayerNotFound is wrapped by Registry.Get for unknown stamps.
	ErrLayerNotFound = errors.New("layer not found")
)

// LayerCreationError is returned when the rendering collaborator cannot turn
// the raw payload of a file into a renderable.
type LayerCreationError struct {
	Name string
	Err  error
}

func (e *LayerCreationError) Error() string {
	return fmt.Sprintf("create layer %q: %v", e.Name, e.Err)
}

// Unwrap exposes the renderer error.
func (e *LayerCreationError) Unwrap() []error {
	return []error{ErrLayerCreation, e.Err}
}
