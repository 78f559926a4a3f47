package eventbus

import (
	"errors"
	"fmt"

	"layerdeck/pkg/domain"
)

// Topic names an event on a bus.
type Topic string

// Topics exchanged between the registry and its collaborators.
const (
	TopicFileAdded    Topic = "file:added"
	TopicLayerAdded   Topic = "layer:added"
	TopicLayerRemoved Topic = "layer:removed"
)

// ErrInvalidEvent is returned by Publish for events that fail validation.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a typed payload routed by its topic.
type Event interface {
	Topic() Topic
	Validate() error
}

// FileAdded is published by import sources once a file payload is available.
type FileAdded struct {
	File domain.FileDescriptor
	Raw  []byte
}

func (FileAdded) Topic() Topic { return TopicFileAdded }

func (e FileAdded) Validate() error {
	if e.File.Name == "" {
		return fmt.Errorf("%w: %s without file name", ErrInvalidEvent, TopicFileAdded)
	}
	return nil
}

// LayerAdded carries the full record of a newly registered layer.
type LayerAdded struct {
	Layer domain.Layer
}

func (LayerAdded) Topic() Topic { return TopicLayerAdded }

func (e LayerAdded) Validate() error {
	if e.Layer.ID == "" {
		return fmt.Errorf("%w: %s without layer id", ErrInvalidEvent, TopicLayerAdded)
	}
	return nil
}

// LayerRemoved is both the removal request sent to the registry and the
// notification it broadcasts before deleting the record.
type LayerRemoved struct {
	ID domain.Stamp
}

func (LayerRemoved) Topic() Topic { return TopicLayerRemoved }

func (e LayerRemoved) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: %s without layer id", ErrInvalidEvent, TopicLayerRemoved)
	}
	return nil
}
