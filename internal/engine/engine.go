// Package engine defines the Document Engine binding used by the tab manager.
//
// An Engine is a shared environment bound to one storage directory. It
// creates isolated Instances; each Instance renders one document and
// reports what happens to it on its Events channel.
package engine

import (
	"context"
	"errors"
)

// ErrDisposed is returned by Instance methods called after Dispose.
var ErrDisposed = errors.New("engine: instance disposed")

// Engine creates isolated document instances sharing one environment.
type Engine interface {
	CreateInstance(ctx context.Context) (Instance, error)
	Close() error
}

// Instance is one engine-owned renderer surface.
//
// Instances start hidden. Show and Hide toggle visibility only; they must
// not block on event delivery. Events is closed after Dispose.
type Instance interface {
	Navigate(ctx context.Context, url string) error
	Show() error
	Hide() error
	Dispose() error
	Events() <-chan Event
}

// EventKind enumerates instance notifications.
type EventKind int

const (
	EventNavigationStarted EventKind = iota + 1
	EventNavigationCompleted
	EventTitleChanged
	EventURLChanged
	EventFaviconChanged
)

var eventKindNames = map[EventKind]string{
	EventNavigationStarted:   "navigation-started",
	EventNavigationCompleted: "navigation-completed",
	EventTitleChanged:        "title-changed",
	EventURLChanged:          "url-changed",
	EventFaviconChanged:      "favicon-changed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a single instance notification. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind
	// Success is set for EventNavigationCompleted.
	Success bool
	// Value carries the title, URL or favicon URL.
	Value string
}
