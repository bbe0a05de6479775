package tabs

import "errors"

var (
	// ErrEngineInit wraps failures to create or first-navigate an engine
	// instance. CreateTab returns it after rolling the tab back.
	ErrEngineInit = errors.New("tabs: engine instance initialization failed")

	// ErrPreloadFill marks background warm-up failures. It is only logged.
	ErrPreloadFill = errors.New("tabs: preload fill failed")

	ErrTabNotFound       = errors.New("tabs: tab not found")
	ErrTabNotReady       = errors.New("tabs: tab is not ready")
	ErrTooManyTabs       = errors.New("tabs: tab limit reached")
	ErrManagerTerminated = errors.New("tabs: manager terminated")
)
