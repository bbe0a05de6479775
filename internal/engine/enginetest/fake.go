// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tabdeck/internal/engine"
)

// Op names recorded in the call log.
const (
	OpCreate   = "create"
	OpNavigate = "navigate"
	OpShow     = "show"
	OpHide     = "hide"
	OpDispose  = "dispose"
)

// Call is one recorded instance operation.
type Call struct {
	Op       string
	Instance string
	Arg      string
}

func (c Call) String() string {
	if c.Arg == "" {
		return c.Op + ":" + c.Instance
	}
	return c.Op + ":" + c.Instance + ":" + c.Arg
}

// Engine is a scriptable fake environment.
//
// By default every Navigate completes successfully on a background
// goroutine. Set ManualNavigation to drive completion from the test.
type Engine struct {
	// ManualNavigation disables automatic completion after Navigate.
	ManualNavigation bool
	// CreateDelay is slept inside CreateInstance.
	CreateDelay time.Duration
	// CreateErr, when set, is consulted for every CreateInstance call
	// (1-based). A non-nil return fails the call.
	CreateErr func(n int) error
	// NavigateErr, when set, fails Navigate for matching URLs.
	NavigateErr func(url string) error

	mu        sync.Mutex
	calls     []Call
	instances []*Instance
	created   int
	closed    bool
}

// New returns a fake engine with automatic navigation.
func New() *Engine {
	return &Engine{}
}

// Factory adapts the fake to engine.Factory, recording the storage
// directories it was asked for.
func (e *Engine) Factory(dirs *[]string) engine.Factory {
	var mu sync.Mutex
	return func(_ context.Context, storageDir string) (engine.Engine, error) {
		if dirs != nil {
			mu.Lock()
			*dirs = append(*dirs, storageDir)
			mu.Unlock()
		}
		return e, nil
	}
}

// CreateInstance implements engine.Engine.
func (e *Engine) CreateInstance(ctx context.Context) (engine.Instance, error) {
	if e.CreateDelay > 0 {
		time.Sleep(e.CreateDelay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.created++
	n := e.created
	hook := e.CreateErr
	e.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return nil, err
		}
	}

	inst := newInstance(e, fmt.Sprintf("i%d", n))
	e.mu.Lock()
	e.instances = append(e.instances, inst)
	e.calls = append(e.calls, Call{Op: OpCreate, Instance: inst.id})
	e.mu.Unlock()
	return inst, nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Calls returns a copy of the call log.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsFor returns the log filtered to the given op.
func (e *Engine) CallsFor(op string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Instances returns every instance created so far.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, len(e.instances))
	copy(out, e.instances)
	return out
}

// LiveCount returns the number of instances not yet disposed.
func (e *Engine) LiveCount() int {
	live := 0
	for _, inst := range e.Instances() {
		if !inst.Disposed() {
			live++
		}
	}
	return live
}

func (e *Engine) record(c Call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
}

// Instance is a fake engine.Instance.
type Instance struct {
	id  string
	eng *Engine

	events *engine.EventQueue

	mu       sync.Mutex
	visible  bool
	disposed bool
	url      string
}

func newInstance(e *Engine, id string) *Instance {
	return &Instance{
		id:     id,
		eng:    e,
		events: engine.NewEventQueue(),
	}
}

// ID returns the instance id used in the call log.
func (i *Instance) ID() string { return i.id }

// Navigate implements engine.Instance.
func (i *Instance) Navigate(_ context.Context, url string) error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return engine.ErrDisposed
	}
	i.mu.Unlock()

	i.eng.record(Call{Op: OpNavigate, Instance: i.id, Arg: url})
	if hook := i.eng.NavigateErr; hook != nil {
		if err := hook(url); err != nil {
			return err
		}
	}

	i.mu.Lock()
	i.url = url
	i.mu.Unlock()
	i.Emit(engine.Event{Kind: engine.EventNavigationStarted})
	if !i.eng.ManualNavigation {
		i.CompleteNavigation(true)
	}
	return nil
}

// CompleteNavigation emits the URL, title and completion events for the
// last navigated URL.
func (i *Instance) CompleteNavigation(success bool) {
	i.mu.Lock()
	url := i.url
	i.mu.Unlock()
	i.Emit(engine.Event{Kind: engine.EventURLChanged, Value: url})
	if success {
		i.Emit(engine.Event{Kind: engine.EventTitleChanged, Value: "Title of " + url})
	}
	i.Emit(engine.Event{Kind: engine.EventNavigationCompleted, Success: success})
}

// Emit queues an arbitrary event. Events after Dispose are dropped.
func (i *Instance) Emit(ev engine.Event) {
	i.events.Push(ev)
}

// Show implements engine.Instance.
func (i *Instance) Show() error {
	return i.setVisible(true, OpShow)
}

// Hide implements engine.Instance.
func (i *Instance) Hide() error {
	return i.setVisible(false, OpHide)
}

func (i *Instance) setVisible(v bool, op string) error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return engine.ErrDisposed
	}
	i.visible = v
	i.mu.Unlock()
	i.eng.record(Call{Op: op, Instance: i.id})
	return nil
}

// Dispose implements engine.Instance.
func (i *Instance) Dispose() error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return errors.New("enginetest: instance disposed twice")
	}
	i.disposed = true
	i.visible = false
	i.mu.Unlock()
	i.events.Close()
	i.eng.record(Call{Op: OpDispose, Instance: i.id})
	return nil
}

// Events implements engine.Instance.
func (i *Instance) Events() <-chan engine.Event { return i.events.Out() }

// Visible reports the current visibility.
func (i *Instance) Visible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible
}

// Disposed reports whether Dispose was called.
func (i *Instance) Disposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}

// URL returns the last navigated URL.
func (i *Instance) URL() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.url
}
