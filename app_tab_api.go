package main

import (
	"context"
	"time"

	"tabdeck/internal/tablayout"
	"tabdeck/internal/tabs"
)

// tabCommandTimeout bounds commands that create tabs. The first one may
// launch the browser.
const tabCommandTimeout = 30 * time.Second

func (a *App) commandContext() (context.Context, context.CancelFunc) {
	parent := a.runtimeContext()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, tabCommandTimeout)
}

// ListTabs returns every tab in strip order.
func (a *App) ListTabs() []tabs.TabInfo {
	manager, err := a.requireManager()
	if err != nil {
		return []tabs.TabInfo{}
	}
	return manager.Tabs()
}

// GetActiveTab returns the active tab, or nil when there is none.
func (a *App) GetActiveTab() *tabs.TabInfo {
	manager, err := a.requireManager()
	if err != nil {
		return nil
	}
	info, ok := manager.ActiveTab()
	if !ok {
		return nil
	}
	return &info
}

// OpenTab opens url, or the home page when url is empty.
func (a *App) OpenTab(url string, background bool) (tabs.TabInfo, error) {
	manager, err := a.requireManager()
	if err != nil {
		return tabs.TabInfo{}, err
	}
	ctx, cancel := a.commandContext()
	defer cancel()
	return manager.CreateTab(ctx, url, background)
}

func (a *App) CloseTab(id string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.CloseTab(id)
}

func (a *App) CloseOtherTabs(id string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.CloseOthers(id)
}

func (a *App) CloseTabsToLeft(id string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.CloseLeft(id)
}

func (a *App) CloseTabsToRight(id string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.CloseRight(id)
}

func (a *App) ActivateTab(id string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.Activate(id)
}

func (a *App) NextTab() error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.SwitchNext()
}

func (a *App) PreviousTab() error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.SwitchPrevious()
}

// ReopenClosedTab reopens the most recently closed tab. It returns nil when
// nothing is left to reopen.
func (a *App) ReopenClosedTab() (*tabs.TabInfo, error) {
	manager, err := a.requireManager()
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.commandContext()
	defer cancel()
	info, ok, err := manager.ReopenClosed(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

func (a *App) DuplicateTab(id string) (tabs.TabInfo, error) {
	manager, err := a.requireManager()
	if err != nil {
		return tabs.TabInfo{}, err
	}
	ctx, cancel := a.commandContext()
	defer cancel()
	return manager.Duplicate(ctx, id)
}

// TogglePinTab flips the pinned state and returns the new value.
func (a *App) TogglePinTab(id string) (bool, error) {
	manager, err := a.requireManager()
	if err != nil {
		return false, err
	}
	return manager.TogglePin(id)
}

func (a *App) MoveTab(id string, index int) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	return manager.MoveTab(id, index)
}

// ResizeTabStrip reports the strip container width in pixels.
func (a *App) ResizeTabStrip(width int) {
	manager, err := a.requireManager()
	if err != nil {
		return
	}
	manager.OnContainerResized(width)
}

func (a *App) GetTabLayout() tablayout.Result {
	manager, err := a.requireManager()
	if err != nil {
		return tablayout.Result{}
	}
	return manager.Layout()
}

// GetOverflowTabs lists the tabs that did not fit in the strip.
func (a *App) GetOverflowTabs() []tabs.TabInfo {
	manager, err := a.requireManager()
	if err != nil {
		return []tabs.TabInfo{}
	}
	return manager.OverflowTabs()
}
