package tabs

import "tabdeck/internal/tablayout"

// Strip is the tab-strip view. Each tab is paired with one button keyed by
// tab id. The manager calls Strip while holding its lock, so
// implementations must return promptly and must not call back into the
// Manager.
type Strip interface {
	AddButton(info TabInfo)
	RemoveButton(id string)
	UpdateButton(info TabInfo)
	SuspendLayout()
	ResumeLayout()
	ApplyLayout(layout tablayout.Result)
}

// NopStrip discards every call.
type NopStrip struct{}

func (NopStrip) AddButton(TabInfo) {}
func (NopStrip) RemoveButton(string) {}
func (NopStrip) UpdateButton(TabInfo) {}
func (NopStrip) SuspendLayout() {}
func (NopStrip) ResumeLayout() {}
func (NopStrip) ApplyLayout(tablayout.Result) {}
