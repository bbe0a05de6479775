// Package tablayout computes tab-strip button widths and the overflow set.
//
// Compute is a pure function: the same buttons, width and metrics always
// produce the same Result, so callers may recompute after every mutation.
package tablayout

import (
	"errors"
	"fmt"
)

// ErrInvalidWidth is returned when the container has no usable width.
// Callers keep their previous layout.
var ErrInvalidWidth = errors.New("tablayout: container width must be positive")

// Default metrics in device-independent pixels.
const (
	DefaultNormalMaxWidth      = 200
	DefaultNormalMinWidth      = 100
	DefaultPinnedWidth         = 40
	DefaultOverflowButtonWidth = 32
	DefaultNewTabButtonWidth   = 32
	DefaultBarPadding          = 4
)

// Metrics holds the width parameters of the strip.
type Metrics struct {
	NormalMaxWidth      int `json:"normal_max_width" yaml:"normal_max_width"`
	NormalMinWidth      int `json:"normal_min_width" yaml:"normal_min_width"`
	PinnedWidth         int `json:"pinned_width" yaml:"pinned_width"`
	OverflowButtonWidth int `json:"overflow_button_width" yaml:"overflow_button_width"`
	NewTabButtonWidth   int `json:"new_tab_button_width" yaml:"new_tab_button_width"`
	BarPadding          int `json:"bar_padding" yaml:"bar_padding"`
}

// DefaultMetrics returns the stock strip metrics.
func DefaultMetrics() Metrics {
	return Metrics{
		NormalMaxWidth:      DefaultNormalMaxWidth,
		NormalMinWidth:      DefaultNormalMinWidth,
		PinnedWidth:         DefaultPinnedWidth,
		OverflowButtonWidth: DefaultOverflowButtonWidth,
		NewTabButtonWidth:   DefaultNewTabButtonWidth,
		BarPadding:          DefaultBarPadding,
	}
}

// Validate reports metrics that cannot produce a layout.
func (m Metrics) Validate() error {
	switch {
	case m.NormalMinWidth <= 0:
		return fmt.Errorf("tablayout: normal_min_width must be positive, got %d", m.NormalMinWidth)
	case m.NormalMaxWidth < m.NormalMinWidth:
		return fmt.Errorf("tablayout: normal_max_width %d is below normal_min_width %d", m.NormalMaxWidth, m.NormalMinWidth)
	case m.PinnedWidth <= 0:
		return fmt.Errorf("tablayout: pinned_width must be positive, got %d", m.PinnedWidth)
	case m.OverflowButtonWidth < 0, m.NewTabButtonWidth < 0, m.BarPadding < 0:
		return errors.New("tablayout: affordance widths and padding must not be negative")
	}
	return nil
}

// Button is one strip entry in strip order.
type Button struct {
	ID     string
	Pinned bool
}

// Placement is the computed geometry of one button.
type Placement struct {
	ID      string `json:"id"`
	Width   int    `json:"width"`
	Visible bool   `json:"visible"`
	Pinned  bool   `json:"pinned"`
}

// Result is the output of Compute.
type Result struct {
	// Placements has one entry per input button, in input order.
	Placements []Placement `json:"placements"`
	// Overflow lists the ids of hidden buttons in strip order.
	Overflow     []string `json:"overflow"`
	ShowOverflow bool     `json:"show_overflow"`
	// NormalWidth is the width applied to visible normal buttons.
	NormalWidth int `json:"normal_width"`
}

// VisibleWidth returns the summed width of all visible buttons.
func (r Result) VisibleWidth() int {
	total := 0
	for _, p := range r.Placements {
		if p.Visible {
			total += p.Width
		}
	}
	return total
}

// Placement returns the placement for id.
func (r Result) Placement(id string) (Placement, bool) {
	for _, p := range r.Placements {
		if p.ID == id {
			return p, true
		}
	}
	return Placement{}, false
}

// Compute lays out buttons inside available pixels.
//
// The new-tab and overflow affordances are always reserved. Pinned buttons
// take PinnedWidth each. The remaining width R is split across normal
// buttons: when R fits every button at NormalMinWidth the width is
// clamp(R/n, min, max); otherwise the leading max(1, R/min) buttons stay
// visible at NormalMinWidth and the rest overflow. A single button that is
// kept visible with R < NormalMinWidth is compressed to R.
func Compute(buttons []Button, available int, m Metrics) (Result, error) {
	if available <= 0 {
		return Result{}, ErrInvalidWidth
	}
	if err := m.Validate(); err != nil {
		return Result{}, err
	}

	space := max(available-reservedWidth(m), 0)

	pinnedCount := 0
	for _, b := range buttons {
		if b.Pinned {
			pinnedCount++
		}
	}
	pinnedFit := min(pinnedCount, space/m.PinnedWidth)
	remaining := space - pinnedFit*m.PinnedWidth
	normalCount := len(buttons) - pinnedCount

	normalVisible, normalWidth := normalSlots(normalCount, remaining, m)

	res := Result{
		Placements:  make([]Placement, 0, len(buttons)),
		NormalWidth: normalWidth,
	}
	pinnedSeen, normalSeen := 0, 0
	for _, b := range buttons {
		p := Placement{ID: b.ID, Pinned: b.Pinned}
		if b.Pinned {
			p.Width = m.PinnedWidth
			p.Visible = pinnedSeen < pinnedFit
			pinnedSeen++
		} else {
			p.Width = normalWidth
			p.Visible = normalSeen < normalVisible
			normalSeen++
		}
		if !p.Visible {
			res.Overflow = append(res.Overflow, b.ID)
		}
		res.Placements = append(res.Placements, p)
	}
	res.ShowOverflow = len(res.Overflow) > 0
	return res, nil
}

func reservedWidth(m Metrics) int {
	return m.BarPadding*2 + m.NewTabButtonWidth + m.OverflowButtonWidth
}

// normalSlots returns how many normal buttons stay visible and their width.
func normalSlots(n, remaining int, m Metrics) (visible, width int) {
	if n == 0 {
		return 0, 0
	}
	if remaining >= n*m.NormalMinWidth {
		return n, clamp(remaining/n, m.NormalMinWidth, m.NormalMaxWidth)
	}
	visible = max(1, remaining/m.NormalMinWidth)
	width = m.NormalMinWidth
	if remaining < m.NormalMinWidth {
		width = remaining
	}
	return visible, width
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
