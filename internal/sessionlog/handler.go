package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// TabAttrKey is the attribute key the tab manager uses for tab ids. Records
// carrying it are attributed to that tab.
const TabAttrKey = "tabID"

// Entry is one teed log record as shown in the diagnostics panel.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	// Source is the accumulated dot-separated slog group, or empty.
	Source string `json:"source,omitempty"`
	TabID  string `json:"tab_id,omitempty"`
}

// EntryCallback receives each record at or above the capture threshold.
type EntryCallback func(Entry)

// TeeHandler wraps a base [slog.Handler] and tees records at or above
// minLevel to a callback. All records reach the base handler regardless of
// level; only the callback is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	tabID    string // from WithAttrs
}

// NewTeeHandler creates a TeeHandler. A nil callback only delegates to base.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled defers to the base handler; minLevel does not affect visibility.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then invokes the callback
// when the level meets minLevel. The callback runs even if the base handler
// fails and never sees that error.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level.String(),
			Message: record.Message,
			Source:  h.group,
			TabID:   h.tabID,
		}
		record.Attrs(func(a slog.Attr) bool {
			if a.Key == TabAttrKey {
				entry.TabID = a.Value.String()
				return false
			}
			return true
		})
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Written to stderr, not slog, to avoid re-entering this handler.
					fmt.Fprintf(os.Stderr, "[session-log] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(entry)
		}()
	}

	// slog.Logger reports a returned error to stderr as "slog: <error>".
	return err
}

// WithAttrs applies attrs to the base handler. A tab id among them is
// remembered for teed entries.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.base = h.base.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == TabAttrKey {
			next.tabID = a.Value.String()
		}
	}
	return &next
}

// WithGroup nests name under the accumulated group, separated by ".".
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.base = h.base.WithGroup(name)
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}
