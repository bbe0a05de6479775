package tabs

import (
	"log/slog"
	"time"

	"tabdeck/internal/tablayout"
)

// Mode selects which terminal signal the manager emits when its last tab
// closes.
type Mode int

const (
	// ModeWindow is a top-level shell window: EventWindowShouldClose.
	ModeWindow Mode = iota
	// ModeEphemeral is an incognito shell: EventAllTabsClosed.
	ModeEphemeral
)

const (
	DefaultHomePage                 = "about:newtab"
	DefaultTitle                    = "New Tab"
	DefaultMaxTabs                  = 50
	DefaultPreloadNavigationTimeout = 5 * time.Second
	DefaultPreloadSettleDelay       = 100 * time.Millisecond
	DefaultPreloadInitialDelay      = time.Second
	DefaultPendingShowFallback      = 800 * time.Millisecond
	DefaultPendingShowSettle        = 50 * time.Millisecond
)

// Options configures a Manager. Zero fields take the defaults above, except
// the settle and initial delays where zero means no delay. DefaultOptions
// returns the stock timings.
type Options struct {
	HomePage   string
	StorageDir string
	Mode       Mode
	MaxTabs    int

	// DisablePreload turns the preload cache off.
	DisablePreload           bool
	PreloadNavigationTimeout time.Duration
	PreloadSettleDelay       time.Duration
	PreloadInitialDelay      time.Duration

	PendingShowFallback time.Duration
	PendingShowSettle   time.Duration

	Layout tablayout.Metrics
	Strip  Strip
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HomePage == "" {
		o.HomePage = DefaultHomePage
	}
	if o.MaxTabs <= 0 {
		o.MaxTabs = DefaultMaxTabs
	}
	if o.PreloadNavigationTimeout <= 0 {
		o.PreloadNavigationTimeout = DefaultPreloadNavigationTimeout
	}
	if o.PreloadSettleDelay < 0 {
		o.PreloadSettleDelay = DefaultPreloadSettleDelay
	}
	if o.PreloadInitialDelay < 0 {
		o.PreloadInitialDelay = DefaultPreloadInitialDelay
	}
	if o.PendingShowFallback <= 0 {
		o.PendingShowFallback = DefaultPendingShowFallback
	}
	if o.PendingShowSettle < 0 {
		o.PendingShowSettle = DefaultPendingShowSettle
	}
	if o.Layout == (tablayout.Metrics{}) {
		o.Layout = tablayout.DefaultMetrics()
	} else if err := o.Layout.Validate(); err != nil {
		slog.Warn("[DEBUG-LAYOUT] invalid strip metrics, using defaults", "error", err)
		o.Layout = tablayout.DefaultMetrics()
	}
	if o.Strip == nil {
		o.Strip = NopStrip{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DefaultOptions returns Options with every timing set to its default.
func DefaultOptions() Options {
	return Options{
		PreloadSettleDelay:  DefaultPreloadSettleDelay,
		PreloadInitialDelay: DefaultPreloadInitialDelay,
		PendingShowSettle:   DefaultPendingShowSettle,
	}.withDefaults()
}
