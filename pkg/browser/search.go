package browser

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period required after the last keystroke
// before a search notification fires.
const DefaultDebounce = 300 * time.Millisecond

// FilterCriteria narrows a listing beyond the free-text query. Zero fields
// mean no constraint on that dimension. Size and date bounds are not
// cross-validated; an inverted range travels to the server as-is and simply
// matches nothing.
type FilterCriteria struct {
	Type           string // image, document, video, audio, archive
	MinSize        int64
	MaxSize        int64
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// IsZero reports whether no constraint is set.
func (f FilterCriteria) IsZero() bool {
	return f.Type == "" && f.MinSize == 0 && f.MaxSize == 0 &&
		f.ModifiedAfter.IsZero() && f.ModifiedBefore.IsZero()
}

// SearchController debounces free-text queries and holds the structured
// filter fields. Query changes notify downstream only after a quiet period;
// filter changes notify immediately on Apply or Reset. A controller must be
// Closed when its view goes away so no notification fires afterwards.
type SearchController struct {
	mu      sync.Mutex
	delay   time.Duration
	notify  func(query string, filters FilterCriteria)
	timer   *time.Timer
	gen     uint64
	query   string
	filters FilterCriteria
	closed  bool
}

// NewSearchController creates a controller firing notify after each debounce
// window. A delay of 0 uses DefaultDebounce.
func NewSearchController(delay time.Duration, notify func(query string, filters FilterCriteria)) *SearchController {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &SearchController{delay: delay, notify: notify}
}

// SetQuery records a keystroke. Any pending notification is rescheduled so
// only the final string within a quiet period is delivered.
func (c *SearchController) SetQuery(q string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.query = q
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, func() { c.fire(gen) })
	c.mu.Unlock()
}

// fire delivers the debounced notification unless a newer change or Close
// superseded it. The timer goroutine may race Stop, so the generation check
// is what actually decides.
func (c *SearchController) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	q, f := c.query, c.filters
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		notify(q, f)
	}
}

// Query returns the current raw query string.
func (c *SearchController) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Filters returns the currently applied filter fields.
func (c *SearchController) Filters() FilterCriteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// ApplyFilters replaces the filter fields and notifies immediately with the
// current query. A pending debounced notification is cancelled since this
// one carries the same query.
func (c *SearchController) ApplyFilters(f FilterCriteria) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.filters = f
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	q := c.query
	notify := c.notify
	c.mu.Unlock()

	if notify != nil {
		notify(q, f)
	}
}

// ResetFilters clears all filter fields and always notifies downstream with
// the empty criteria, even when nothing was set.
func (c *SearchController) ResetFilters() {
	c.ApplyFilters(FilterCriteria{})
}

// Close cancels any pending notification. No notification fires after Close
// returns.
func (c *SearchController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
