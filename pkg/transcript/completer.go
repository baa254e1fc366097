package transcript

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// CompleterOptions tunes turn-completion heuristics.
type CompleterOptions struct {
	// Timeout is the inactivity window before an utterance is considered
	// complete.
	Timeout time.Duration
	// Guard is the minimum observed inactivity required at fire time; it is
	// slightly below Timeout to tolerate timer scheduling jitter.
	Guard time.Duration
	// MinLen is the minimum rune count for a dispatchable utterance.
	MinLen int
}

func (o CompleterOptions) withDefaults() CompleterOptions {
	if o.Timeout <= 0 {
		o.Timeout = 1500 * time.Millisecond
	}
	if o.Guard <= 0 || o.Guard >= o.Timeout {
		o.Guard = o.Timeout - o.Timeout/15
	}
	if o.MinLen <= 0 {
		o.MinLen = 3
	}
	return o
}

// Completer converts a live recognition stream into finalized utterances.
// Every recognition event re-arms the inactivity timer; when it fires, the
// inactivity check reads the last-activity timestamp captured at fire time
// rather than trusting the timer's own schedule. Utterances shorter than
// MinLen are dropped without dispatch.
type Completer struct {
	mu           sync.Mutex
	buf          *Buffer
	opts         CompleterOptions
	timer        *time.Timer
	lastActivity time.Time
	dispatch     func(text string)
	stopped      bool
	now          func() time.Time
}

func NewCompleter(buf *Buffer, opts CompleterOptions, dispatch func(text string)) *Completer {
	if buf == nil {
		buf = NewBuffer()
	}
	return &Completer{
		buf:      buf,
		opts:     opts.withDefaults(),
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Buffer exposes the underlying transcript buffer.
func (c *Completer) Buffer() *Buffer { return c.buf }

// Touch records recognition activity and re-arms the inactivity timer.
func (c *Completer) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.lastActivity = c.now()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.Timeout, c.fire)
}

// Stop cancels any pending dispatch and clears the buffer.
func (c *Completer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.buf.Reset()
}

func (c *Completer) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	idle := c.now().Sub(c.lastActivity)
	if idle < c.opts.Guard {
		// A fresher timer was armed after this one was scheduled.
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(c.buf.Current())
	c.buf.Reset()
	c.timer = nil
	dispatch := c.dispatch
	c.mu.Unlock()

	if utf8.RuneCountInString(text) < c.opts.MinLen {
		return
	}
	if dispatch != nil {
		dispatch(text)
	}
}
