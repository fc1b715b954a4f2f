// Package replica keeps a participant's session in step with the relay:
// local edits are debounced into full-state pushes tagged with an origin,
// and incoming state is applied unless it is the participant's own echo.
package replica

import (
	"log/slog"
	"sync"
	"time"

	"LocalAnimator/internal/state"
)

const DefaultDebounce = 100 * time.Millisecond

// Transport is the relay connection as the adapter needs it. net.Client
// implements it.
type Transport interface {
	UpdateState(state.Snapshot) error
	OnState(func(state.Snapshot))
}

type Option func(*Adapter)

func WithDebounce(d time.Duration) Option {
	return func(a *Adapter) { a.debounce = d }
}

// WithClock sets the revision clock, and with it the site id used in origin tags.
func WithClock(c *state.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

type Adapter struct {
	session   *state.Session
	transport Transport
	clock     *state.Clock
	debounce  time.Duration
	log       *slog.Logger

	mu          sync.Mutex
	timer       *time.Timer
	gen         uint64
	lastSent    uint64
	closed      bool
	unsubscribe func()
}

func New(session *state.Session, transport Transport, opts ...Option) *Adapter {
	a := &Adapter{
		session:   session,
		transport: transport,
		debounce:  DefaultDebounce,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.clock == nil {
		a.clock = state.NewClock("")
	}
	a.log = a.log.With("component", "replica", "site", a.clock.Site())
	a.unsubscribe = session.Subscribe(a.onChange)
	transport.OnState(a.onRemote)
	return a
}

func (a *Adapter) Site() string { return a.clock.Site() }

// onChange (re)arms the debounce timer for local changes only.
func (a *Adapter) onChange(c state.Change) {
	if c.Source == state.SourceRemote {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, func() { a.fire(gen) })
}

func (a *Adapter) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.closed {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()
	if err := a.emit(); err != nil {
		a.log.Warn("state push failed", "err", err)
	}
}

func (a *Adapter) emit() error {
	o := a.clock.Next()
	a.session.SetOrigin(o)
	snap := a.session.Snapshot()
	a.mu.Lock()
	a.lastSent = o.Revision
	a.mu.Unlock()
	a.log.Debug("pushing state", "revision", o.Revision, "frame", snap.CurrentFrame)
	return a.transport.UpdateState(snap)
}

// cancelPending drops a scheduled emit and reports whether there was one.
func (a *Adapter) cancelPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer == nil {
		return false
	}
	a.timer.Stop()
	a.timer = nil
	return true
}

func (a *Adapter) onRemote(snap state.Snapshot) {
	if o := snap.Origin; o != nil && o.Site == a.clock.Site() {
		a.mu.Lock()
		last := a.lastSent
		a.mu.Unlock()
		if o.Revision <= last {
			a.log.Debug("dropping own echo", "revision", o.Revision)
			return
		}
	}
	if a.cancelPending() {
		a.log.Info("remote state overwrote unsent local edits")
	}
	if snap.Origin != nil {
		a.clock.Observe(snap.Origin.Revision)
	}
	if err := a.session.Apply(snap); err != nil {
		a.log.Warn("remote state rejected", "err", err)
	}
}

// Pending reports whether a debounced push is scheduled.
func (a *Adapter) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Flush pushes a scheduled update right away. Without one it does nothing.
func (a *Adapter) Flush() error {
	if !a.cancelPending() {
		return nil
	}
	return a.emit()
}

// Close stops the adapter; scheduled pushes are dropped.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.unsubscribe()
}
