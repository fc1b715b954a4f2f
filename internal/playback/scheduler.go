// Package playback steps a session's timeline cursor through the captured
// frames of the active scene at the project frame rate.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"LocalAnimator/internal/state"
)

const defaultFPS = 12

type Option func(*Scheduler)

// WithLoop controls whether playback wraps to the first frame at the end.
func WithLoop(loop bool) Option {
	return func(p *Scheduler) { p.loop = loop }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Scheduler) { p.log = l }
}

// Scheduler drives playback of one session. The zero state is stopped.
type Scheduler struct {
	session *state.Session
	loop    bool
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(s *state.Session, opts ...Option) *Scheduler {
	p := &Scheduler{session: s, loop: true, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "playback")
	return p
}

// Interval is the tick period derived from the project frame rate.
func (p *Scheduler) Interval() time.Duration {
	fps := defaultFPS
	if proj, ok := p.session.Project(); ok && proj.Settings.FPS > 0 {
		fps = proj.Settings.FPS
	}
	return time.Second / time.Duration(fps)
}

// Playing reports whether the tick loop is running.
func (p *Scheduler) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Play starts the tick loop. It returns immediately; the loop runs until ctx
// is cancelled, Pause or Stop is called, or there is nothing left to play.
func (p *Scheduler) Play(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	p.session.SetPlaying(true)
	p.log.Info("playback started", "interval", p.Interval(), "loop", p.loop)
	go p.run(ctx, done)
}

func (p *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(p.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		more, err := p.Step()
		if err != nil {
			p.log.Warn("playback step failed", "err", err)
		}
		if !more || err != nil {
			p.finish(done)
			return
		}
		timer.Reset(p.Interval())
	}
}

// finish is called by the loop when it stops on its own.
func (p *Scheduler) finish(done chan struct{}) {
	p.mu.Lock()
	if p.done == done {
		p.cancel()
		p.cancel, p.done = nil, nil
	}
	p.mu.Unlock()
	p.session.SetPlaying(false)
	p.log.Info("playback finished", "frame", p.session.CurrentFrame())
}

// Pause stops the loop and keeps the cursor where it is. An in-flight tick
// completes before Pause returns.
func (p *Scheduler) Pause() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	p.session.SetPlaying(false)
}

// Stop pauses, rewinds the cursor to 0 and shows frame 0.
func (p *Scheduler) Stop() error {
	p.Pause()
	sc, ok := p.session.ActiveScene()
	if !ok {
		return p.session.SetCurrentFrame(0)
	}
	return p.session.ShowFrame(sc.ID, 0)
}

// Step advances playback by one tick. It reports false when playback has to
// stop: nothing is captured, or the end was reached with looping disabled.
func (p *Scheduler) Step() (bool, error) {
	sc, ok := p.session.ActiveScene()
	if !ok {
		return false, nil
	}
	frames, err := p.session.FramesWithContent(sc.ID)
	if err != nil {
		return false, err
	}
	if len(frames) == 0 {
		return false, nil
	}

	cur := p.session.CurrentFrame()
	for _, f := range frames {
		if f.Holds(cur) && cur < f.End()-1 {
			return true, p.session.SetCurrentFrame(cur + 1)
		}
	}
	for _, f := range frames {
		if f.FrameNumber > cur {
			return true, p.session.ShowFrame(sc.ID, f.FrameNumber)
		}
	}
	if !p.loop {
		return false, nil
	}
	return true, p.session.ShowFrame(sc.ID, frames[0].FrameNumber)
}
