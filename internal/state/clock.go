package state

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Origin tags a broadcast snapshot with the participant that produced it and
// that participant's revision at the time.
type Origin struct {
	Site     string `json:"site"`
	Revision uint64 `json:"revision"`
}

// Clock is a per-participant Lamport clock. Each local emit takes a fresh
// revision; remote revisions are observed so revisions stay monotonic.
type Clock struct {
	site string
	rev  atomic.Uint64
}

// NewClock creates a clock for site. An empty site gets a random id.
func NewClock(site string) *Clock {
	if site == "" {
		site = uuid.NewString()
	}
	return &Clock{site: site}
}

func (c *Clock) Site() string { return c.site }

// Next stamps a new local revision.
func (c *Clock) Next() Origin {
	return Origin{Site: c.site, Revision: c.rev.Add(1)}
}

// Current returns the last revision without advancing.
func (c *Clock) Current() uint64 {
	return c.rev.Load()
}

// Observe moves the clock forward to a revision seen from another site.
func (c *Clock) Observe(rev uint64) {
	for {
		cur := c.rev.Load()
		if rev <= cur {
			return
		}
		if c.rev.CompareAndSwap(cur, rev) {
			return
		}
	}
}
