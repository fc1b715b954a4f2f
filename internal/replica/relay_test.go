package replica

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lnet "LocalAnimator/internal/net"
	"LocalAnimator/internal/state"
)

// countingTransport counts the pushes a replica makes through a real client.
type countingTransport struct {
	*lnet.Client
	pushes atomic.Int32
}

func (c *countingTransport) UpdateState(s state.Snapshot) error {
	c.pushes.Add(1)
	return c.Client.UpdateState(s)
}

func joinRelay(t *testing.T, url, site string) (*state.Session, *countingTransport) {
	t.Helper()
	c, err := lnet.Dial(context.Background(), url,
		lnet.WithTimeout(2*time.Second), lnet.WithReconnect(1, 10*time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	s := state.NewSession()
	tr := &countingTransport{Client: c}
	a := New(s, tr, WithDebounce(testDebounce), WithClock(state.NewClock(site)))
	t.Cleanup(a.Close)
	_, err = c.RequestState(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := s.ActiveScene()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return s, tr
}

func TestAdapters_ThroughRelayDoNotPingPong(t *testing.T) {
	relay := state.NewSession()
	relay.CreateProject("demo", state.DefaultSettings())
	hub := lnet.NewHub(relay)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	a, ta := joinRelay(t, url, "editor-a")
	b, tb := joinRelay(t, url, "editor-b")

	sc, _ := a.ActiveScene()
	_, err := a.CreateLayer(sc.ID, "Fg", state.LayerForeground)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := b.ActiveScene()
		return ok && len(got.Layers) == 2
	}, 2*time.Second, 5*time.Millisecond, "B receives A's layer")

	assert.Never(t, func() bool {
		return ta.pushes.Load() > 1 || tb.pushes.Load() > 0
	}, 10*testDebounce, testDebounce/2)
	assert.Equal(t, int32(1), ta.pushes.Load())
	assert.Equal(t, int32(0), tb.pushes.Load())

	rs, _ := relay.ActiveScene()
	assert.Len(t, rs.Layers, 2)
}
