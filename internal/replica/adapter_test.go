package replica

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalAnimator/internal/state"
)

const testDebounce = 20 * time.Millisecond

type fakeTransport struct {
	mu       sync.Mutex
	sent     []state.Snapshot
	handlers []func(state.Snapshot)
}

func (f *fakeTransport) UpdateState(s state.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeTransport) OnState(fn func(state.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
}

func (f *fakeTransport) deliver(s state.Snapshot) {
	f.mu.Lock()
	handlers := append([]func(state.Snapshot){}, f.handlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(s.Clone())
	}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func setup(t *testing.T) (*state.Session, *fakeTransport, *Adapter) {
	t.Helper()
	s := state.NewSession()
	s.CreateProject("demo", state.DefaultSettings())
	tr := &fakeTransport{}
	a := New(s, tr, WithDebounce(testDebounce), WithClock(state.NewClock("editor")))
	t.Cleanup(a.Close)
	return s, tr, a
}

// remoteSnapshot builds a state produced by another participant.
func remoteSnapshot(t *testing.T, frame int, rev uint64) state.Snapshot {
	t.Helper()
	other := state.NewSession()
	other.CreateProject("remote", state.DefaultSettings())
	require.NoError(t, other.SetCurrentFrame(frame))
	snap := other.Snapshot()
	snap.Origin = &state.Origin{Site: "relay", Revision: rev}
	return snap
}

func TestAdapter_DebouncesLocalBursts(t *testing.T) {
	s, tr, a := setup(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.SetCurrentFrame(i))
	}
	assert.True(t, a.Pending())

	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, tr.sentCount(), "a burst is pushed once")

	sent := tr.last()
	assert.Equal(t, 5, sent.CurrentFrame)
	require.NotNil(t, sent.Origin)
	assert.Equal(t, state.Origin{Site: "editor", Revision: 1}, *sent.Origin)
}

func TestAdapter_RemoteUpdateNeverEmits(t *testing.T) {
	s, tr, a := setup(t)

	tr.deliver(remoteSnapshot(t, 4, 7))
	assert.False(t, a.Pending())
	time.Sleep(3 * testDebounce)

	assert.Equal(t, 0, tr.sentCount())
	assert.Equal(t, 4, s.CurrentFrame())
	p, _ := s.Project()
	assert.Equal(t, "remote", p.Name)
}

func TestAdapter_DropsOwnEcho(t *testing.T) {
	s, tr, a := setup(t)
	require.NoError(t, s.SetCurrentFrame(2))
	require.NoError(t, a.Flush())
	require.Equal(t, 1, tr.sentCount())

	echo := tr.last()
	echo.CurrentFrame = 99
	tr.deliver(echo)

	assert.Equal(t, 2, s.CurrentFrame(), "own echo is not applied")
	assert.False(t, a.Pending())
}

func TestAdapter_RemoteCancelsPendingPush(t *testing.T) {
	s, tr, a := setup(t)
	require.NoError(t, s.SetCurrentFrame(3))
	require.True(t, a.Pending())

	tr.deliver(remoteSnapshot(t, 8, 1))
	assert.False(t, a.Pending())
	time.Sleep(3 * testDebounce)

	assert.Equal(t, 0, tr.sentCount())
	assert.Equal(t, 8, s.CurrentFrame(), "last writer wins")
}

func TestAdapter_ObservesRemoteRevisions(t *testing.T) {
	s, tr, a := setup(t)
	tr.deliver(remoteSnapshot(t, 0, 10))

	require.NoError(t, s.SetCurrentFrame(1))
	require.NoError(t, a.Flush())
	assert.Equal(t, uint64(11), tr.last().Origin.Revision)
}

func TestAdapter_FlushWithoutPendingIsNoop(t *testing.T) {
	_, tr, a := setup(t)
	require.NoError(t, a.Flush())
	assert.Equal(t, 0, tr.sentCount())
}

func TestAdapter_CloseDropsPendingPush(t *testing.T) {
	s, tr, a := setup(t)
	require.NoError(t, s.SetCurrentFrame(1))
	a.Close()
	time.Sleep(3 * testDebounce)
	assert.Equal(t, 0, tr.sentCount())

	require.NoError(t, s.SetCurrentFrame(2))
	assert.False(t, a.Pending(), "closed adapters stop listening")
}
