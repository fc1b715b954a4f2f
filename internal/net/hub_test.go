package net

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalAnimator/internal/state"
)

func startRelay(t *testing.T) (*state.Session, *Hub, string) {
	t.Helper()
	s := state.NewSession()
	s.CreateProject("demo", state.DefaultSettings())
	hub := NewHub(s)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return s, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithReconnect(1, 10*time.Millisecond, 10*time.Millisecond), WithTimeout(2 * time.Second)}, opts...)
	c, err := Dial(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitState(t *testing.T, c *Client) state.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := c.State()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	snap, _ := c.State()
	return snap
}

func TestHub_SendsStateOnConnect(t *testing.T) {
	_, hub, url := startRelay(t)
	c := dialClient(t, url)

	snap := waitState(t, c)
	require.NotNil(t, snap.CurrentProject)
	assert.Equal(t, "demo", snap.CurrentProject.Name)
	require.NotNil(t, snap.ActiveScene)
	assert.NotEmpty(t, snap.ActiveLayer)
	assert.Equal(t, 1, hub.Peers())
}

func TestHub_CreateLayerReachesOtherParticipant(t *testing.T) {
	_, _, url := startRelay(t)
	a := dialClient(t, url)
	b := dialClient(t, url)
	sceneID := waitState(t, a).ActiveScene.ID
	waitState(t, b)

	reply, err := a.CreateLayer(context.Background(), sceneID, "Ink", state.LayerForeground)
	require.NoError(t, err)
	require.True(t, reply.Success, reply.Message)
	require.NotNil(t, reply.Layer)
	assert.Equal(t, "Ink", reply.Layer.Name)
	assert.Equal(t, 1, reply.Layer.ZIndex)

	require.Eventually(t, func() bool {
		snap, _ := b.State()
		_, ok := snap.Layer(reply.Layer.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_CreateElementThenCapture(t *testing.T) {
	s, _, url := startRelay(t)
	c := dialClient(t, url)
	snap := waitState(t, c)
	ctx := context.Background()

	el := state.NewElement(state.Circle{Radius: 20, Paint: state.Paint{Fill: "#ff0000"}}, state.Point{X: 100, Y: 100})
	created, err := c.CreateElement(ctx, snap.ActiveScene.ID, snap.ActiveLayer, el)
	require.NoError(t, err)
	require.True(t, created.Success, created.Message)
	require.NotNil(t, created.Element)
	assert.NotEmpty(t, created.Element.ID)
	assert.Equal(t, state.LayerMidground, created.Element.LayerType)

	captured, err := c.CaptureFrame(ctx, snap.ActiveScene.ID, nil)
	require.NoError(t, err)
	require.True(t, captured.Success, captured.Message)
	require.NotNil(t, captured.FrameNumber)
	assert.Equal(t, 0, *captured.FrameNumber)
	assert.Equal(t, 1, s.CurrentFrame())

	at := 5
	captured, err = c.CaptureFrame(ctx, snap.ActiveScene.ID, &at)
	require.NoError(t, err)
	require.True(t, captured.Success)
	assert.Equal(t, 5, *captured.FrameNumber)

	l, _ := s.CurrentLayer()
	numbers := []int{}
	for _, f := range l.Frames {
		numbers = append(numbers, f.FrameNumber)
	}
	assert.Equal(t, []int{0, 5}, numbers)

	removed, err := c.RemoveElement(ctx, snap.ActiveScene.ID, snap.ActiveLayer, created.Element.ID)
	require.NoError(t, err)
	assert.True(t, removed.Success)
}

func TestHub_CreateElementAtFrame(t *testing.T) {
	s, _, url := startRelay(t)
	c := dialClient(t, url)
	snap := waitState(t, c)
	require.NoError(t, s.SetCurrentFrame(4))

	el := state.NewElement(state.Rectangle{Width: 10, Height: 10}, state.Point{})
	created, err := c.CreateElementAt(context.Background(), snap.ActiveScene.ID, snap.ActiveLayer, 1, el)
	require.NoError(t, err)
	require.True(t, created.Success, created.Message)
	assert.Equal(t, 1, s.CurrentFrame())

	l, _ := s.CurrentLayer()
	require.Len(t, l.Frames, 1)
	assert.Equal(t, 1, l.Frames[0].FrameNumber)

	created, err = c.CreateElementAt(context.Background(), snap.ActiveScene.ID, "missing", 3, el)
	require.NoError(t, err)
	assert.False(t, created.Success)
	assert.Equal(t, 1, s.CurrentFrame())
}

func TestHub_FailedCommandRepliesWithMessage(t *testing.T) {
	_, _, url := startRelay(t)
	c := dialClient(t, url)
	snap := waitState(t, c)
	ctx := context.Background()

	reply, err := c.CreateLayer(ctx, "missing", "Ink", state.LayerForeground)
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Message, "not found")

	act, err := c.ActivateLayer(ctx, snap.ActiveScene.ID, "missing")
	require.NoError(t, err)
	assert.False(t, act.Success)

	bad := state.Element{Type: state.ElementShape, Properties: state.Text{Text: "x"}}
	created, err := c.CreateElement(ctx, snap.ActiveScene.ID, snap.ActiveLayer, bad)
	require.NoError(t, err)
	assert.False(t, created.Success, "a shape element cannot carry text properties")

	err = c.Request(ctx, "bogus", nil, nil)
	assert.True(t, state.IsValidation(err))
	assert.True(t, c.Connected())
}

func TestHub_ConcurrentRequestsAreCorrelated(t *testing.T) {
	_, _, url := startRelay(t)
	c := dialClient(t, url)
	sceneID := waitState(t, c).ActiveScene.ID

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("layer-%d", i)
			reply, err := c.CreateLayer(context.Background(), sceneID, name, state.LayerBackground)
			if assert.NoError(t, err) && assert.True(t, reply.Success) {
				assert.Equal(t, name, reply.Layer.Name)
			}
		}()
	}
	wg.Wait()

	snap, err := c.RequestState(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.ActiveScene.Layers, 11)
}

func TestHub_UpdateStateKeepsSenderOrigin(t *testing.T) {
	s, _, url := startRelay(t)
	a := dialClient(t, url)
	b := dialClient(t, url)
	snap := waitState(t, a)
	waitState(t, b)

	snap.CurrentFrame = 7
	snap.Origin = &state.Origin{Site: "site-a", Revision: 1}
	require.NoError(t, a.UpdateState(snap))

	require.Eventually(t, func() bool {
		got, _ := b.State()
		return got.CurrentFrame == 7 && got.Origin != nil && got.Origin.Site == "site-a"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, s.CurrentFrame())
}

func TestHub_RejectsMalformedUpdate(t *testing.T) {
	_, _, url := startRelay(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, EventStateUpdate, env.Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"update_state","id":"u1","data":{"scenes":"nope"}}`)))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, EventError, env.Event)
	assert.Equal(t, "u1", env.ID)
	assert.Contains(t, string(env.Data), `"success":false`)
}
