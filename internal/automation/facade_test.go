package automation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lnet "LocalAnimator/internal/net"
	"LocalAnimator/internal/state"
)

// relay starts a real hub and returns its session and a facade connected to it.
func relay(t *testing.T) (*state.Session, *Facade, *lnet.Client) {
	t.Helper()
	s := state.NewSession()
	s.CreateProject("demo", state.DefaultSettings())
	hub := lnet.NewHub(s)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	c, err := lnet.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"),
		lnet.WithTimeout(2*time.Second), lnet.WithReconnect(1, 10*time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool {
		_, ok := c.State()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return s, New(c, nil), c
}

func TestFacade_CreateShapeCapturesFrame(t *testing.T) {
	s, f, _ := relay(t)

	res := f.CreateShape(context.Background(), ShapeRequest{Shape: state.KindCircle, X: 100, Y: 100, Radius: 20})
	require.True(t, res.Success, res.Message)
	data, ok := res.Data.(ElementResult)
	require.True(t, ok)
	assert.Equal(t, 0, data.FrameNumber)
	assert.Equal(t, state.Circle{Radius: 20, Paint: state.Paint{Fill: "#000000", Stroke: "#000000", StrokeWidth: 1}}, data.Element.Properties)
	assert.Equal(t, state.LayerMidground, data.Element.LayerType)

	l, _ := s.CurrentLayer()
	require.Len(t, l.Frames, 1)
	assert.Equal(t, 0, l.Frames[0].FrameNumber)
	require.Len(t, l.Frames[0].Elements, 1)
	assert.Equal(t, data.Element.ID, l.Frames[0].Elements[0].ID)
	assert.Equal(t, 1, s.CurrentFrame())
}

func TestFacade_CreateTextUsesDefaults(t *testing.T) {
	_, f, _ := relay(t)

	res := f.CreateText(context.Background(), TextRequest{Text: "Hello", X: 10, Y: 20})
	require.True(t, res.Success, res.Message)
	data := res.Data.(ElementResult)
	assert.Equal(t, state.Text{Text: "Hello", FontSize: 24, FontFamily: "Arial", Fill: "#000000"}, data.Element.Properties)
	assert.Equal(t, state.Point{X: 10, Y: 20}, data.Element.Position)
}

func TestFacade_CreateAnimationInterpolates(t *testing.T) {
	s, f, _ := relay(t)

	res := f.CreateAnimation(context.Background(), AnimationRequest{
		FrameCount: 3,
		Elements: []AnimatedElement{{
			Type:       state.ElementShape,
			Properties: json.RawMessage(`{"shapeType":"circle","radius":10,"fill":"#ff0000"}`),
			Start:      state.Point{X: 0, Y: 0},
			End:        &state.Point{X: 100, Y: 50},
		}},
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, AnimationResult{Frames: []int{0, 1, 2}}, res.Data)

	l, _ := s.CurrentLayer()
	require.Len(t, l.Frames, 3)
	want := []state.Point{{X: 0, Y: 0}, {X: 50, Y: 25}, {X: 100, Y: 50}}
	for i, fr := range l.Frames {
		assert.Equal(t, i, fr.FrameNumber)
		require.Len(t, fr.Elements, 1, "frame %d", i)
		assert.Equal(t, want[i], fr.Elements[0].Position, "frame %d", i)
	}
	assert.Len(t, l.Elements, 1, "only the last frame's elements stay live")
}

func frameNumbers(l *state.Layer) []int {
	out := []int{}
	for _, fr := range l.Frames {
		out = append(out, fr.FrameNumber)
	}
	return out
}

func slide() AnimationRequest {
	end := state.Point{X: 100, Y: 0}
	return AnimationRequest{
		FrameCount: 2,
		Elements: []AnimatedElement{{
			Type:       state.ElementShape,
			Properties: json.RawMessage(`{"shapeType":"circle","radius":10}`),
			End:        &end,
		}},
	}
}

func TestFacade_CreateAnimationStartsAtFrameZeroWhereverTheCursorIs(t *testing.T) {
	s, f, _ := relay(t)
	require.NoError(t, s.SetCurrentFrame(5))

	res := f.CreateAnimation(context.Background(), slide())
	require.True(t, res.Success, res.Message)

	l, _ := s.CurrentLayer()
	assert.Equal(t, []int{0, 1}, frameNumbers(&l), "no frame is left at the old cursor")
	assert.Equal(t, state.Point{X: 0, Y: 0}, l.Frames[0].Elements[0].Position)
	assert.Equal(t, state.Point{X: 100, Y: 0}, l.Frames[1].Elements[0].Position)
	assert.Equal(t, 2, s.CurrentFrame())
}

func TestFacade_CreateAnimationOnInactiveLayer(t *testing.T) {
	s, f, _ := relay(t)
	ctx := context.Background()
	created := f.CreateLayer(ctx, "", "Fg", state.LayerForeground)
	require.True(t, created.Success, created.Message)
	fg := created.Data.(*state.Layer)
	require.NoError(t, s.SetCurrentFrame(5))

	req := slide()
	req.Elements[0].LayerID = fg.ID
	res := f.CreateAnimation(ctx, req)
	require.True(t, res.Success, res.Message)

	sc, ok := s.ActiveScene()
	require.True(t, ok)
	require.NotNil(t, sc.Layer(fg.ID))
	assert.Equal(t, []int{0, 1}, frameNumbers(sc.Layer(fg.ID)))
	for n, want := range map[int]state.Point{0: {X: 0, Y: 0}, 1: {X: 100, Y: 0}} {
		content, err := s.ContentAt(sc.ID, fg.ID, n, false)
		require.NoError(t, err)
		require.Len(t, content, 1, "frame %d", n)
		assert.Equal(t, want, content[0].Position, "frame %d", n)
		assert.Equal(t, state.LayerForeground, content[0].LayerType)
	}
	content, err := s.ContentAt(sc.ID, fg.ID, 5, false)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestFacade_CreateAnimationRejectsBadInput(t *testing.T) {
	_, f, _ := relay(t)
	ctx := context.Background()

	res := f.CreateAnimation(ctx, AnimationRequest{FrameCount: 0})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "frameCount")

	res = f.CreateAnimation(ctx, AnimationRequest{FrameCount: 2, Elements: []AnimatedElement{{
		Type:       state.ElementShape,
		Properties: json.RawMessage(`{"shapeType":"hexagon"}`),
	}}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "hexagon")
}

func TestFacade_LayersAndProjections(t *testing.T) {
	_, f, c := relay(t)
	ctx := context.Background()

	assert.True(t, f.CurrentProject().Success)
	assert.True(t, f.CurrentScene().Success)
	before := f.CurrentLayer()
	require.True(t, before.Success)

	res := f.CreateLayer(ctx, "", "Sky", state.LayerBackground)
	require.True(t, res.Success, res.Message)
	layer := res.Data.(*state.Layer)
	assert.Equal(t, state.LayerBackground, layer.Type)

	res = f.ActivateLayer(ctx, "", layer.ID)
	require.True(t, res.Success, res.Message)

	require.Eventually(t, func() bool {
		snap, _ := c.State()
		return snap.ActiveLayer == layer.ID
	}, 2*time.Second, 5*time.Millisecond)
	cur := f.CurrentLayer()
	require.True(t, cur.Success)
	assert.Equal(t, layer.ID, cur.Data.(state.Layer).ID)

	res = f.ActivateLayer(ctx, "", "missing")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
}

type fakeCommander struct {
	snap     state.Snapshot
	loaded   bool
	captures int
}

func (f *fakeCommander) State() (state.Snapshot, bool) { return f.snap, f.loaded }

func (f *fakeCommander) CreateElement(context.Context, string, string, state.Element) (lnet.ElementReply, error) {
	return lnet.ElementReply{Reply: lnet.Reply{Message: "layer l9 not found"}}, nil
}

func (f *fakeCommander) CreateElementAt(ctx context.Context, sceneID, layerID string, _ int, el state.Element) (lnet.ElementReply, error) {
	return f.CreateElement(ctx, sceneID, layerID, el)
}

func (f *fakeCommander) CaptureFrame(context.Context, string, *int) (lnet.FrameReply, error) {
	f.captures++
	return lnet.FrameReply{}, errors.New("unexpected capture")
}

func (f *fakeCommander) CreateLayer(context.Context, string, string, state.LayerType) (lnet.LayerReply, error) {
	return lnet.LayerReply{}, state.Timeout("create_layer", time.Second)
}

func (f *fakeCommander) ActivateLayer(context.Context, string, string) (lnet.LayerReply, error) {
	return lnet.LayerReply{}, nil
}

func (f *fakeCommander) RemoveElement(context.Context, string, string, string) (lnet.Reply, error) {
	return lnet.Reply{}, nil
}

func TestFacade_FailuresBecomeResults(t *testing.T) {
	cmd := &fakeCommander{}
	f := New(cmd, nil)
	ctx := context.Background()

	for _, res := range []Result{f.CurrentProject(), f.CurrentScene(), f.CurrentLayer()} {
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Message)
	}
	assert.False(t, f.CreateShape(ctx, ShapeRequest{Shape: state.KindRectangle}).Success, "no state yet")

	scene := state.Scene{ID: "s1", Active: true, Layers: []state.Layer{{ID: "l1", Type: state.LayerForeground}}}
	cmd.snap = state.Snapshot{Scenes: []state.Scene{scene}, ActiveScene: &scene, ActiveLayer: "l1"}
	cmd.loaded = true

	res := f.CreateShape(ctx, ShapeRequest{Shape: state.KindRectangle, LayerID: "l9"})
	assert.False(t, res.Success)
	assert.Equal(t, "failed to create shape: layer l9 not found", res.Message)
	assert.Equal(t, 0, cmd.captures, "nothing is captured after a failed create")

	res = f.CreateLayer(ctx, "", "Ink", state.LayerForeground)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no reply within")
}

func TestShapeRequest_Defaults(t *testing.T) {
	paint := state.Paint{Fill: "#000000", Stroke: "#000000", StrokeWidth: 1}
	tests := []struct {
		name string
		req  ShapeRequest
		want state.Properties
	}{
		{"rectangle", ShapeRequest{Shape: state.KindRectangle}, state.Rectangle{Width: 100, Height: 100, Paint: paint}},
		{"rectangle from radius", ShapeRequest{Shape: state.KindRectangle, Radius: 30}, state.Rectangle{Width: 60, Height: 60, Paint: paint}},
		{"circle", ShapeRequest{Shape: state.KindCircle}, state.Circle{Radius: 50, Paint: paint}},
		{"ellipse", ShapeRequest{Shape: state.KindEllipse, Width: 40, Height: 20}, state.Ellipse{RadiusX: 20, RadiusY: 10, Paint: paint}},
		{"line", ShapeRequest{Shape: state.KindLine, Width: 10, Height: 5}, state.Line{Points: []float64{0, 0, 10, 5}, Paint: paint}},
		{"star", ShapeRequest{Shape: state.KindStar, Fill: "#ffff00"}, state.Star{NumPoints: 5, OuterRadius: 50, InnerRadius: 25,
			Paint: state.Paint{Fill: "#ffff00", Stroke: "#000000", StrokeWidth: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Properties()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ShapeRequest{Shape: "blob"}.Properties()
	assert.True(t, state.IsValidation(err))
}

func TestAnimatedElement_At(t *testing.T) {
	e := AnimatedElement{Start: state.Point{X: 10, Y: 10}, End: &state.Point{X: 50, Y: 90}}
	assert.Equal(t, state.Point{X: 10, Y: 10}, e.At(0, 5))
	assert.Equal(t, state.Point{X: 30, Y: 50}, e.At(2, 5))
	assert.Equal(t, state.Point{X: 50, Y: 90}, e.At(4, 5))
	assert.Equal(t, e.Start, e.At(0, 1), "a single frame stays at start")

	e.End = nil
	assert.Equal(t, e.Start, e.At(3, 5))
}
