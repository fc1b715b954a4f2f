package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalAnimator/internal/state"
)

func storyboardSession(t *testing.T, frames int) state.Snapshot {
	t.Helper()
	s := state.NewSession()
	s.CreateProject("demo", state.DefaultSettings())
	sc, _ := s.ActiveScene()
	l, _ := s.CurrentLayer()
	for i := 0; i < frames; i++ {
		el := state.NewElement(state.Circle{Radius: 40, Paint: state.Paint{Fill: "#ff0000", Stroke: "#000", StrokeWidth: 2}},
			state.Point{X: float64(100 + 50*i), Y: 300})
		el.Rotation = 15
		id, err := s.AddElement(sc.ID, l.ID, el)
		require.NoError(t, err)
		_, err = s.CaptureFrame(sc.ID)
		require.NoError(t, err)
		require.NoError(t, s.RemoveElement(sc.ID, l.ID, id))
	}
	return s.Snapshot()
}

func TestStoryboard_WritesPDF(t *testing.T) {
	snap := storyboardSession(t, 3)
	var buf bytes.Buffer
	require.NoError(t, Storyboard(&buf, snap, Options{}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestStoryboard_PaginatesPanels(t *testing.T) {
	snap := storyboardSession(t, 7)
	pdf, err := build(snap, Options{Columns: 3, Rows: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, pdf.PageCount())

	pdf, err = build(snap, Options{Columns: 4, Rows: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, pdf.PageCount())
}

func TestStoryboardFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.pdf")
	require.NoError(t, StoryboardFile(path, storyboardSession(t, 1), Options{Title: "test"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestStoryboard_NothingToExport(t *testing.T) {
	err := Storyboard(&bytes.Buffer{}, state.Snapshot{}, Options{})
	assert.True(t, state.IsValidation(err))

	s := state.NewSession()
	s.CreateProject("empty", state.DefaultSettings())
	err = Storyboard(&bytes.Buffer{}, s.Snapshot(), Options{})
	assert.True(t, state.IsValidation(err))
}

func TestContent_LayerOrderAndHeldFrames(t *testing.T) {
	bg := state.NewElement(state.Rectangle{Width: 10, Height: 10}, state.Point{})
	bg.ID, bg.LayerType = "sky", state.LayerBackground
	fg := state.NewElement(state.Circle{Radius: 5}, state.Point{})
	fg.ID, fg.LayerType = "ball", state.LayerForeground

	sc := state.Scene{Layers: []state.Layer{
		{ID: "front", Type: state.LayerForeground, Visible: true, ZIndex: 2, Frames: []state.Frame{
			// The background copy merged into this frame is not drawn twice.
			{FrameNumber: 0, Length: 1, Elements: []state.Element{bg, fg}},
		}},
		{ID: "back", Type: state.LayerBackground, Visible: true, ZIndex: 0, Frames: []state.Frame{
			{FrameNumber: 0, Length: 3, Elements: []state.Element{bg}},
		}},
		{ID: "hidden", Type: state.LayerMidground, Visible: false, ZIndex: 1, Frames: []state.Frame{
			{FrameNumber: 0, Length: 1, Elements: []state.Element{fg}},
		}},
	}}

	ids := func(els []state.Element) []string {
		var out []string
		for _, e := range els {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"sky", "ball"}, ids(Content(sc, 0)))
	assert.Equal(t, []string{"sky"}, ids(Content(sc, 2)), "background is held")
	assert.Empty(t, Content(sc, 3))
	assert.Equal(t, []int{0}, Frames(sc))
}

func TestRGB(t *testing.T) {
	tests := []struct {
		in      string
		r, g, b int
	}{
		{"#ff8000", 255, 128, 0},
		{"#FFF", 255, 255, 255},
		{"00ff00", 0, 255, 0},
		{"red", 0, 0, 0},
		{"", 0, 0, 0},
	}
	for _, tt := range tests {
		r, g, b := rgb(tt.in)
		assert.Equal(t, []int{tt.r, tt.g, tt.b}, []int{r, g, b}, tt.in)
	}
}

func TestStoryboard_EmbedsShareLink(t *testing.T) {
	snap := storyboardSession(t, 2)
	var plain, linked bytes.Buffer
	require.NoError(t, Storyboard(&plain, snap, Options{}))
	require.NoError(t, Storyboard(&linked, snap, Options{Link: "ws://192.168.1.20:3003/ws"}))
	assert.Greater(t, linked.Len(), plain.Len())
	assert.Contains(t, linked.String(), "/Subtype /Image")
}
