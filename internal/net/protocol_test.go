package net

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalAnimator/internal/state"
)

func TestEncode_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	el := state.NewElement(state.Circle{Radius: 20, Paint: state.Paint{Fill: "#ff0000"}}, state.Point{X: 100, Y: 100})
	req, err := NewCreateElementRequest("s1", "l1", el)
	require.NoError(t, err)
	data, err := encode(EventCreateElement, "r1", req)
	require.NoError(t, err)
	g.Assert(t, "create_element", data)

	at := 5
	data, err = encode(EventCaptureFrame, "r2", CaptureFrameRequest{SceneID: "s1", FrameNumber: &at})
	require.NoError(t, err)
	g.Assert(t, "capture_frame_at", data)

	data, err = encode(EventLayerCreated, "r3", failure(state.NotFound("create layer", "scene", "s9")))
	require.NoError(t, err)
	g.Assert(t, "layer_created_failure", data)
}

func TestCreateElementRequest_DraftRoundTrip(t *testing.T) {
	el := state.NewElement(state.Text{Text: "Hi"}, state.Point{X: 5, Y: 6})
	el.Rotation = 30
	req, err := NewCreateElementRequest("s1", "l1", el)
	require.NoError(t, err)

	draft, err := req.Draft()
	require.NoError(t, err)
	assert.Equal(t, state.Text{Text: "Hi", FontSize: 24, FontFamily: "Arial", Fill: "#000000"}, draft.Properties)
	assert.Equal(t, 30.0, draft.Rotation)
	assert.Equal(t, state.Point{X: 1, Y: 1}, draft.Scale)

	req.Type = state.ElementShape
	_, err = req.Draft()
	assert.True(t, state.IsValidation(err), "text properties under a shape type")
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"event":"request_state","id":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, EventRequestState, env.Event)
	assert.Equal(t, "7", env.ID)
	assert.Empty(t, env.Data)

	_, err = decodeEnvelope([]byte(`{"id":"7"}`))
	assert.True(t, state.IsValidation(err))
	_, err = decodeEnvelope([]byte(`not json`))
	assert.True(t, state.IsValidation(err))
}
