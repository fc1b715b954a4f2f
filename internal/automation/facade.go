// Package automation drives a relay the way a scripting client does:
// every command goes through correlated requests and comes back as a Result.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lnet "LocalAnimator/internal/net"
	"LocalAnimator/internal/state"
)

// Commander is the relay connection used by the facade. *net.Client
// implements it.
type Commander interface {
	State() (state.Snapshot, bool)
	CreateElement(ctx context.Context, sceneID, layerID string, el state.Element) (lnet.ElementReply, error)
	CreateElementAt(ctx context.Context, sceneID, layerID string, frameNumber int, el state.Element) (lnet.ElementReply, error)
	CaptureFrame(ctx context.Context, sceneID string, frameNumber *int) (lnet.FrameReply, error)
	CreateLayer(ctx context.Context, sceneID, name string, typ state.LayerType) (lnet.LayerReply, error)
	ActivateLayer(ctx context.Context, sceneID, layerID string) (lnet.LayerReply, error)
	RemoveElement(ctx context.Context, sceneID, layerID, elementID string) (lnet.Reply, error)
}

// Result is what every facade command returns. Failures are reported in
// Message, never as errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func succeed(data any) Result { return Result{Success: true, Data: data} }

func fail(what string, err error) Result {
	return Result{Message: fmt.Sprintf("failed to %s: %v", what, err)}
}

type Facade struct {
	cmd Commander
	log *slog.Logger
}

func New(cmd Commander, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{cmd: cmd, log: log.With("component", "automation")}
}

// target resolves empty ids to the active scene and layer and looks up the
// layer type. A layer missing from the mirror (just created) keeps an empty
// type; the relay fills it in.
func (f *Facade) target(sceneID, layerID string) (string, string, state.LayerType, error) {
	snap, ok := f.cmd.State()
	if !ok {
		return "", "", "", state.Invalid("target", "no state received from relay yet")
	}
	if sceneID == "" {
		if snap.ActiveScene == nil {
			return "", "", "", state.Invalid("target", "no active scene")
		}
		sceneID = snap.ActiveScene.ID
	}
	if layerID == "" {
		if snap.ActiveLayer == "" {
			return "", "", "", state.Invalid("target", "no active layer")
		}
		layerID = snap.ActiveLayer
	}
	for i := range snap.Scenes {
		if snap.Scenes[i].ID != sceneID {
			continue
		}
		if l := snap.Scenes[i].Layer(layerID); l != nil {
			return sceneID, layerID, l.Type, nil
		}
	}
	return sceneID, layerID, "", nil
}

// create places el on the target layer, at the relay's cursor or at frame
// at when given.
func (f *Facade) create(ctx context.Context, sceneID, layerID string, at *int, el state.Element) (string, string, state.Element, error) {
	sceneID, layerID, typ, err := f.target(sceneID, layerID)
	if err != nil {
		return "", "", state.Element{}, err
	}
	el.LayerType = typ
	var reply lnet.ElementReply
	if at != nil {
		reply, err = f.cmd.CreateElementAt(ctx, sceneID, layerID, *at, el)
	} else {
		reply, err = f.cmd.CreateElement(ctx, sceneID, layerID, el)
	}
	if err != nil {
		return "", "", state.Element{}, err
	}
	if !reply.Success || reply.Element == nil {
		return "", "", state.Element{}, errors.New(reply.Message)
	}
	return sceneID, layerID, *reply.Element, nil
}

func (f *Facade) capture(ctx context.Context, sceneID string, at *int) (lnet.FrameReply, error) {
	reply, err := f.cmd.CaptureFrame(ctx, sceneID, at)
	if err != nil {
		return reply, err
	}
	if !reply.Success {
		return reply, errors.New(reply.Message)
	}
	return reply, nil
}

// ShapeRequest describes a shape to place. Zero sizes and colours take the
// editor defaults.
type ShapeRequest struct {
	SceneID     string          `json:"sceneId,omitempty"`
	LayerID     string          `json:"layerId,omitempty"`
	Shape       state.ShapeKind `json:"shapeType"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	Width       float64         `json:"width,omitempty"`
	Height      float64         `json:"height,omitempty"`
	Radius      float64         `json:"radius,omitempty"`
	Fill        string          `json:"fill,omitempty"`
	Stroke      string          `json:"stroke,omitempty"`
	StrokeWidth float64         `json:"strokeWidth,omitempty"`
	NumPoints   int             `json:"numPoints,omitempty"`
}

// Properties builds the shape variant with defaults applied.
func (r ShapeRequest) Properties() (state.Properties, error) {
	side := 100.0
	if r.Radius > 0 {
		side = 2 * r.Radius
	}
	w, h := r.Width, r.Height
	if w <= 0 {
		w = side
	}
	if h <= 0 {
		h = side
	}
	paint := state.Paint{Fill: r.Fill, Stroke: r.Stroke, StrokeWidth: r.StrokeWidth}
	if paint.Fill == "" {
		paint.Fill = "#000000"
	}
	if paint.Stroke == "" {
		paint.Stroke = "#000000"
	}
	if paint.StrokeWidth <= 0 {
		paint.StrokeWidth = 1
	}

	switch r.Shape {
	case state.KindRectangle:
		return state.Rectangle{Width: w, Height: h, Paint: paint}, nil
	case state.KindCircle:
		radius := r.Radius
		if radius <= 0 {
			radius = w / 2
		}
		return state.Circle{Radius: radius, Paint: paint}, nil
	case state.KindEllipse:
		return state.Ellipse{RadiusX: w / 2, RadiusY: h / 2, Paint: paint}, nil
	case state.KindLine:
		return state.Line{Points: []float64{0, 0, w, h}, Paint: paint}, nil
	case state.KindStar:
		n := r.NumPoints
		if n <= 0 {
			n = 5
		}
		return state.Star{NumPoints: n, OuterRadius: w / 2, InnerRadius: w / 4, Paint: paint}, nil
	}
	return nil, state.Invalid("create shape", "unknown shape type %q", r.Shape)
}

// ElementResult is the Data of a successful CreateShape or CreateText.
type ElementResult struct {
	Element     state.Element `json:"element"`
	FrameNumber int           `json:"frameNumber"`
}

// CreateShape places a shape and captures the current frame.
func (f *Facade) CreateShape(ctx context.Context, r ShapeRequest) Result {
	props, err := r.Properties()
	if err != nil {
		return fail("create shape", err)
	}
	return f.place(ctx, "create shape", r.SceneID, r.LayerID, state.NewElement(props, state.Point{X: r.X, Y: r.Y}))
}

type TextRequest struct {
	SceneID    string  `json:"sceneId,omitempty"`
	LayerID    string  `json:"layerId,omitempty"`
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Fill       string  `json:"fill,omitempty"`
}

// CreateText places a text element and captures the current frame.
func (f *Facade) CreateText(ctx context.Context, r TextRequest) Result {
	props := state.Text{Text: r.Text, FontSize: r.FontSize, FontFamily: r.FontFamily, Fill: r.Fill}.WithDefaults()
	return f.place(ctx, "create text", r.SceneID, r.LayerID, state.NewElement(props, state.Point{X: r.X, Y: r.Y}))
}

func (f *Facade) place(ctx context.Context, what, sceneID, layerID string, el state.Element) Result {
	sceneID, _, created, err := f.create(ctx, sceneID, layerID, nil, el)
	if err != nil {
		return fail(what, err)
	}
	frame, err := f.capture(ctx, sceneID, nil)
	if err != nil {
		return fail(what, err)
	}
	n := 0
	if frame.FrameNumber != nil {
		n = *frame.FrameNumber
	}
	f.log.Info("element placed", "element", created.ID, "kind", created.Properties.Kind(), "frame", n)
	return succeed(ElementResult{Element: created, FrameNumber: n})
}

// AnimatedElement moves from Start to End over the animation. Without End
// it stays at Start.
type AnimatedElement struct {
	LayerID    string            `json:"layerId,omitempty"`
	Type       state.ElementType `json:"type"`
	Properties json.RawMessage   `json:"properties"`
	Start      state.Point       `json:"startPosition"`
	End        *state.Point      `json:"endPosition,omitempty"`
}

// At returns the element position at frame f of n.
func (e AnimatedElement) At(f, n int) state.Point {
	if e.End == nil || n <= 1 {
		return e.Start
	}
	t := float64(f) / float64(n-1)
	return state.Point{
		X: e.Start.X + (e.End.X-e.Start.X)*t,
		Y: e.Start.Y + (e.End.Y-e.Start.Y)*t,
	}
}

type AnimationRequest struct {
	SceneID    string            `json:"sceneId,omitempty"`
	FrameCount int               `json:"frameCount"`
	Elements   []AnimatedElement `json:"elements"`
}

type AnimationResult struct {
	Frames []int `json:"frames"`
}

// CreateAnimation captures FrameCount frames starting at 0. Each frame holds
// only that frame's interpolated elements.
func (f *Facade) CreateAnimation(ctx context.Context, r AnimationRequest) Result {
	const what = "create animation"
	if r.FrameCount < 1 {
		return fail(what, state.Invalid(what, "frameCount must be at least 1, got %d", r.FrameCount))
	}
	props := make([]state.Properties, len(r.Elements))
	for i, e := range r.Elements {
		p, err := state.UnmarshalProperties(e.Type, e.Properties)
		if err != nil {
			return fail(what, fmt.Errorf("element %d: %w", i, err))
		}
		if t, isText := p.(state.Text); isText {
			p = t.WithDefaults()
		}
		props[i] = p
	}

	sceneID := r.SceneID
	if sceneID == "" {
		var err error
		if sceneID, _, _, err = f.target("", ""); err != nil {
			return fail(what, err)
		}
	}

	type placed struct{ layerID, id string }
	var previous []placed
	var frames []int
	for n := 0; n < r.FrameCount; n++ {
		for _, p := range previous {
			reply, err := f.cmd.RemoveElement(ctx, sceneID, p.layerID, p.id)
			if err != nil {
				return fail(what, err)
			}
			if !reply.Success {
				return fail(what, errors.New(reply.Message))
			}
		}
		previous = previous[:0]

		at := n
		for i, e := range r.Elements {
			_, layerID, created, err := f.create(ctx, sceneID, e.LayerID, &at, state.NewElement(props[i], e.At(n, r.FrameCount)))
			if err != nil {
				return fail(what, fmt.Errorf("frame %d: %w", n, err))
			}
			previous = append(previous, placed{layerID: layerID, id: created.ID})
		}
		if _, err := f.capture(ctx, sceneID, &at); err != nil {
			return fail(what, fmt.Errorf("frame %d: %w", n, err))
		}
		frames = append(frames, n)
	}
	f.log.Info("animation created", "frames", r.FrameCount, "elements", len(r.Elements))
	return Result{
		Success: true,
		Message: fmt.Sprintf("created animation sequence with %d frames", r.FrameCount),
		Data:    AnimationResult{Frames: frames},
	}
}

// CreateLayer adds a layer to the scene, or to the active scene when
// sceneID is empty.
func (f *Facade) CreateLayer(ctx context.Context, sceneID, name string, typ state.LayerType) Result {
	if sceneID == "" {
		snap, ok := f.cmd.State()
		if !ok || snap.ActiveScene == nil {
			return fail("create layer", state.Invalid("create layer", "no active scene"))
		}
		sceneID = snap.ActiveScene.ID
	}
	reply, err := f.cmd.CreateLayer(ctx, sceneID, name, typ)
	if err != nil {
		return fail("create layer", err)
	}
	if !reply.Success {
		return Result{Message: reply.Message}
	}
	return succeed(reply.Layer)
}

func (f *Facade) ActivateLayer(ctx context.Context, sceneID, layerID string) Result {
	if sceneID == "" {
		snap, ok := f.cmd.State()
		if !ok || snap.ActiveScene == nil {
			return fail("activate layer", state.Invalid("activate layer", "no active scene"))
		}
		sceneID = snap.ActiveScene.ID
	}
	reply, err := f.cmd.ActivateLayer(ctx, sceneID, layerID)
	if err != nil {
		return fail("activate layer", err)
	}
	if !reply.Success {
		return Result{Message: reply.Message}
	}
	return succeed(reply.Layer)
}

func (f *Facade) CurrentProject() Result {
	snap, ok := f.cmd.State()
	if !ok || snap.CurrentProject == nil {
		return Result{Message: "no project loaded"}
	}
	return Result{Success: true, Data: snap.CurrentProject}
}

func (f *Facade) CurrentScene() Result {
	snap, ok := f.cmd.State()
	if !ok || snap.ActiveScene == nil {
		return Result{Message: "no active scene found"}
	}
	return Result{Success: true, Data: snap.ActiveScene}
}

func (f *Facade) CurrentLayer() Result {
	snap, ok := f.cmd.State()
	if !ok {
		return Result{Message: "no active layer found"}
	}
	l, found := snap.CurrentLayer()
	if !found {
		return Result{Message: "no active layer found"}
	}
	return Result{Success: true, Data: l}
}
