package state

import (
	"encoding/json"
	"slices"
	"time"
)

// LayerType tags a layer and, through Element.LayerType, the elements that
// logically belong to it inside a merged frame snapshot.
type LayerType string

const (
	LayerBackground LayerType = "background"
	LayerMidground  LayerType = "midground"
	LayerForeground LayerType = "foreground"
)

// Valid reports whether t is one of the known layer types.
func (t LayerType) Valid() bool {
	switch t {
	case LayerBackground, LayerMidground, LayerForeground:
		return true
	}
	return false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ProjectSettings holds the canvas settings of a project. Duration is in seconds.
type ProjectSettings struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      int     `json:"fps"`
	Duration float64 `json:"duration"`
}

// DefaultSettings mirrors the editor's new-project defaults.
func DefaultSettings() ProjectSettings {
	return ProjectSettings{Width: 1920, Height: 1080, FPS: 12, Duration: 2}
}

// TotalFrames is the number of timeline slots covered by the project duration.
func (ps ProjectSettings) TotalFrames() int {
	if ps.FPS <= 0 || ps.Duration <= 0 {
		return 0
	}
	return int(float64(ps.FPS) * ps.Duration)
}

type Project struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Settings     ProjectSettings `json:"settings"`
	Created      time.Time       `json:"created"`
	LastModified time.Time       `json:"lastModified"`
}

// Scene is an ordered set of layers. Exactly one scene of a project is active.
type Scene struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
	Active bool    `json:"active"`
}

// Layer holds live elements (what would be captured right now) and the
// frames captured so far, sorted ascending by unique FrameNumber.
type Layer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     LayerType `json:"type"`
	Visible  bool      `json:"visible"`
	Locked   bool      `json:"locked"`
	Opacity  float64   `json:"opacity"`
	ZIndex   int       `json:"zIndex"`
	Elements []Element `json:"elements"`
	Frames   []Frame   `json:"frames"`
}

// Frame is a captured snapshot of elements at a timeline position, held for
// Length ticks. It is a value: later live edits do not reach it.
type Frame struct {
	ID          string    `json:"id"`
	FrameNumber int       `json:"frameNumber"`
	Length      int       `json:"length"`
	Elements    []Element `json:"elements"`
}

// End is the first timeline position after the frame's held span.
func (f Frame) End() int {
	return f.FrameNumber + max(f.Length, 1)
}

// Holds reports whether position n falls inside the frame's held span.
func (f Frame) Holds(n int) bool {
	return f.FrameNumber <= n && n < f.End()
}

func (sc Scene) Clone() Scene {
	out := sc
	out.Layers = make([]Layer, len(sc.Layers))
	for i, l := range sc.Layers {
		out.Layers[i] = l.Clone()
	}
	return out
}

// Layer looks up a layer by id.
func (sc *Scene) Layer(id string) *Layer {
	for i := range sc.Layers {
		if sc.Layers[i].ID == id {
			return &sc.Layers[i]
		}
	}
	return nil
}

// UnmarshalJSON fills in the flag defaults (visible, opaque, unlocked) for
// layers that omit them on the wire.
func (l *Layer) UnmarshalJSON(data []byte) error {
	type plain Layer
	var w struct {
		plain
		Visible *bool    `json:"visible"`
		Locked  *bool    `json:"locked"`
		Opacity *float64 `json:"opacity"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*l = Layer(w.plain)
	l.Visible = w.Visible == nil || *w.Visible
	l.Locked = w.Locked != nil && *w.Locked
	l.Opacity = 1
	if w.Opacity != nil {
		l.Opacity = *w.Opacity
	}
	return nil
}

func (l Layer) Clone() Layer {
	out := l
	out.Elements = cloneElements(l.Elements)
	out.Frames = make([]Frame, len(l.Frames))
	for i, f := range l.Frames {
		out.Frames[i] = f.Clone()
	}
	return out
}

// FrameAt returns the index of the frame positioned exactly at n, or -1.
func (l *Layer) FrameAt(n int) int {
	return slices.IndexFunc(l.Frames, func(f Frame) bool { return f.FrameNumber == n })
}

func (l *Layer) frameByID(id string) int {
	return slices.IndexFunc(l.Frames, func(f Frame) bool { return f.ID == id })
}

func (l *Layer) elementIndex(id string) int {
	return slices.IndexFunc(l.Elements, func(e Element) bool { return e.ID == id })
}

// upsertFrame replaces the frame at f.FrameNumber (or inserts it) and keeps
// the frame list sorted. A frame inserted inside a neighbour's held span
// shortens the neighbour, and is itself shortened to end where the next
// frame starts, so held spans never overlap.
func (l *Layer) upsertFrame(f Frame) {
	f.Length = max(f.Length, 1)
	i := l.FrameAt(f.FrameNumber)
	if i >= 0 {
		l.Frames[i] = f
	} else {
		l.Frames = append(l.Frames, f)
		sortFrames(l.Frames)
		i = l.FrameAt(f.FrameNumber)
	}
	if i > 0 {
		prev := &l.Frames[i-1]
		if prev.End() > f.FrameNumber {
			prev.Length = f.FrameNumber - prev.FrameNumber
		}
	}
	if i < len(l.Frames)-1 {
		cur, next := &l.Frames[i], l.Frames[i+1]
		if cur.End() > next.FrameNumber {
			cur.Length = next.FrameNumber - cur.FrameNumber
		}
	}
}

func sortFrames(frames []Frame) {
	slices.SortStableFunc(frames, func(a, b Frame) int { return a.FrameNumber - b.FrameNumber })
}

func (f Frame) Clone() Frame {
	out := f
	out.Elements = cloneElements(f.Elements)
	return out
}

func cloneElements(in []Element) []Element {
	out := make([]Element, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func (p Project) Clone() *Project {
	return &p
}
