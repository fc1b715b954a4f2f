package state

import (
	"slices"
	"strconv"
)

// CaptureFrame shoots a frame: the active layer's live elements are snapshot
// into a fresh frame at the cursor, other layers' elements already present
// at that frame number are merged in, and the cursor advances by one.
// It returns the captured frame number.
func (s *Session) CaptureFrame(sceneID string) (int, error) {
	var captured int
	err := s.mutate("capture_frame", SourceLocal, func() error {
		n, err := s.captureLocked(sceneID, s.currentFrame)
		captured = n
		return err
	})
	return captured, err
}

// CaptureFrameAt moves the cursor to n and captures there.
func (s *Session) CaptureFrameAt(sceneID string, n int) (int, error) {
	var captured int
	err := s.mutate("capture_frame", SourceLocal, func() error {
		if n < 0 {
			return Invalid("capture frame", "frame %d is negative", n)
		}
		c, err := s.captureLocked(sceneID, n)
		captured = c
		return err
	})
	return captured, err
}

func (s *Session) captureLocked(sceneID string, n int) (int, error) {
	const op = "capture frame"
	sc, err := s.scene(op, sceneID)
	if err != nil {
		return 0, err
	}
	l, err := s.activeLayer(op, sc)
	if err != nil {
		return 0, err
	}

	f := Frame{ID: s.newID(), FrameNumber: n, Length: 1}
	var existing []Element
	if i := l.FrameAt(n); i >= 0 {
		f.Length = l.Frames[i].Length
		existing = l.Frames[i].Elements
	}

	var merged []Element
	seen := map[string]bool{}
	add := func(e Element) {
		if e.LayerType == l.Type || seen[e.ID] {
			return
		}
		seen[e.ID] = true
		merged = append(merged, e.Clone())
	}
	// Other layers' own content first: their frames hold the authoritative
	// copy of their elements at n.
	for _, o := range sc.Layers {
		if o.ID == l.ID {
			continue
		}
		if i := o.FrameAt(n); i >= 0 {
			for _, e := range o.Frames[i].Elements {
				if e.LayerType == o.Type {
					add(e)
				}
			}
		}
	}
	for _, e := range existing {
		add(e)
	}

	f.Elements = append(merged, cloneElements(l.Elements)...)
	l.upsertFrame(f)
	s.currentFrame = n + 1
	return n, nil
}

// SelectFrame persists the active layer's live elements at the cursor, moves
// the cursor to n and loads the active layer's content at n.
func (s *Session) SelectFrame(sceneID string, n int) error {
	return s.mutate("select_frame", SourceLocal, func() error {
		const op = "select frame"
		if n < 0 {
			return Invalid(op, "frame %d is negative", n)
		}
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		l, err := s.activeLayer(op, sc)
		if err != nil {
			return err
		}
		s.persistLayer(l, s.currentFrame)
		s.currentFrame = n
		l.Elements = contentAt(sc, l, n, false)
		return nil
	})
}

// LoadFrame persists every layer's live elements at the cursor, moves the
// cursor to n and replaces every layer's live elements with its content at n.
func (s *Session) LoadFrame(sceneID string, n int) error {
	return s.mutate("load_frame", SourceLocal, func() error {
		const op = "load frame"
		if n < 0 {
			return Invalid(op, "frame %d is negative", n)
		}
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		for i := range sc.Layers {
			s.persistLayer(&sc.Layers[i], s.currentFrame)
		}
		s.currentFrame = n
		showLocked(sc, n, false)
		return nil
	})
}

// ShowFrame moves the cursor to n and replaces every layer's live elements
// with the content held at n, without persisting anything. Playback uses it.
func (s *Session) ShowFrame(sceneID string, n int) error {
	return s.mutate("show_frame", SourceLocal, func() error {
		sc, err := s.scene("show frame", sceneID)
		if err != nil {
			return err
		}
		s.currentFrame = n
		showLocked(sc, n, true)
		return nil
	})
}

func showLocked(sc *Scene, n int, held bool) {
	contents := make([][]Element, len(sc.Layers))
	for i := range sc.Layers {
		contents[i] = contentAt(sc, &sc.Layers[i], n, held)
	}
	for i := range sc.Layers {
		sc.Layers[i].Elements = contents[i]
	}
}

// persistLayer writes l's live elements into its frame at n. Layers with no
// live elements and no frame at n are left alone.
func (s *Session) persistLayer(l *Layer, n int) {
	if len(l.Elements) == 0 && l.FrameAt(n) < 0 {
		return
	}
	s.recomputeFrame(l, n)
}

// ContentAt returns what a layer shows at n when loaded, without changing
// anything. With held, a frame whose held span covers n counts.
func (s *Session) ContentAt(sceneID, layerID string, n int, held bool) ([]Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, l, err := s.sceneLayer("content at", sceneID, layerID)
	if err != nil {
		return nil, err
	}
	return contentAt(sc, l, n, held), nil
}

// contentAt returns copies of the elements of l's type visible at n. A
// layer's own frame wins; without one, elements of its type merged into other
// layers' frames at n are used. With held, frames whose held span covers n
// count, otherwise only frames positioned exactly at n.
func contentAt(sc *Scene, l *Layer, n int, held bool) []Element {
	match := func(f Frame) bool {
		if held {
			return f.Holds(n)
		}
		return f.FrameNumber == n
	}
	pick := func(f Frame, seen map[string]bool, out []Element) []Element {
		for _, e := range f.Elements {
			if e.LayerType == l.Type && !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e.Clone())
			}
		}
		return out
	}

	out := []Element{}
	seen := map[string]bool{}
	if i := slices.IndexFunc(l.Frames, match); i >= 0 {
		return pick(l.Frames[i], seen, out)
	}
	for _, o := range sc.Layers {
		if o.ID == l.ID {
			continue
		}
		if i := slices.IndexFunc(o.Frames, match); i >= 0 {
			out = pick(o.Frames[i], seen, out)
		}
	}
	return out
}

// ResizeFrame changes a frame's length and optionally its position. The
// result is clamped so the frame stays between its neighbours in the same
// layer: it cannot start before the previous frame ends and it is shortened
// to end where the next frame starts.
func (s *Session) ResizeFrame(sceneID, frameID string, newLength int, newFrameNumber *int) error {
	return s.mutate("resize_frame", SourceLocal, func() error {
		const op = "resize frame"
		if newLength < 1 {
			return Invalid(op, "length %d must be at least 1", newLength)
		}
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		l, idx := findFrame(sc, frameID)
		if l == nil {
			return NotFound(op, "frame", frameID)
		}

		f := &l.Frames[idx]
		num := f.FrameNumber
		if newFrameNumber != nil {
			num = max(*newFrameNumber, 0)
		}
		if idx > 0 {
			num = max(num, l.Frames[idx-1].End())
		}
		length := newLength
		if idx < len(l.Frames)-1 {
			next := l.Frames[idx+1]
			num = min(num, next.FrameNumber-1)
			length = min(length, next.FrameNumber-num)
		}
		f.FrameNumber = num
		f.Length = max(length, 1)
		return nil
	})
}

// DuplicateFrame clones the active layer's frame at n right after its held
// span and moves the cursor to the clone. Frames already occupying that slot
// are shifted later by the clone's length.
func (s *Session) DuplicateFrame(sceneID string, n int) (Frame, error) {
	var out Frame
	err := s.mutate("duplicate_frame", SourceLocal, func() error {
		const op = "duplicate frame"
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		l, err := s.activeLayer(op, sc)
		if err != nil {
			return err
		}
		i := l.FrameAt(n)
		if i < 0 {
			return NotFound(op, "frame at", strconv.Itoa(n))
		}
		src := l.Frames[i]
		clone := src.Clone()
		clone.ID = s.newID()
		clone.Length = max(src.Length, 1)
		clone.FrameNumber = src.End()

		for j := range l.Frames {
			if l.Frames[j].FrameNumber >= clone.FrameNumber {
				l.Frames[j].FrameNumber += clone.Length
			}
		}
		l.Frames = append(l.Frames, clone)
		sortFrames(l.Frames)
		s.currentFrame = clone.FrameNumber
		out = clone.Clone()
		return nil
	})
	return out, err
}

// DeleteFrame removes a frame. When it sat at the cursor, the cursor moves to
// the nearest preceding frame of the same layer, else the nearest following
// one, else 0, and the layer's live elements are reloaded from there.
func (s *Session) DeleteFrame(sceneID, frameID string) error {
	return s.mutate("delete_frame", SourceLocal, func() error {
		const op = "delete frame"
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		l, idx := findFrame(sc, frameID)
		if l == nil {
			return NotFound(op, "frame", frameID)
		}
		deleted := l.Frames[idx]
		l.Frames = slices.Delete(l.Frames, idx, idx+1)
		if deleted.FrameNumber != s.currentFrame {
			return nil
		}

		next := 0
		switch {
		case idx > 0:
			next = l.Frames[idx-1].FrameNumber
		case idx < len(l.Frames):
			next = l.Frames[idx].FrameNumber
		}
		s.currentFrame = next
		l.Elements = contentAt(sc, l, next, false)
		return nil
	})
}

// ClearFrames drops every captured frame of the scene. Live elements stay.
func (s *Session) ClearFrames(sceneID string) error {
	return s.mutate("clear_frames", SourceLocal, func() error {
		sc, err := s.scene("clear frames", sceneID)
		if err != nil {
			return err
		}
		for i := range sc.Layers {
			sc.Layers[i].Frames = []Frame{}
		}
		return nil
	})
}

// FramesWithContent returns copies of every frame of the scene holding at
// least one element, across all layers, sorted by frame number.
func (s *Session) FramesWithContent(sceneID string) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.scene("frames with content", sceneID)
	if err != nil {
		return nil, err
	}
	var out []Frame
	for _, l := range sc.Layers {
		for _, f := range l.Frames {
			if len(f.Elements) > 0 {
				out = append(out, f.Clone())
			}
		}
	}
	sortFrames(out)
	return out, nil
}

func findFrame(sc *Scene, frameID string) (*Layer, int) {
	for i := range sc.Layers {
		if j := sc.Layers[i].frameByID(frameID); j >= 0 {
			return &sc.Layers[i], j
		}
	}
	return nil, -1
}
