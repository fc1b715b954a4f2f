package state

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source tells listeners whether a change came from a local mutation or from
// a snapshot applied on behalf of another participant.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// Change describes one committed mutation.
type Change struct {
	Op     string
	Source Source
}

type listener struct {
	id int
	fn func(Change)
}

// Session is one participant's authoritative animation state: project,
// scenes, active scene and layer, timeline cursor and playback flag. Every
// operation is atomic; listeners run after the lock is released.
type Session struct {
	mu sync.RWMutex

	project       *Project
	scenes        []Scene
	activeSceneID string
	activeLayerID string
	currentFrame  int
	playing       bool
	selectedID    string
	origin        *Origin

	listeners  []listener
	nextListen int

	newID func() string
	now   func() time.Time
	log   *slog.Logger
}

type Option func(*Session)

// WithIDGenerator overrides uuid-based identity, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

func WithNow(fn func() time.Time) Option {
	return func(s *Session) { s.now = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func NewSession(opts ...Option) *Session {
	s := &Session{
		newID: uuid.NewString,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *Session) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListen++
	id := s.nextListen
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}

// mutate runs fn under the write lock and notifies listeners on success.
func (s *Session) mutate(op string, src Source, fn func() error) error {
	s.mu.Lock()
	err := fn()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("mutation rejected", "op", op, "err", err)
		return err
	}
	change := Change{Op: op, Source: src}
	for _, l := range ls {
		l.fn(change)
	}
	return nil
}

func (s *Session) scene(op, id string) (*Scene, error) {
	for i := range s.scenes {
		if s.scenes[i].ID == id {
			return &s.scenes[i], nil
		}
	}
	return nil, NotFound(op, "scene", id)
}

func (s *Session) sceneLayer(op, sceneID, layerID string) (*Scene, *Layer, error) {
	sc, err := s.scene(op, sceneID)
	if err != nil {
		return nil, nil, err
	}
	l := sc.Layer(layerID)
	if l == nil {
		return nil, nil, NotFound(op, "layer", layerID)
	}
	return sc, l, nil
}

func (s *Session) activeLayer(op string, sc *Scene) (*Layer, error) {
	if s.activeLayerID == "" {
		return nil, NotFound(op, "active layer", "(none)")
	}
	l := sc.Layer(s.activeLayerID)
	if l == nil {
		return nil, NotFound(op, "layer", s.activeLayerID)
	}
	return l, nil
}

// CreateProject starts a project with a default scene "Scene 1".
func (s *Session) CreateProject(name string, settings ProjectSettings) Project {
	var p Project
	_ = s.mutate("create_project", SourceLocal, func() error {
		now := s.now()
		p = Project{ID: s.newID(), Name: name, Settings: settings, Created: now, LastModified: now}
		s.project = &p
		s.createSceneLocked("Scene 1")
		return nil
	})
	return p
}

// UpdateProjectSettings merges non-zero fields of patch into the settings.
func (s *Session) UpdateProjectSettings(patch ProjectSettings) error {
	return s.mutate("update_project_settings", SourceLocal, func() error {
		if s.project == nil {
			return NotFound("update project settings", "project", "(none)")
		}
		if patch.Width < 0 || patch.Height < 0 || patch.FPS < 0 || patch.Duration < 0 {
			return Invalid("update project settings", "settings must not be negative")
		}
		ps := &s.project.Settings
		if patch.Width > 0 {
			ps.Width = patch.Width
		}
		if patch.Height > 0 {
			ps.Height = patch.Height
		}
		if patch.FPS > 0 {
			ps.FPS = patch.FPS
		}
		if patch.Duration > 0 {
			ps.Duration = patch.Duration
		}
		s.project.LastModified = s.now()
		return nil
	})
}

// CreateScene appends a scene with one empty midground layer, makes it the
// active scene and its layer the active layer.
func (s *Session) CreateScene(name string) Scene {
	var sc Scene
	_ = s.mutate("create_scene", SourceLocal, func() error {
		sc = s.createSceneLocked(name).Clone()
		return nil
	})
	return sc
}

func (s *Session) createSceneLocked(name string) *Scene {
	layer := s.newLayer("Untitled", LayerMidground, 0)
	for i := range s.scenes {
		s.scenes[i].Active = false
	}
	s.scenes = append(s.scenes, Scene{
		ID:     s.newID(),
		Name:   name,
		Layers: []Layer{layer},
		Active: true,
	})
	sc := &s.scenes[len(s.scenes)-1]
	s.activeSceneID = sc.ID
	s.activeLayerID = layer.ID
	return sc
}

func (s *Session) newLayer(name string, typ LayerType, z int) Layer {
	return Layer{
		ID:       s.newID(),
		Name:     name,
		Type:     typ,
		Visible:  true,
		Opacity:  1,
		ZIndex:   z,
		Elements: []Element{},
		Frames:   []Frame{},
	}
}

// SetActiveScene makes sceneID the single active scene.
func (s *Session) SetActiveScene(sceneID string) error {
	return s.mutate("set_active_scene", SourceLocal, func() error {
		if _, err := s.scene("set active scene", sceneID); err != nil {
			return err
		}
		for i := range s.scenes {
			s.scenes[i].Active = s.scenes[i].ID == sceneID
		}
		s.activeSceneID = sceneID
		return nil
	})
}

// RemoveScene deletes a scene. Removing the active scene activates the first
// remaining one.
func (s *Session) RemoveScene(sceneID string) error {
	return s.mutate("remove_scene", SourceLocal, func() error {
		if _, err := s.scene("remove scene", sceneID); err != nil {
			return err
		}
		s.scenes = slices.DeleteFunc(s.scenes, func(sc Scene) bool { return sc.ID == sceneID })
		if s.activeSceneID == sceneID {
			s.activeSceneID = ""
			s.activeLayerID = ""
			if len(s.scenes) > 0 {
				s.scenes[0].Active = true
				s.activeSceneID = s.scenes[0].ID
				if len(s.scenes[0].Layers) > 0 {
					s.activeLayerID = s.scenes[0].Layers[0].ID
				}
			}
		}
		return nil
	})
}

// CreateLayer appends a layer with zIndex equal to the current layer count.
// The new layer becomes active when no layer is active yet.
func (s *Session) CreateLayer(sceneID, name string, typ LayerType) (Layer, error) {
	var out Layer
	err := s.mutate("create_layer", SourceLocal, func() error {
		const op = "create layer"
		if !typ.Valid() {
			return Invalid(op, "unknown layer type %q", typ)
		}
		sc, err := s.scene(op, sceneID)
		if err != nil {
			return err
		}
		l := s.newLayer(name, typ, len(sc.Layers))
		sc.Layers = append(sc.Layers, l)
		if s.activeLayerID == "" {
			s.activeLayerID = l.ID
		}
		out = l.Clone()
		return nil
	})
	return out, err
}

// RemoveLayer drops the layer with its frames and elements. Surviving zIndex
// values are left as they are.
func (s *Session) RemoveLayer(sceneID, layerID string) error {
	return s.mutate("remove_layer", SourceLocal, func() error {
		sc, _, err := s.sceneLayer("remove layer", sceneID, layerID)
		if err != nil {
			return err
		}
		sc.Layers = slices.DeleteFunc(sc.Layers, func(l Layer) bool { return l.ID == layerID })
		if s.activeLayerID == layerID {
			s.activeLayerID = ""
		}
		return nil
	})
}

// LayerPatch carries layer flag edits. Nil fields are unchanged.
type LayerPatch struct {
	Name    *string
	Visible *bool
	Locked  *bool
	Opacity *float64
}

func (s *Session) UpdateLayer(sceneID, layerID string, patch LayerPatch) error {
	return s.mutate("update_layer", SourceLocal, func() error {
		const op = "update layer"
		_, l, err := s.sceneLayer(op, sceneID, layerID)
		if err != nil {
			return err
		}
		if patch.Opacity != nil && (*patch.Opacity < 0 || *patch.Opacity > 1) {
			return Invalid(op, "opacity %v out of range [0,1]", *patch.Opacity)
		}
		if patch.Name != nil {
			l.Name = *patch.Name
		}
		if patch.Visible != nil {
			l.Visible = *patch.Visible
		}
		if patch.Locked != nil {
			l.Locked = *patch.Locked
		}
		if patch.Opacity != nil {
			l.Opacity = *patch.Opacity
		}
		return nil
	})
}

// ReorderLayers puts the scene's layers in the given order and reassigns
// zIndex by position. Unknown ids are ignored; layers left out are dropped
// from the ordering and appended after the listed ones.
func (s *Session) ReorderLayers(sceneID string, layerIDs []string) error {
	return s.mutate("reorder_layers", SourceLocal, func() error {
		sc, err := s.scene("reorder layers", sceneID)
		if err != nil {
			return err
		}
		ordered := make([]Layer, 0, len(sc.Layers))
		for _, id := range layerIDs {
			if l := sc.Layer(id); l != nil && !slices.ContainsFunc(ordered, func(o Layer) bool { return o.ID == id }) {
				ordered = append(ordered, *l)
			}
		}
		for _, l := range sc.Layers {
			if !slices.ContainsFunc(ordered, func(o Layer) bool { return o.ID == l.ID }) {
				ordered = append(ordered, l)
			}
		}
		for i := range ordered {
			ordered[i].ZIndex = i
		}
		sc.Layers = ordered
		return nil
	})
}

// ActivateLayer sets the layer targeted by capture and frame operations.
func (s *Session) ActivateLayer(sceneID, layerID string) (Layer, error) {
	var out Layer
	err := s.mutate("activate_layer", SourceLocal, func() error {
		_, l, err := s.sceneLayer("activate layer", sceneID, layerID)
		if err != nil {
			return err
		}
		s.activeLayerID = layerID
		out = l.Clone()
		return nil
	})
	return out, err
}

// AddElement appends a copy of draft to the layer's live elements and
// re-derives the layer's frame at the cursor. It returns the new element id.
func (s *Session) AddElement(sceneID, layerID string, draft Element) (string, error) {
	var id string
	err := s.mutate("add_element", SourceLocal, func() error {
		var err error
		id, err = s.addElementLocked("add element", sceneID, layerID, draft)
		return err
	})
	return id, err
}

// AddElementAt moves the cursor to frameNumber and adds the element there.
// The cursor is left unchanged when the element is rejected.
func (s *Session) AddElementAt(sceneID, layerID string, frameNumber int, draft Element) (string, error) {
	var id string
	err := s.mutate("add_element", SourceLocal, func() error {
		const op = "add element"
		if frameNumber < 0 {
			return Invalid(op, "frame %d is negative", frameNumber)
		}
		prev := s.currentFrame
		s.currentFrame = frameNumber
		var err error
		if id, err = s.addElementLocked(op, sceneID, layerID, draft); err != nil {
			s.currentFrame = prev
		}
		return err
	})
	return id, err
}

func (s *Session) addElementLocked(op, sceneID, layerID string, draft Element) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	_, l, err := s.sceneLayer(op, sceneID, layerID)
	if err != nil {
		return "", err
	}
	el := draft.Clone()
	el.ID = s.newID()
	el.LayerType = l.Type
	if el.Scale == (Point{}) {
		el.Scale = Point{X: 1, Y: 1}
	}
	l.Elements = append(l.Elements, el)
	s.recomputeFrame(l, s.currentFrame)
	return el.ID, nil
}

// UpdateElement merges patch into a live element and re-derives the cursor
// frame. Unknown scene, layer or element ids are reported as NotFound.
func (s *Session) UpdateElement(sceneID, layerID, elementID string, patch ElementPatch) error {
	return s.mutate("update_element", SourceLocal, func() error {
		const op = "update element"
		_, l, err := s.sceneLayer(op, sceneID, layerID)
		if err != nil {
			return err
		}
		i := l.elementIndex(elementID)
		if i < 0 {
			return NotFound(op, "element", elementID)
		}
		el := l.Elements[i]
		if err := patch.apply(&el); err != nil {
			return err
		}
		l.Elements[i] = el
		s.recomputeFrame(l, s.currentFrame)
		return nil
	})
}

// RemoveElement deletes a live element and clears a selection pointing at it.
// Only an existing frame at the cursor is re-derived; other captured frames
// keep the element.
func (s *Session) RemoveElement(sceneID, layerID, elementID string) error {
	return s.mutate("remove_element", SourceLocal, func() error {
		const op = "remove element"
		_, l, err := s.sceneLayer(op, sceneID, layerID)
		if err != nil {
			return err
		}
		i := l.elementIndex(elementID)
		if i < 0 {
			return NotFound(op, "element", elementID)
		}
		l.Elements = slices.Delete(l.Elements, i, i+1)
		if s.selectedID == elementID {
			s.selectedID = ""
		}
		if l.FrameAt(s.currentFrame) >= 0 {
			s.recomputeFrame(l, s.currentFrame)
		}
		return nil
	})
}

// SelectElement marks an element as selected. An empty id clears the selection.
func (s *Session) SelectElement(elementID string) {
	_ = s.mutate("select_element", SourceLocal, func() error {
		s.selectedID = elementID
		return nil
	})
}

func (s *Session) SelectedElement() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// recomputeFrame rebuilds l's frame at n from live state: captured elements
// of other layer types are kept, this layer's type is replaced by the full
// live list.
func (s *Session) recomputeFrame(l *Layer, n int) {
	f := Frame{FrameNumber: n, Length: 1}
	var kept []Element
	if i := l.FrameAt(n); i >= 0 {
		f.ID = l.Frames[i].ID
		f.Length = max(l.Frames[i].Length, 1)
		for _, e := range l.Frames[i].Elements {
			if e.LayerType != l.Type {
				kept = append(kept, e.Clone())
			}
		}
	} else {
		f.ID = s.newID()
	}
	f.Elements = append(kept, cloneElements(l.Elements)...)
	l.upsertFrame(f)
}

// ActiveScene returns a copy of the active scene.
func (s *Session) ActiveScene() (Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.activeSceneLocked()
	if sc == nil {
		return Scene{}, false
	}
	return sc.Clone(), true
}

func (s *Session) activeSceneLocked() *Scene {
	for i := range s.scenes {
		if s.scenes[i].ID == s.activeSceneID {
			return &s.scenes[i]
		}
	}
	return nil
}

// Scene returns a copy of a scene by id.
func (s *Session) Scene(sceneID string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.scene("get scene", sceneID)
	if err != nil {
		return Scene{}, err
	}
	return sc.Clone(), nil
}

// CurrentLayer returns a copy of the active layer of the active scene.
func (s *Session) CurrentLayer() (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.activeSceneLocked()
	if sc == nil || s.activeLayerID == "" {
		return Layer{}, false
	}
	l := sc.Layer(s.activeLayerID)
	if l == nil {
		return Layer{}, false
	}
	return l.Clone(), true
}

func (s *Session) ActiveLayerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLayerID
}

func (s *Session) Project() (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return Project{}, false
	}
	return *s.project, true
}

func (s *Session) CurrentFrame() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFrame
}

func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// SetCurrentFrame moves the cursor without touching any content.
func (s *Session) SetCurrentFrame(n int) error {
	return s.mutate("set_current_frame", SourceLocal, func() error {
		if n < 0 {
			return Invalid("set current frame", "frame %d is negative", n)
		}
		s.currentFrame = n
		return nil
	})
}

func (s *Session) SetPlaying(playing bool) {
	_ = s.mutate("set_playing", SourceLocal, func() error {
		s.playing = playing
		return nil
	})
}
