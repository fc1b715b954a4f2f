package state

import (
	"encoding/json"
)

// Snapshot is the full replicated state exchanged between participants.
type Snapshot struct {
	CurrentProject *Project `json:"currentProject"`
	Scenes         []Scene  `json:"scenes"`
	ActiveScene    *Scene   `json:"activeScene"`
	CurrentFrame   int      `json:"currentFrame"`
	IsPlaying      bool     `json:"isPlaying"`
	ActiveLayer    string   `json:"activeLayer"`
	Origin         *Origin  `json:"origin,omitempty"`
}

func (snap Snapshot) Clone() Snapshot {
	out := snap
	if snap.CurrentProject != nil {
		out.CurrentProject = snap.CurrentProject.Clone()
	}
	if snap.Scenes != nil {
		out.Scenes = make([]Scene, len(snap.Scenes))
		for i, sc := range snap.Scenes {
			out.Scenes[i] = sc.Clone()
		}
	}
	if snap.ActiveScene != nil {
		active := snap.ActiveScene.Clone()
		out.ActiveScene = &active
	}
	if snap.Origin != nil {
		o := *snap.Origin
		out.Origin = &o
	}
	return out
}

// Layer finds a layer of the active scene in the snapshot.
func (snap Snapshot) Layer(layerID string) (Layer, bool) {
	if snap.ActiveScene != nil {
		if l := snap.ActiveScene.Layer(layerID); l != nil {
			return *l, true
		}
	}
	for i := range snap.Scenes {
		if l := snap.Scenes[i].Layer(layerID); l != nil {
			return *l, true
		}
	}
	return Layer{}, false
}

// CurrentLayer returns the active layer of the active scene, if any.
func (snap Snapshot) CurrentLayer() (Layer, bool) {
	if snap.ActiveScene == nil || snap.ActiveLayer == "" {
		return Layer{}, false
	}
	l := snap.ActiveScene.Layer(snap.ActiveLayer)
	if l == nil {
		return Layer{}, false
	}
	return *l, true
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Scenes:       make([]Scene, len(s.scenes)),
		CurrentFrame: s.currentFrame,
		IsPlaying:    s.playing,
		ActiveLayer:  s.activeLayerID,
	}
	if s.project != nil {
		snap.CurrentProject = s.project.Clone()
	}
	for i, sc := range s.scenes {
		snap.Scenes[i] = sc.Clone()
		if sc.ID == s.activeSceneID {
			active := sc.Clone()
			snap.ActiveScene = &active
		}
	}
	if s.origin != nil {
		o := *s.origin
		snap.Origin = &o
	}
	return snap
}

// Origin returns the tag of the last snapshot applied or merged, if any.
func (s *Session) Origin() (Origin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.origin == nil {
		return Origin{}, false
	}
	return *s.origin, true
}

// SetOrigin stamps the state with the tag of the participant that produced it.
func (s *Session) SetOrigin(o Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = &o
}

// Apply overwrites the whole state with a snapshot received from another
// participant. Listeners see it as a remote change.
func (s *Session) Apply(snap Snapshot) error {
	return s.mutate("apply_snapshot", SourceRemote, func() error {
		if err := validateScenes(snap.Scenes); err != nil {
			return err
		}
		if snap.CurrentProject != nil {
			s.project = snap.CurrentProject.Clone()
		} else {
			s.project = nil
		}
		s.scenes = make([]Scene, len(snap.Scenes))
		for i, sc := range snap.Scenes {
			s.scenes[i] = sc.Clone()
		}
		s.currentFrame = max(snap.CurrentFrame, 0)
		s.playing = snap.IsPlaying
		s.activeLayerID = snap.ActiveLayer
		s.activeSceneID = ""
		if snap.ActiveScene != nil {
			s.activeSceneID = snap.ActiveScene.ID
		}
		if snap.Origin != nil {
			o := *snap.Origin
			s.origin = &o
		}
		s.normalizeLocked()
		return nil
	})
}

// StatePatch is a partial update_state payload. Only fields present in the
// JSON overwrite state; "projects" is accepted as an alias of currentProject.
type StatePatch struct {
	CurrentProject *Project
	HasProject     bool
	Scenes         []Scene
	HasScenes      bool
	CurrentFrame   *int
	IsPlaying      *bool
	ActiveLayer    *string
	Origin         *Origin
}

func (p *StatePatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Invalid("decode state", "%v", err)
	}
	*p = StatePatch{}
	project, ok := raw["currentProject"]
	if !ok {
		project, ok = raw["projects"]
	}
	if ok {
		p.HasProject = true
		if err := json.Unmarshal(project, &p.CurrentProject); err != nil {
			return Invalid("decode state", "currentProject: %v", err)
		}
	}
	if scenes, ok := raw["scenes"]; ok {
		p.HasScenes = true
		if err := json.Unmarshal(scenes, &p.Scenes); err != nil {
			if IsValidation(err) {
				return err
			}
			return Invalid("decode state", "scenes: %v", err)
		}
	}
	fields := []struct {
		key string
		dst any
	}{
		{"currentFrame", &p.CurrentFrame},
		{"isPlaying", &p.IsPlaying},
		{"activeLayer", &p.ActiveLayer},
		{"origin", &p.Origin},
	}
	for _, f := range fields {
		if v, ok := raw[f.key]; ok {
			if err := json.Unmarshal(v, f.dst); err != nil {
				return Invalid("decode state", "%s: %v", f.key, err)
			}
		}
	}
	return nil
}

// Merge applies a partial state shallowly: present fields overwrite, the rest
// is kept. Afterwards layer defaults are filled in, the active scene follows
// the scenes' active flag and the active layer falls back to the first layer
// of the active scene.
func (s *Session) Merge(p StatePatch) error {
	return s.mutate("merge_state", SourceRemote, func() error {
		if p.HasScenes {
			if err := validateScenes(p.Scenes); err != nil {
				return err
			}
		}
		if p.CurrentFrame != nil && *p.CurrentFrame < 0 {
			return Invalid("merge state", "frame %d is negative", *p.CurrentFrame)
		}
		if p.HasProject {
			s.project = nil
			if p.CurrentProject != nil {
				s.project = p.CurrentProject.Clone()
			}
		}
		if p.HasScenes {
			s.scenes = make([]Scene, len(p.Scenes))
			for i, sc := range p.Scenes {
				s.scenes[i] = sc.Clone()
			}
			s.activeSceneID = ""
			for _, sc := range s.scenes {
				if sc.Active {
					s.activeSceneID = sc.ID
					break
				}
			}
		}
		if p.CurrentFrame != nil {
			s.currentFrame = *p.CurrentFrame
		}
		if p.IsPlaying != nil {
			s.playing = *p.IsPlaying
		}
		if p.ActiveLayer != nil {
			s.activeLayerID = *p.ActiveLayer
		}
		if p.Origin != nil {
			o := *p.Origin
			s.origin = &o
		}
		s.normalizeLocked()
		return nil
	})
}

// normalizeLocked restores the invariants a foreign snapshot may not honour.
func (s *Session) normalizeLocked() {
	if s.activeSceneID != "" {
		if _, err := s.scene("", s.activeSceneID); err != nil {
			s.activeSceneID = ""
		}
	}
	if s.activeSceneID == "" {
		for _, sc := range s.scenes {
			if sc.Active {
				s.activeSceneID = sc.ID
				break
			}
		}
	}
	for i := range s.scenes {
		sc := &s.scenes[i]
		sc.Active = sc.ID == s.activeSceneID
		for j := range sc.Layers {
			l := &sc.Layers[j]
			if l.Elements == nil {
				l.Elements = []Element{}
			}
			if l.Frames == nil {
				l.Frames = []Frame{}
			}
			normalizeFrames(l)
		}
	}
	if sc := s.activeSceneLocked(); sc != nil {
		if s.activeLayerID == "" || sc.Layer(s.activeLayerID) == nil {
			s.activeLayerID = ""
			if len(sc.Layers) > 0 {
				s.activeLayerID = sc.Layers[0].ID
			}
		}
	}
}

// normalizeFrames sorts frames, drops duplicate frame numbers (the later
// entry wins) and fixes lengths below one.
func normalizeFrames(l *Layer) {
	sortFrames(l.Frames)
	out := l.Frames[:0]
	for _, f := range l.Frames {
		f.Length = max(f.Length, 1)
		if n := len(out); n > 0 && out[n-1].FrameNumber == f.FrameNumber {
			out[n-1] = f
			continue
		}
		out = append(out, f)
	}
	l.Frames = out
}

func validateScenes(scenes []Scene) error {
	for _, sc := range scenes {
		for _, l := range sc.Layers {
			if !l.Type.Valid() {
				return Invalid("validate state", "layer %s has unknown type %q", l.ID, l.Type)
			}
			for _, e := range l.Elements {
				if err := e.Validate(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
