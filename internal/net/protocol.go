package net

import (
	"encoding/json"
	"fmt"

	"LocalAnimator/internal/state"
)

// Event names carried in Envelope.Event.
const (
	EventStateUpdate    = "state_update"
	EventRequestState   = "request_state"
	EventUpdateState    = "update_state"
	EventCreateElement  = "create_element"
	EventElementCreated = "element_created"
	EventCaptureFrame   = "capture_frame"
	EventFrameCaptured  = "frame_captured"
	EventCreateLayer    = "create_layer"
	EventLayerCreated   = "layer_created"
	EventActivateLayer  = "activate_layer"
	EventLayerActivated = "layer_activated"
	EventRemoveElement  = "remove_element"
	EventElementRemoved = "element_removed"
	EventError          = "error"
)

// Envelope is one websocket message. ID correlates a reply with its request
// and is echoed unchanged; broadcasts carry no ID.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event, id string, data any) ([]byte, error) {
	env := Envelope{Event: event, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, state.Invalid("decode message", "%v", err)
	}
	if env.Event == "" {
		return Envelope{}, state.Invalid("decode message", "missing event")
	}
	return env, nil
}

// Reply is the common part of every command reply.
type Reply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func failure(err error) Reply {
	return Reply{Success: false, Message: err.Error()}
}

// CreateElementRequest mirrors the element draft fields on the wire. When
// FrameNumber is set the relay moves its cursor there before adding.
type CreateElementRequest struct {
	SceneID     string            `json:"sceneId"`
	LayerID     string            `json:"layerId"`
	FrameNumber *int              `json:"frameNumber,omitempty"`
	Type        state.ElementType `json:"type"`
	LayerType   state.LayerType   `json:"layerType,omitempty"`
	Position    state.Point       `json:"position"`
	Rotation    float64           `json:"rotation,omitempty"`
	Scale       *state.Point      `json:"scale,omitempty"`
	Properties  json.RawMessage   `json:"properties"`
}

// NewCreateElementRequest flattens a draft element for the wire.
func NewCreateElementRequest(sceneID, layerID string, el state.Element) (CreateElementRequest, error) {
	props, err := state.MarshalProperties(el.Properties)
	if err != nil {
		return CreateElementRequest{}, err
	}
	req := CreateElementRequest{
		SceneID:    sceneID,
		LayerID:    layerID,
		Type:       el.Type,
		LayerType:  el.LayerType,
		Position:   el.Position,
		Rotation:   el.Rotation,
		Properties: props,
	}
	if el.Scale != (state.Point{}) {
		scale := el.Scale
		req.Scale = &scale
	}
	return req, nil
}

// Draft decodes the request into an element draft. Text elements get the
// editor's text defaults for missing fields.
func (r CreateElementRequest) Draft() (state.Element, error) {
	props, err := state.UnmarshalProperties(r.Type, r.Properties)
	if err != nil {
		return state.Element{}, err
	}
	if t, ok := props.(state.Text); ok {
		props = t.WithDefaults()
	}
	el := state.NewElement(props, r.Position)
	el.Rotation = r.Rotation
	el.LayerType = r.LayerType
	if r.Scale != nil {
		el.Scale = *r.Scale
	}
	return el, el.Validate()
}

type ElementReply struct {
	Reply
	Element *state.Element `json:"element,omitempty"`
}

type CaptureFrameRequest struct {
	SceneID     string `json:"sceneId"`
	FrameNumber *int   `json:"frameNumber,omitempty"`
}

type FrameReply struct {
	Reply
	FrameNumber *int         `json:"frameNumber,omitempty"`
	Scene       *state.Scene `json:"scene,omitempty"`
}

type CreateLayerRequest struct {
	SceneID string          `json:"sceneId"`
	Name    string          `json:"name"`
	Type    state.LayerType `json:"type"`
}

type ActivateLayerRequest struct {
	SceneID string `json:"sceneId"`
	LayerID string `json:"layerId"`
}

type LayerReply struct {
	Reply
	Layer *state.Layer `json:"layer,omitempty"`
}

type RemoveElementRequest struct {
	SceneID   string `json:"sceneId"`
	LayerID   string `json:"layerId"`
	ElementID string `json:"elementId"`
}
