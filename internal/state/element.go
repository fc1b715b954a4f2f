package state

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ElementType is the coarse element tag carried on the wire.
type ElementType string

const (
	ElementShape   ElementType = "shape"
	ElementText    ElementType = "text"
	ElementDrawing ElementType = "drawing"
)

// ShapeKind identifies the concrete property variant. It is serialized as
// properties.shapeType.
type ShapeKind string

const (
	KindRectangle ShapeKind = "rectangle"
	KindCircle    ShapeKind = "circle"
	KindEllipse   ShapeKind = "ellipse"
	KindLine      ShapeKind = "line"
	KindStar      ShapeKind = "star"
	KindText      ShapeKind = "text"
	KindDrawing   ShapeKind = "drawing"
)

// Properties is the sealed set of element property variants. Only the types
// in this file implement it.
type Properties interface {
	Kind() ShapeKind
	ElementType() ElementType
	cloneProperties() Properties
}

// Paint is the fill and stroke styling shared by the closed shapes.
type Paint struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

type Rectangle struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	CornerRadius float64 `json:"cornerRadius,omitempty"`
	Paint
}

type Circle struct {
	Radius float64 `json:"radius"`
	Paint
}

type Ellipse struct {
	RadiusX float64 `json:"radiusX"`
	RadiusY float64 `json:"radiusY"`
	Paint
}

// Line is a polyline given as flat x,y pairs relative to the element position.
type Line struct {
	Points []float64 `json:"points"`
	Paint
}

type Star struct {
	NumPoints   int     `json:"numPoints"`
	InnerRadius float64 `json:"innerRadius"`
	OuterRadius float64 `json:"outerRadius"`
	Paint
}

type Text struct {
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
	Fill       string  `json:"fill"`
}

// WithDefaults fills empty text fields with the editor defaults.
func (p Text) WithDefaults() Text {
	if p.Text == "" {
		p.Text = "Text"
	}
	if p.FontSize <= 0 {
		p.FontSize = 24
	}
	if p.FontFamily == "" {
		p.FontFamily = "Arial"
	}
	if p.Fill == "" {
		p.Fill = "#000000"
	}
	return p
}

// Drawing is a freehand stroke: flat x,y pairs plus stroke styling.
type Drawing struct {
	Points      []float64 `json:"points"`
	Stroke      string    `json:"stroke"`
	StrokeWidth float64   `json:"strokeWidth"`
	Tension     float64   `json:"tension,omitempty"`
	LineCap     string    `json:"lineCap,omitempty"`
	LineJoin    string    `json:"lineJoin,omitempty"`
}

func (Rectangle) Kind() ShapeKind { return KindRectangle }
func (Circle) Kind() ShapeKind    { return KindCircle }
func (Ellipse) Kind() ShapeKind   { return KindEllipse }
func (Line) Kind() ShapeKind      { return KindLine }
func (Star) Kind() ShapeKind      { return KindStar }
func (Text) Kind() ShapeKind      { return KindText }
func (Drawing) Kind() ShapeKind   { return KindDrawing }

func (Rectangle) ElementType() ElementType { return ElementShape }
func (Circle) ElementType() ElementType    { return ElementShape }
func (Ellipse) ElementType() ElementType   { return ElementShape }
func (Line) ElementType() ElementType      { return ElementShape }
func (Star) ElementType() ElementType      { return ElementShape }
func (Text) ElementType() ElementType      { return ElementText }
func (Drawing) ElementType() ElementType   { return ElementDrawing }

func (p Rectangle) cloneProperties() Properties { return p }
func (p Circle) cloneProperties() Properties    { return p }
func (p Ellipse) cloneProperties() Properties   { return p }
func (p Star) cloneProperties() Properties      { return p }
func (p Text) cloneProperties() Properties      { return p }

func (p Line) cloneProperties() Properties {
	p.Points = slices.Clone(p.Points)
	return p
}

func (p Drawing) cloneProperties() Properties {
	p.Points = slices.Clone(p.Points)
	return p
}

// Element is a placed shape, text or drawing. Type always agrees with
// Properties.ElementType(); LayerType mirrors the owning layer's type.
type Element struct {
	ID         string
	Type       ElementType
	LayerType  LayerType
	Position   Point
	Rotation   float64
	Scale      Point
	Properties Properties
}

// NewElement builds an element draft with identity scale.
func NewElement(props Properties, pos Point) Element {
	return Element{
		Type:       props.ElementType(),
		Position:   pos,
		Scale:      Point{X: 1, Y: 1},
		Properties: props,
	}
}

func (e Element) Clone() Element {
	if e.Properties != nil {
		e.Properties = e.Properties.cloneProperties()
	}
	return e
}

// Validate checks the discriminants of an element draft.
func (e Element) Validate() error {
	if e.Properties == nil {
		return Invalid("element", "element has no properties")
	}
	if e.Type != e.Properties.ElementType() {
		return Invalid("element", "element type %q does not match %s properties", e.Type, e.Properties.Kind())
	}
	if e.LayerType != "" && !e.LayerType.Valid() {
		return Invalid("element", "unknown layer type %q", e.LayerType)
	}
	return nil
}

type wireElement struct {
	ID         string          `json:"id"`
	Type       ElementType     `json:"type"`
	LayerType  LayerType       `json:"layerType"`
	Position   Point           `json:"position"`
	Rotation   float64         `json:"rotation"`
	Scale      Point           `json:"scale"`
	Properties json.RawMessage `json:"properties"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	props, err := MarshalProperties(e.Properties)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireElement{
		ID:         e.ID,
		Type:       e.Type,
		LayerType:  e.LayerType,
		Position:   e.Position,
		Rotation:   e.Rotation,
		Scale:      e.Scale,
		Properties: props,
	})
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var w wireElement
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	props, err := UnmarshalProperties(w.Type, w.Properties)
	if err != nil {
		return err
	}
	if w.LayerType != "" && !w.LayerType.Valid() {
		return Invalid("decode element", "unknown layer type %q", w.LayerType)
	}
	*e = Element{
		ID:         w.ID,
		Type:       w.Type,
		LayerType:  w.LayerType,
		Position:   w.Position,
		Rotation:   w.Rotation,
		Scale:      w.Scale,
		Properties: props,
	}
	return nil
}

// MarshalProperties encodes a variant with its shapeType discriminant.
func MarshalProperties(p Properties) (json.RawMessage, error) {
	switch v := p.(type) {
	case Rectangle:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Rectangle
		}{KindRectangle, v})
	case Circle:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Circle
		}{KindCircle, v})
	case Ellipse:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Ellipse
		}{KindEllipse, v})
	case Line:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Line
		}{KindLine, v})
	case Star:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Star
		}{KindStar, v})
	case Text:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Text
		}{KindText, v})
	case Drawing:
		return json.Marshal(struct {
			ShapeType ShapeKind `json:"shapeType"`
			Drawing
		}{KindDrawing, v})
	case nil:
		return nil, Invalid("encode element", "element has no properties")
	default:
		return nil, Invalid("encode element", "unsupported properties %T", p)
	}
}

// UnmarshalProperties decodes the property bag selected by the element type
// and properties.shapeType. Unknown discriminants are a validation error.
func UnmarshalProperties(typ ElementType, data json.RawMessage) (Properties, error) {
	const op = "decode element"
	if len(data) == 0 || string(data) == "null" {
		return nil, Invalid(op, "element of type %q has no properties", typ)
	}
	var probe struct {
		ShapeType ShapeKind `json:"shapeType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, Invalid(op, "properties: %v", err)
	}

	switch typ {
	case ElementText:
		return decodeVariant[Text](data)
	case ElementDrawing:
		return decodeVariant[Drawing](data)
	case ElementShape:
		switch probe.ShapeType {
		case KindRectangle:
			return decodeVariant[Rectangle](data)
		case KindCircle:
			return decodeVariant[Circle](data)
		case KindEllipse:
			return decodeVariant[Ellipse](data)
		case KindLine:
			return decodeVariant[Line](data)
		case KindStar:
			return decodeVariant[Star](data)
		default:
			return nil, Invalid(op, "unknown shapeType %q", probe.ShapeType)
		}
	default:
		return nil, Invalid(op, "unknown element type %q", typ)
	}
}

func decodeVariant[T Properties](data json.RawMessage) (Properties, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, Invalid("decode element", "%s properties: %v", v.Kind(), err)
	}
	return v, nil
}

// ElementPatch is a partial element update. Nil fields are left unchanged.
// Properties, when set, must be of the element's existing type.
type ElementPatch struct {
	Position   *Point
	Rotation   *float64
	Scale      *Point
	Properties Properties
}

func (p ElementPatch) apply(e *Element) error {
	if p.Properties != nil && p.Properties.ElementType() != e.Type {
		return Invalid("update element", "cannot change %s element to %s", e.Type, p.Properties.Kind())
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Rotation != nil {
		e.Rotation = *p.Rotation
	}
	if p.Scale != nil {
		e.Scale = *p.Scale
	}
	if p.Properties != nil {
		e.Properties = p.Properties.cloneProperties()
	}
	return nil
}

func (e Element) String() string {
	kind := ShapeKind("?")
	if e.Properties != nil {
		kind = e.Properties.Kind()
	}
	return fmt.Sprintf("%s(%s@%.0f,%.0f)", kind, e.ID, e.Position.X, e.Position.Y)
}
