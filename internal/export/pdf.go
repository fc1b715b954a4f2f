// Package export renders a scene's captured frames as a PDF storyboard.
package export

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"LocalAnimator/internal/state"
)

type Options struct {
	Columns int
	Rows    int
	Title   string
	// Link, when set, is printed as a QR code in each page header; the
	// relay share URL is the usual value.
	Link string
}

func (o Options) withDefaults() Options {
	if o.Columns <= 0 {
		o.Columns = 3
	}
	if o.Rows <= 0 {
		o.Rows = 2
	}
	return o
}

const (
	margin   = 10.0
	gutter   = 6.0
	labelH   = 6.0
	headerH  = 10.0
	fontName = "Helvetica"
	qrImage  = "share-qr"
)

// Storyboard writes the active scene of snap to w.
func Storyboard(w io.Writer, snap state.Snapshot, opts Options) error {
	pdf, err := build(snap, opts)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

// StoryboardFile writes the storyboard to path.
func StoryboardFile(path string, snap state.Snapshot, opts Options) error {
	pdf, err := build(snap, opts)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(path)
}

func build(snap state.Snapshot, opts Options) (*gofpdf.Fpdf, error) {
	const op = "export storyboard"
	if snap.ActiveScene == nil {
		return nil, state.Invalid(op, "no active scene")
	}
	sc := *snap.ActiveScene
	frames := Frames(sc)
	if len(frames) == 0 {
		return nil, state.Invalid(op, "scene %q has no captured frames", sc.Name)
	}
	opts = opts.withDefaults()
	settings := state.DefaultSettings()
	if snap.CurrentProject != nil {
		settings = snap.CurrentProject.Settings
	}
	if opts.Title == "" {
		opts.Title = sc.Name
		if snap.CurrentProject != nil {
			opts.Title = snap.CurrentProject.Name + " / " + sc.Name
		}
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(opts.Title, true)
	pdf.SetCreator("LocalAnimator", true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)

	pageW, pageH := pdf.GetPageSize()
	cellW := (pageW - 2*margin - float64(opts.Columns-1)*gutter) / float64(opts.Columns)
	cellH := (pageH - 2*margin - headerH - float64(opts.Rows-1)*gutter) / float64(opts.Rows)
	// Fit the canvas aspect ratio inside the cell, leaving room for the label.
	scale := math.Min(cellW/float64(max(settings.Width, 1)), (cellH-labelH)/float64(max(settings.Height, 1)))
	panelW, panelH := float64(settings.Width)*scale, float64(settings.Height)*scale

	if opts.Link != "" {
		png, err := qrcode.Encode(opts.Link, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("%s: qr code: %w", op, err)
		}
		pdf.RegisterImageOptionsReader(qrImage, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	}

	perPage := opts.Columns * opts.Rows
	for i, n := range frames {
		slot := i % perPage
		if slot == 0 {
			pdf.AddPage()
			pdf.SetFont(fontName, "B", 12)
			pdf.SetTextColor(0, 0, 0)
			pdf.CellFormat(0, headerH-2, opts.Title, "", 0, "L", false, 0, "")
			if opts.Link != "" {
				side := headerH - 1
				pdf.ImageOptions(qrImage, pageW-margin-side, margin-1, side, side, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, opts.Link)
			}
		}
		col, row := slot%opts.Columns, slot/opts.Columns
		x := margin + float64(col)*(cellW+gutter)
		y := margin + headerH + float64(row)*(cellH+gutter)
		panel(pdf, sc, n, x, y, panelW, panelH, scale, settings.FPS)
	}
	return pdf, pdf.Error()
}

// Frames lists the frame numbers captured in any layer of the scene, ascending.
func Frames(sc state.Scene) []int {
	var out []int
	for _, l := range sc.Layers {
		for _, f := range l.Frames {
			out = append(out, f.FrameNumber)
		}
	}
	sort.Ints(out)
	return slices.Compact(out)
}

// Content returns what is on screen at frame n: each visible layer's own
// elements from the frame holding n, bottom layer first.
func Content(sc state.Scene, n int) []state.Element {
	layers := slices.Clone(sc.Layers)
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].ZIndex < layers[j].ZIndex })
	var out []state.Element
	for _, l := range layers {
		if !l.Visible {
			continue
		}
		for _, f := range l.Frames {
			if !f.Holds(n) {
				continue
			}
			for _, e := range f.Elements {
				if e.LayerType == l.Type {
					out = append(out, e)
				}
			}
			break
		}
	}
	return out
}

func panel(pdf *gofpdf.Fpdf, sc state.Scene, n int, x, y, w, h, scale float64, fps int) {
	pdf.SetDrawColor(160, 160, 160)
	pdf.SetLineWidth(0.2)
	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(x, y, w, h, "FD")

	pdf.ClipRect(x, y, w, h, false)
	layers := map[state.LayerType]float64{}
	for _, l := range sc.Layers {
		layers[l.Type] = l.Opacity
	}
	for _, e := range Content(sc, n) {
		alpha := 1.0
		if o, ok := layers[e.LayerType]; ok && o > 0 {
			alpha = o
		}
		pdf.SetAlpha(alpha, "Normal")
		draw(pdf, e, x, y, scale)
	}
	pdf.SetAlpha(1, "Normal")
	pdf.ClipEnd()

	label := fmt.Sprintf("Frame %d", n)
	if fps > 0 {
		label += fmt.Sprintf("  (%.2fs)", float64(n)/float64(fps))
	}
	pdf.SetFont(fontName, "", 8)
	pdf.SetTextColor(60, 60, 60)
	pdf.Text(x, y+h+labelH-2, label)
}

func draw(pdf *gofpdf.Fpdf, e state.Element, ox, oy, scale float64) {
	px, py := ox+e.Position.X*scale, oy+e.Position.Y*scale
	sx, sy := e.Scale.X, e.Scale.Y
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	if e.Rotation != 0 {
		pdf.TransformBegin()
		pdf.TransformRotate(-e.Rotation, px, py)
		defer pdf.TransformEnd()
	}

	switch p := e.Properties.(type) {
	case state.Rectangle:
		style := paint(pdf, p.Paint, scale)
		pdf.Rect(px, py, p.Width*scale*sx, p.Height*scale*sy, style)
	case state.Circle:
		style := paint(pdf, p.Paint, scale)
		if sx == sy {
			pdf.Circle(px, py, p.Radius*scale*sx, style)
		} else {
			pdf.Ellipse(px, py, p.Radius*scale*sx, p.Radius*scale*sy, 0, style)
		}
	case state.Ellipse:
		style := paint(pdf, p.Paint, scale)
		pdf.Ellipse(px, py, p.RadiusX*scale*sx, p.RadiusY*scale*sy, 0, style)
	case state.Star:
		style := paint(pdf, p.Paint, scale)
		pdf.Polygon(starPoints(px, py, p, scale*sx, scale*sy), style)
	case state.Line:
		paint(pdf, p.Paint, scale)
		polyline(pdf, p.Points, px, py, scale*sx, scale*sy)
	case state.Drawing:
		r, g, b := rgb(p.Stroke)
		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(math.Max(p.StrokeWidth*scale, 0.1))
		if p.LineCap != "" {
			pdf.SetLineCapStyle(p.LineCap)
		}
		polyline(pdf, p.Points, px, py, scale*sx, scale*sy)
	case state.Text:
		r, g, b := rgb(p.Fill)
		pdf.SetTextColor(r, g, b)
		// Font size is in canvas pixels; gofpdf wants points.
		size := p.FontSize * scale * sy * 72 / 25.4
		pdf.SetFont(fontName, "", math.Max(size, 1))
		pdf.Text(px, py+p.FontSize*scale*sy, p.Text)
	}
}

// paint sets colours and line width and returns the gofpdf style string.
func paint(pdf *gofpdf.Fpdf, p state.Paint, scale float64) string {
	style := ""
	if p.Fill != "" {
		r, g, b := rgb(p.Fill)
		pdf.SetFillColor(r, g, b)
		style += "F"
	}
	if p.Stroke != "" {
		r, g, b := rgb(p.Stroke)
		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(math.Max(p.StrokeWidth*scale, 0.1))
		style += "D"
	}
	if style == "" {
		pdf.SetDrawColor(0, 0, 0)
		style = "D"
	}
	return style
}

func polyline(pdf *gofpdf.Fpdf, pts []float64, px, py, sx, sy float64) {
	for i := 2; i+1 < len(pts); i += 2 {
		pdf.Line(px+pts[i-2]*sx, py+pts[i-1]*sy, px+pts[i]*sx, py+pts[i+1]*sy)
	}
}

func starPoints(cx, cy float64, s state.Star, sx, sy float64) []gofpdf.PointType {
	n := max(s.NumPoints, 2)
	pts := make([]gofpdf.PointType, 0, 2*n)
	for i := 0; i < 2*n; i++ {
		r := s.OuterRadius
		if i%2 == 1 {
			r = s.InnerRadius
		}
		a := -math.Pi/2 + float64(i)*math.Pi/float64(n)
		pts = append(pts, gofpdf.PointType{X: cx + r*math.Cos(a)*sx, Y: cy + r*math.Sin(a)*sy})
	}
	return pts
}

// rgb parses #rgb and #rrggbb colours. Anything else is black.
func rgb(hex string) (int, int, int) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
