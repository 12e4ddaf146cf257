// Package annotate draws detections onto images: a box outline in the label's
// color, and above it a filled tag with the short label and confidence.
//
// Rendering follows input order, so later detections paint over earlier ones
// where they overlap. The source image is never modified; Annotate returns a
// copy and leaves every pixel outside the drawn shapes untouched.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/waldow90/helmet-detection/internal/detect"
)

// DefaultFontSize is the point size of the default label face.
const DefaultFontSize = 12

var (
	goRegular     *truetype.Font
	goRegularOnce sync.Once
	goRegularErr  error
)

// GoRegularFace returns a FaceFunc producing Go Regular faces at the given size.
// TrueType faces cache glyphs internally, so each call yields a fresh face.
func GoRegularFace(size float64) FaceFunc {
	return func() (font.Face, error) {
		goRegularOnce.Do(func() {
			goRegular, goRegularErr = truetype.Parse(goregular.TTF)
		})
		if goRegularErr != nil {
			return nil, errors.Wrap(goRegularErr, "failed to parse font")
		}
		return truetype.NewFace(goRegular, &truetype.Options{Size: size}), nil
	}
}

// FaceFunc supplies the face used to measure and draw label text for one
// Annotate call.
type FaceFunc func() (font.Face, error)

// Annotator renders detections with a fixed style. It is safe for concurrent
// use as long as its FaceFunc returns faces that are not shared across calls.
type Annotator struct {
	style   StyleTable
	newFace FaceFunc
}

// New returns an Annotator. A nil newFace uses Go Regular at DefaultFontSize.
func New(style StyleTable, newFace FaceFunc) *Annotator {
	if newFace == nil {
		newFace = GoRegularFace(DefaultFontSize)
	}
	return &Annotator{style: style, newFace: newFace}
}

// LabelLayout is the pixel geometry of one rendered detection.
type LabelLayout struct {
	// Box is the detection in pixels. Max is inclusive: the outline covers
	// columns Box.Min.X..Box.Max.X and rows Box.Min.Y..Box.Max.Y.
	Box image.Rectangle

	// Text is the label string, "<tag>:<confidence>".
	Text string

	// TextWidth and TextHeight are the measured text size in pixels.
	TextWidth  int
	TextHeight int

	// Anchor is the bottom edge of the tag background: the box top, pushed
	// down to TextHeight when the box starts too close to the image top.
	Anchor int

	// Background is the tag background, inclusive like Box.
	Background image.Rectangle

	Color color.RGBA
}

// Denormalize converts a detection's normalized corners to pixels in a w x h
// image, rounding half away from zero.
func Denormalize(det detect.Detection, w, h int) image.Rectangle {
	return image.Rectangle{
		Min: image.Point{
			X: int(math.Round(det.XMin * float64(w))),
			Y: int(math.Round(det.YMin * float64(h))),
		},
		Max: image.Point{
			X: int(math.Round(det.XMax * float64(w))),
			Y: int(math.Round(det.YMax * float64(h))),
		},
	}
}

// LabelText formats the tag text for a detection.
func LabelText(tag string, confidence float64) string {
	return fmt.Sprintf("%s:%.2f", tag, confidence)
}

// Layout computes where a detection's box and tag go in a w x h image, using
// face to measure the text. It draws nothing.
//
// Parameters:
//   - det: The detection, with normalized coordinates.
//   - w, h: Image size in pixels.
//   - face: Face used to measure the tag text.
//
// Returns:
//   - LabelLayout: The pixel box, tag text and tag background. The tag sits on
//     the box's top edge, pushed down when it would leave the image.
//   - error: Non-nil if the style has no color for det.LabelID or no tag for
//     det.LabelName.
func (a *Annotator) Layout(det detect.Detection, w, h int, face font.Face) (LabelLayout, error) {
	col, err := a.style.Color(det.LabelID)
	if err != nil {
		return LabelLayout{}, err
	}
	tag, err := a.style.Tag(det.LabelName)
	if err != nil {
		return LabelLayout{}, err
	}

	box := Denormalize(det, w, h)
	text := LabelText(tag, det.Confidence)
	tw := font.MeasureString(face, text).Ceil()
	th := face.Metrics().Height.Ceil()

	anchor := box.Min.Y
	if anchor < th {
		anchor = th
	}

	return LabelLayout{
		Box:        box,
		Text:       text,
		TextWidth:  tw,
		TextHeight: th,
		Anchor:     anchor,
		Background: image.Rect(box.Min.X, anchor-th, box.Min.X+tw, anchor),
		Color:      col,
	}, nil
}

// Annotate returns a copy of img with every detection drawn on it.
//
// Detections are drawn in order, each as a 1-pixel outline in its label's
// color followed by a filled tag above the box holding the tag text in black.
// Later detections paint over earlier ones.
//
// Parameters:
//   - img: The source image. It is not modified and may have a non-zero origin.
//   - dets: Detections with normalized coordinates, as returned by detect.Filter.
//
// Returns:
//   - *image.RGBA: A zero-origin copy of img with the detections drawn. With
//     no detections it is a plain copy.
//   - error: Non-nil if the face cannot be created or a detection has no
//     color or tag in the style table.
//
// # Concurrency
//
// Each call creates its own face, so one Annotator may serve several
// goroutines.
func (a *Annotator) Annotate(img image.Image, dets []detect.Detection) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)
	if len(dets) == 0 {
		return canvas, nil
	}

	face, err := a.newFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dc := gg.NewContextForRGBA(canvas)
	dc.SetFontFace(face)
	dc.SetLineWidth(1)
	ascent := float64(face.Metrics().Ascent.Ceil())

	for i, det := range dets {
		l, err := a.Layout(det, w, h, face)
		if err != nil {
			return nil, errors.Wrapf(err, "detection %d", i)
		}

		// Outline strokes run through pixel centers so each edge lands on
		// exactly one row or column.
		dc.SetColor(l.Color)
		dc.DrawRectangle(float64(l.Box.Min.X)+0.5, float64(l.Box.Min.Y)+0.5,
			float64(l.Box.Dx()), float64(l.Box.Dy()))
		dc.Stroke()

		bg := l.Background
		dc.DrawRectangle(float64(bg.Min.X), float64(bg.Min.Y), float64(bg.Dx()+1), float64(bg.Dy()+1))
		dc.Fill()

		dc.SetColor(color.Black)
		dc.DrawString(l.Text, float64(bg.Min.X), float64(bg.Min.Y)+ascent)
	}

	return canvas, nil
}
