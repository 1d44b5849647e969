// Package annotate renders detection boxes onto a frame. It is the local
// fallback used when the detector sidecar does not return its own
// annotated visualisation, so the main evidence snapshot still shows
// what triggered the incident.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/collision.report/internal/detect"
)

const borderWidth = 2

var (
	vehicleColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}
	personColor  = color.RGBA{R: 64, G: 160, B: 255, A: 255}
	otherColor   = color.RGBA{R: 220, G: 220, B: 64, A: 255}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func boxColor(label string) color.RGBA {
	switch {
	case detect.IsVehicle(label):
		return vehicleColor
	case detect.IsPerson(label):
		return personColor
	default:
		return otherColor
	}
}

// Draw decodes a JPEG frame, draws the detection boxes and labels onto
// it, and re-encodes it. Returns an error if the frame cannot be
// decoded; callers then fall back to the raw frame.
func Draw(frame []byte, dets []detect.Detection) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, d := range dets {
		rect := image.Rect(
			int(d.Box.XMin), int(d.Box.YMin),
			int(d.Box.XMax), int(d.Box.YMax),
		).Intersect(bounds)
		if rect.Empty() {
			continue
		}

		c := boxColor(d.Label)
		drawBorder(canvas, rect, c)
		drawLabel(canvas, rect, fmt.Sprintf("%s %.2f", d.Label, d.Confidence))
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, canvas, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated frame: %w", err)
	}
	return out.Bytes(), nil
}

// drawBorder paints a hollow rectangle of borderWidth pixels.
func drawBorder(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for w := 0; w < borderWidth; w++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			setIfInside(img, x, rect.Min.Y+w, c)
			setIfInside(img, x, rect.Max.Y-1-w, c)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			setIfInside(img, rect.Min.X+w, y, c)
			setIfInside(img, rect.Max.X-1-w, y, c)
		}
	}
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel renders the label text just above the box, or inside its top
// edge when there is no room above.
func drawLabel(img *image.RGBA, rect image.Rectangle, text string) {
	face := basicfont.Face7x13
	y := rect.Min.Y - 3
	if y-face.Ascent < img.Bounds().Min.Y {
		y = rect.Min.Y + face.Height
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(rect.Min.X, y),
	}
	d.DrawString(text)
}
