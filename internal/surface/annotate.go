package surface

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

const boxThickness = 2

// palette colors boxes by class id
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 132, G: 56, B: 255, A: 255},
}

// Annotate decodes a JPEG, draws a box for each detection and re-encodes it.
// Frames without detections are returned unchanged.
func Annotate(data []byte, detections []session.Detection, quality int) ([]byte, error) {
	if len(detections) == 0 {
		return data, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range detections {
		c := palette[classIndex(d.ClassID)]
		rect := image.Rect(int(d.X1), int(d.Y1), int(d.X2), int(d.Y2)).Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}
		drawBox(img, rect, c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func classIndex(id int) int {
	if id < 0 {
		id = -id
	}
	return id % len(palette)
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxThickness),
		image.Rect(r.Min.X, r.Max.Y-boxThickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxThickness, r.Max.Y),
		image.Rect(r.Max.X-boxThickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}
