package image

import (
	"image"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
)

// Layer draws top over bottom. The offset is measured from the bottom-left
// corner of bottom, so a y of 0 keeps top flush with the bottom edge.
func Layer(bottom image.Image, top image.Image, x, y int) image.Image {
	dims := bottom.Bounds()
	offset := image.Pt(dims.Min.X+x, dims.Min.Y+y+dims.Dy()-top.Bounds().Dy())
	res := image.NewRGBA(dims)
	draw.Draw(res, dims, bottom, dims.Min, draw.Src)
	draw.Draw(res, top.Bounds().Sub(top.Bounds().Min).Add(offset), top, top.Bounds().Min, draw.Over)

	return res
}

// Stack composites layers in order onto a transparent canvas sized to the
// first layer. Every layer is stretched to cover the whole canvas.
func Stack(layers []image.Image, filter imaging.ResampleFilter) *image.RGBA {
	if len(layers) == 0 {
		return nil
	}

	first := layers[0].Bounds()
	w, h := first.Dx(), first.Dy()
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))

	for _, layer := range layers {
		src := layer
		b := layer.Bounds()
		if b.Dx() != w || b.Dy() != h {
			src = imaging.Resize(layer, w, h, filter)
		}
		draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Over)
	}

	return canvas
}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"linear":     imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
}

// Filter looks up a resampling filter by name. The empty name selects linear.
func Filter(name string) (imaging.ResampleFilter, bool) {
	if name == "" {
		return imaging.Linear, true
	}
	f, ok := filters[strings.ToLower(name)]
	return f, ok
}
