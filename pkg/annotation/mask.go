// Package annotation turns polygon annotations into a full-resolution label
// raster and keeps the label to mask value registry.
package annotation

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"slideseg/internal/models"
)

// Raster is a row-major 8-bit label mask. It is never modified once returned
// by Rasterize, so any number of goroutines may read it.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRaster allocates an all-background raster
func NewRaster(width, height int) *Raster {
	return &Raster{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the value at (x, y)
func (r *Raster) At(x, y int) uint8 {
	return r.Pix[y*r.Width+x]
}

// Bounds returns the raster rectangle
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// Slice copies the part of the raster inside rect. The rectangle is clipped to
// the raster first, so the result may be smaller than requested or empty.
func (r *Raster) Slice(rect image.Rectangle) *Raster {
	rect = rect.Intersect(r.Bounds())
	out := NewRaster(rect.Dx(), rect.Dy())
	for y := 0; y < out.Height; y++ {
		src := (rect.Min.Y+y)*r.Width + rect.Min.X
		copy(out.Pix[y*out.Width:(y+1)*out.Width], r.Pix[src:src+out.Width])
	}
	return out
}

// Distinct returns the sorted set of values inside rect
func (r *Raster) Distinct(rect image.Rectangle) []uint8 {
	rect = rect.Intersect(r.Bounds())
	var seen [256]bool
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := r.Pix[y*r.Width+rect.Min.X : y*r.Width+rect.Max.X]
		for _, v := range row {
			seen[v] = true
		}
	}

	var out []uint8
	for v, ok := range seen {
		if ok {
			out = append(out, uint8(v))
		}
	}
	return out
}

// Gray returns the raster as a grayscale image sharing its pixels
func (r *Raster) Gray() *image.Gray {
	return &image.Gray{Pix: r.Pix, Stride: r.Width, Rect: r.Bounds()}
}

// Rasterize fills every polygon into a width x height raster with the code of
// its label, allocating codes for unknown labels. Polygons are drawn in order,
// so later regions overwrite earlier ones. The returned annotations list each
// label of this document once, in first-seen order.
func Rasterize(polygons []models.Polygon, width, height int, reg *Registry) (*Raster, []models.Annotation, error) {
	if width <= 0 || height <= 0 {
		return nil, nil, fmt.Errorf("invalid mask size %dx%d", width, height)
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	defer mat.Close()
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))

	var annotations []models.Annotation
	seen := make(map[string]bool)

	for _, p := range polygons {
		code, err := reg.Allocate(p.Label)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to assign a code to %s: %w", p.Label, err)
		}
		if code < 1 || code > 255 {
			return nil, nil, fmt.Errorf("code %d of %s does not fit an 8-bit mask", code, p.Label)
		}

		if len(p.Vertices) > 0 {
			fillPolygon(&mat, p.Vertices, uint8(code))
		}

		if !seen[p.Label] {
			seen[p.Label] = true
			annotations = append(annotations, models.Annotation{Label: p.Label, Code: code})
		}
	}

	raster := &Raster{Width: width, Height: height, Pix: mat.ToBytes()}
	if len(raster.Pix) != width*height {
		return nil, nil, fmt.Errorf("mask has %d bytes, expected %d", len(raster.Pix), width*height)
	}
	return raster, annotations, nil
}

// MakeMask parses an annotation file and rasterizes it at level-0 size
func MakeMask(xmlPath string, width, height int, reg *Registry) (*Raster, []models.Annotation, error) {
	polygons, err := ParseFile(xmlPath)
	if err != nil {
		return nil, nil, err
	}
	return Rasterize(polygons, width, height, reg)
}

func fillPolygon(mat *gocv.Mat, vertices []image.Point, value uint8) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{vertices})
	defer pv.Close()
	gocv.FillPoly(mat, pv, color.RGBA{R: value, G: value, B: value, A: value})
}
