package models

import (
	"fmt"
	"image"
)

// BlankLabel is recorded for chips that contain no known annotation
const BlankLabel = "NONE"

// Polygon represents one annotated region read from the XML file
type Polygon struct {
	// Label is the uppercased region text
	Label string

	// Vertices are the polygon corners in level-0 pixel coordinates
	Vertices []image.Point
}

// Annotation pairs a label with the mask value used for it
type Annotation struct {
	Label string
	Code  int
}

// Level describes one tier of a multi-resolution slide pyramid
type Level struct {
	// Width and Height are the level dimensions in level pixels
	Width  int
	Height int

	// Downsample is the level-0 to level scale factor reported by the reader
	Downsample float64
}

// Size returns the level dimensions as a point
func (l Level) Size() image.Point {
	return image.Point{X: l.Width, Y: l.Height}
}

// ChipRecord describes one retained chip location as found by the locator
// and consumed once by the extractor
type ChipRecord struct {
	// Name is the generated chip filename
	Name string

	// Labels holds every annotation present in the chip, or BlankLabel alone
	Labels []string

	// Level is the pyramid level the chip is read from
	Level int

	// Col and Row are the chip origin in level pixels
	Col int
	Row int

	// ScaleW and ScaleH are level-0 dimension / level dimension
	ScaleW float64
	ScaleH float64
}

// IsBlank reports whether the chip carries no annotation
func (c ChipRecord) IsBlank() bool {
	return len(c.Labels) == 1 && c.Labels[0] == BlankLabel
}

// Origin returns the chip origin translated to level-0 coordinates
func (c ChipRecord) Origin() image.Point {
	return image.Point{
		X: int(float64(c.Col) * c.ScaleW),
		Y: int(float64(c.Row) * c.ScaleH),
	}
}

// MaskBounds returns the level-0 rectangle of the label raster covered by a chip
// of the given size. The rectangle is not clipped to the raster.
func (c ChipRecord) MaskBounds(chipSize int) image.Rectangle {
	return image.Rect(
		int(float64(c.Col)*c.ScaleW),
		int(float64(c.Row)*c.ScaleH),
		int(float64(c.Col+chipSize)*c.ScaleW),
		int(float64(c.Row+chipSize)*c.ScaleH),
	)
}

// ChipName builds the filename for a chip: {stem}_{level}_{row}_{col}.{suffix}
func ChipName(stem string, level, row, col int, suffix string) string {
	return fmt.Sprintf("%s_%d_%d_%d.%s", stem, level, row, col, suffix)
}

// ImageDictionary maps each label to the chips that contain it. Labels keep
// the order in which they were first added.
type ImageDictionary struct {
	order []string
	chips map[string][]string
}

// NewImageDictionary creates an empty dictionary
func NewImageDictionary() *ImageDictionary {
	return &ImageDictionary{chips: make(map[string][]string)}
}

// Add appends a chip name to the list of a label
func (d *ImageDictionary) Add(label, chip string) {
	if _, ok := d.chips[label]; !ok {
		d.order = append(d.order, label)
	}
	d.chips[label] = append(d.chips[label], chip)
}

// Merge appends every entry of other, preserving other's label order
func (d *ImageDictionary) Merge(other *ImageDictionary) {
	if other == nil {
		return
	}
	for _, label := range other.order {
		for _, chip := range other.chips[label] {
			d.Add(label, chip)
		}
	}
}

// Labels returns the labels in insertion order
func (d *ImageDictionary) Labels() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Chips returns the chip names recorded for a label
func (d *ImageDictionary) Chips(label string) []string {
	return d.chips[label]
}

// Len returns the number of labels
func (d *ImageDictionary) Len() int {
	return len(d.order)
}
