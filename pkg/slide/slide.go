// Package slide reads multi-resolution slide pyramids.
package slide

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"slideseg/internal/models"
)

// DescriptorName is the file that marks a directory as a slide pyramid
const DescriptorName = "slide.yaml"

// ErrLevel is returned for level indices outside the pyramid
var ErrLevel = errors.New("no such pyramid level")

// Slide is a multi-resolution image. ReadRegion must be safe for concurrent use.
type Slide interface {
	// Levels returns the geometry of every level, level 0 first
	Levels() []models.Level

	// ObjectivePower is the scanner magnification of level 0, 0 if unknown
	ObjectivePower() float64

	// ReadRegion returns size pixels of the given level starting at origin,
	// which is expressed in level-0 coordinates. Pixels outside the level are
	// transparent black.
	ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error)

	Close() error
}

// Options controls how plain image files are turned into pyramids
type Options struct {
	// Levels is the number of levels built from a single image
	Levels int

	// ObjectivePower is assumed for sources that do not record one
	ObjectivePower float64
}

// Pyramid is an in-memory slide whose levels never change after construction
type Pyramid struct {
	levels    []image.Image
	geometry  []models.Level
	objective float64
}

// NewPyramid creates a slide from ready-made levels, level 0 first
func NewPyramid(levels []image.Image, objective float64) (*Pyramid, error) {
	if len(levels) == 0 {
		return nil, errors.New("a pyramid needs at least one level")
	}

	base := levels[0].Bounds()
	p := &Pyramid{levels: levels, objective: objective}
	for i, img := range levels {
		b := img.Bounds()
		if b.Dx() <= 0 || b.Dy() <= 0 {
			return nil, fmt.Errorf("level %d is empty", i)
		}
		ds := (float64(base.Dx())/float64(b.Dx()) + float64(base.Dy())/float64(b.Dy())) / 2
		p.geometry = append(p.geometry, models.Level{Width: b.Dx(), Height: b.Dy(), Downsample: ds})
	}
	return p, nil
}

// FromImage builds a pyramid of n levels, halving the image at each level.
// Building stops early once a level would be smaller than one pixel.
func FromImage(img image.Image, n int, objective float64) (*Pyramid, error) {
	if n < 1 {
		n = 1
	}

	levels := []image.Image{img}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for i := 1; i < n; i++ {
		w, h = w/2, h/2
		if w < 1 || h < 1 {
			break
		}
		levels = append(levels, imaging.Resize(img, w, h, imaging.Box))
	}
	return NewPyramid(levels, objective)
}

// Levels implements Slide
func (p *Pyramid) Levels() []models.Level {
	out := make([]models.Level, len(p.geometry))
	copy(out, p.geometry)
	return out
}

// ObjectivePower implements Slide
func (p *Pyramid) ObjectivePower() float64 {
	return p.objective
}

// ReadRegion implements Slide
func (p *Pyramid) ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error) {
	if level < 0 || level >= len(p.levels) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLevel, level, len(p.levels))
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid region size %v", size)
	}

	ds := p.geometry[level].Downsample
	src := p.levels[level]
	sb := src.Bounds()
	start := sb.Min.Add(image.Point{
		X: int(float64(origin.X) / ds),
		Y: int(float64(origin.Y) / ds),
	})

	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	want := image.Rectangle{Min: start, Max: start.Add(size)}
	visible := want.Intersect(sb)
	if !visible.Empty() {
		dr := visible.Sub(start)
		draw.Draw(dst, dr, src, visible.Min, draw.Src)
	}
	return dst, nil
}

// Close implements Slide
func (p *Pyramid) Close() error {
	return nil
}

// descriptor is the content of slide.yaml
type descriptor struct {
	ObjectivePower float64 `yaml:"objective_power"`
	Levels         []struct {
		File string `yaml:"file"`
	} `yaml:"levels"`
}

// Open loads a slide. A directory must contain slide.yaml listing one image
// file per level; any other path is read as a single image and expanded into
// a pyramid according to opts.
func Open(path string, opts Options) (Slide, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}

	if info.IsDir() {
		return openDirectory(path, opts)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode slide %s: %w", path, err)
	}
	p, err := FromImage(img, opts.Levels, opts.ObjectivePower)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openDirectory(dir string, opts Options) (Slide, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		return nil, fmt.Errorf("failed to read slide descriptor: %w", err)
	}

	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse slide descriptor: %w", err)
	}
	if len(d.Levels) == 0 {
		return nil, fmt.Errorf("slide descriptor %s lists no levels", dir)
	}

	objective := d.ObjectivePower
	if objective == 0 {
		objective = opts.ObjectivePower
	}

	levels := make([]image.Image, 0, len(d.Levels))
	for i, l := range d.Levels {
		img, err := imaging.Open(filepath.Join(dir, l.File))
		if err != nil {
			return nil, fmt.Errorf("failed to decode level %d: %w", i, err)
		}
		levels = append(levels, img)
	}

	p, err := NewPyramid(levels, objective)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsSlide reports whether path looks like something Open can read
func IsSlide(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err := os.Stat(filepath.Join(path, DescriptorName))
		return err == nil
	}
	_, err = imaging.FormatFromFilename(path)
	return err == nil
}

// Stem returns the slide name without directory and extension
func Stem(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ToRGB flattens a region onto opaque pixels by dropping its alpha channel
func ToRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
