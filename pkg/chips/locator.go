// Package chips finds the chip locations worth extracting from a slide and
// prepares their masks.
package chips

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"slideseg/internal/models"
	"slideseg/pkg/annotation"
	"slideseg/pkg/progress"
)

// Options describes the chip grid and naming
type Options struct {
	// ChipSize is the chip edge length in level pixels
	ChipSize int

	// Overlap is the number of pixels shared by neighbouring chips
	Overlap int

	// SlideStem and Suffix build the chip filenames
	SlideStem string
	Suffix    string
}

// Stride returns the step between chip origins
func (o Options) Stride() int {
	return o.ChipSize - o.Overlap
}

// Result holds the chips retained by a scan
type Result struct {
	// Chips maps chip filenames to their records
	Chips map[string]models.ChipRecord

	// Images maps every label to the chips containing it
	Images *models.ImageDictionary
}

func newResult() *Result {
	return &Result{
		Chips:  make(map[string]models.ChipRecord),
		Images: models.NewImageDictionary(),
	}
}

// Merge adds every chip and dictionary entry of other
func (r *Result) Merge(other *Result) {
	for name, rec := range other.Chips {
		r.Chips[name] = rec
	}
	r.Images.Merge(other.Images)
}

// Records returns the chips ordered by level, column and row
func (r *Result) Records() []models.ChipRecord {
	out := make([]models.ChipRecord, 0, len(r.Chips))
	for _, rec := range r.Chips {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Col != b.Col {
			return a.Col < b.Col
		}
		return a.Row < b.Row
	})
	return out
}

// Locator walks the levels of a slide over a shared label raster
type Locator struct {
	raster      *annotation.Raster
	annotations []models.Annotation
	levels      []models.Level
	policy      *Policy
	opts        Options

	logger           zerolog.Logger
	progressCallback progress.Callback
}

// NewLocator creates a locator. The raster must have the size of level 0.
func NewLocator(raster *annotation.Raster, annotations []models.Annotation, levels []models.Level, policy *Policy, opts Options) (*Locator, error) {
	if opts.Stride() <= 0 {
		return nil, fmt.Errorf("overlap %d leaves no stride for chip size %d", opts.Overlap, opts.ChipSize)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("slide has no levels")
	}
	if raster.Width != levels[0].Width || raster.Height != levels[0].Height {
		return nil, fmt.Errorf("mask is %dx%d but level 0 is %dx%d",
			raster.Width, raster.Height, levels[0].Width, levels[0].Height)
	}

	return &Locator{
		raster:      raster,
		annotations: annotations,
		levels:      levels,
		policy:      policy,
		opts:        opts,
		logger:      zerolog.Nop(),
	}, nil
}

// SetLogger sets the logger used for per-level messages
func (l *Locator) SetLogger(logger zerolog.Logger) {
	l.logger = logger
}

// SetProgressCallback sets a callback receiving one unit per scanned column
func (l *Locator) SetProgressCallback(callback progress.Callback) {
	l.progressCallback = callback
}

// Columns returns how many grid columns ScanLevel visits on a level
func (l *Locator) Columns(level int) int {
	if level < 0 || level >= len(l.levels) {
		return 0
	}
	stride := l.opts.Stride()
	return (l.levels[level].Width + stride - 1) / stride
}

// ScanLevel applies the sampling policy to every grid position of one level
func (l *Locator) ScanLevel(ctx context.Context, level int) (*Result, error) {
	return l.scan(ctx, level, nil)
}

// ScanAll scans every level, at most workers at a time, and merges the results
// in level order
func (l *Locator) ScanAll(ctx context.Context, workers int) (*Result, error) {
	var done atomic.Int64
	results := make([]*Result, len(l.levels))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range l.levels {
		g.Go(func() error {
			res, err := l.scan(ctx, i, &done)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newResult()
	for _, res := range results {
		merged.Merge(res)
	}
	return merged, nil
}

func (l *Locator) scan(ctx context.Context, level int, done *atomic.Int64) (*Result, error) {
	if level < 0 || level >= len(l.levels) {
		return nil, fmt.Errorf("level %d out of range, slide has %d levels", level, len(l.levels))
	}

	dims := l.levels[level]
	scaleW := float64(l.levels[0].Width) / float64(dims.Width)
	scaleH := float64(l.levels[0].Height) / float64(dims.Height)
	stride := l.opts.Stride()

	total := l.Columns(level)
	if done != nil {
		total = 0
		for i := range l.levels {
			total += l.Columns(i)
		}
	}

	res := newResult()
	column := 0
	for col := 0; col < dims.Width; col += stride {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for row := 0; row < dims.Height; row += stride {
			rec := models.ChipRecord{
				Level:  level,
				Col:    col,
				Row:    row,
				ScaleW: scaleW,
				ScaleH: scaleH,
			}
			l.visit(&rec, res)
		}

		column++
		if l.progressCallback != nil {
			completed := column
			if done != nil {
				completed = int(done.Add(1))
			}
			l.progressCallback(completed, total, "")
		}
	}

	l.logger.Debug().
		Int("level", level).
		Int("chips", len(res.Chips)).
		Msg("level scanned")
	return res, nil
}

// visit decides one grid position and records it when admitted
func (l *Locator) visit(rec *models.ChipRecord, res *Result) {
	codes := l.raster.Distinct(rec.MaskBounds(l.opts.ChipSize))

	var present [256]bool
	hasForeground := false
	for _, c := range codes {
		present[c] = true
		if c > 0 {
			hasForeground = true
		}
	}

	var labels []string
	for _, a := range l.annotations {
		if a.Code > 0 && a.Code < 256 && present[a.Code] {
			labels = append(labels, a.Label)
		}
	}

	if !l.policy.Decide(hasForeground, len(labels) > 0) {
		return
	}

	rec.Name = models.ChipName(l.opts.SlideStem, rec.Level, rec.Row, rec.Col, l.opts.Suffix)
	if len(labels) == 0 {
		rec.Labels = []string{models.BlankLabel}
	} else {
		rec.Labels = labels
		for _, label := range labels {
			res.Images.Add(label, rec.Name)
		}
	}
	res.Chips[rec.Name] = *rec
}
