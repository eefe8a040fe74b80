// Package pipeline turns one slide and its annotation document into image
// chips, curated masks and a summary file.
//
// A run follows these steps:
// 1. Open the slide and resolve the requested level
// 2. Rasterize the annotations into a full-resolution label mask
// 3. Locate the chips worth keeping on one or every level
// 4. Extract and save every chip with its mask in parallel
// 5. Write the summary of labels and chips
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"slideseg/internal/models"
	"slideseg/pkg/annotation"
	"slideseg/pkg/chips"
	"slideseg/pkg/config"
	"slideseg/pkg/logging"
	"slideseg/pkg/output"
	"slideseg/pkg/progress"
	"slideseg/pkg/slide"
)

// Report summarizes the run of one slide
type Report struct {
	// Slide is the slide file or directory name
	Slide string

	// Levels lists the pyramid levels that were scanned
	Levels []int

	// Located is the number of chips retained by the sampling policy
	Located int

	// Saved is the number of chips written with their masks
	Saved int

	// Skipped lists chips that could not be extracted or saved
	Skipped []string

	// MaskPath is the full-resolution mask written in convert mode
	MaskPath string

	// DetailsPath is the summary file
	DetailsPath string

	Duration time.Duration
}

// Pipeline processes slides with one set of parameters and one registry
type Pipeline struct {
	params   *config.Params
	registry *annotation.Registry
	writer   *output.Writer
	logger   zerolog.Logger

	// progressOut receives the progress bars
	progressOut io.Writer
}

// New creates a pipeline. The parameters must have passed Validate.
func New(params *config.Params, registry *annotation.Registry, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		params:      params,
		registry:    registry,
		writer:      output.NewWriter(params.OutputDir, params.Quality),
		logger:      logging.Component(logger, "pipeline"),
		progressOut: os.Stderr,
	}
}

// SetProgressOutput redirects the progress bars
func (p *Pipeline) SetProgressOutput(w io.Writer) {
	p.progressOut = w
}

// Run processes the slide at slidePath with the annotations in xmlPath. The
// slide is closed once the last chip has been saved.
func (p *Pipeline) Run(ctx context.Context, slidePath, xmlPath string) (*Report, error) {
	s, err := slide.Open(slidePath, slide.Options{
		Levels:         p.params.PyramidLevels,
		ObjectivePower: p.params.ObjectivePower,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}
	defer s.Close()

	return p.RunSlide(ctx, s, filepath.Base(filepath.Clean(slidePath)), xmlPath)
}

// RunSlide processes an already opened slide. slideName names the output
// directory and, without its extension, every chip.
func (p *Pipeline) RunSlide(ctx context.Context, s slide.Slide, slideName, xmlPath string) (*Report, error) {
	start := time.Now()
	report := &Report{Slide: slideName}
	log := p.logger.With().Str("slide", slideName).Logger()

	levels := s.Levels()
	if len(levels) == 0 {
		return nil, fmt.Errorf("slide %s has no levels", slideName)
	}

	// Step 1: resolve the level token against the slide magnifications
	mags := slide.Magnifications(s.ObjectivePower(), slide.Downsamples(s))
	level, err := slide.ResolveLevel(p.params.Level, len(levels), mags)
	if err != nil {
		return nil, err
	}
	if level == len(levels) {
		for i := range levels {
			report.Levels = append(report.Levels, i)
		}
	} else {
		report.Levels = []int{level}
	}
	log.Info().
		Str("token", p.params.Level).
		Ints("levels", report.Levels).
		Strs("magnifications", mags).
		Msg("level resolved")

	// Step 2: rasterize the annotations at level-0 size
	log.Info().Str("xml", xmlPath).Msg("loading annotation data")
	raster, annotations, err := annotation.MakeMask(xmlPath, levels[0].Width, levels[0].Height, p.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build mask: %w", err)
	}

	if p.params.Convert {
		path, err := p.writer.SaveFullMask(raster.Gray(), slide.Stem(slideName))
		if err != nil {
			return nil, err
		}
		report.MaskPath = path
		report.Duration = time.Since(start)
		log.Info().Str("mask", path).Msg("full mask saved")
		return report, nil
	}

	// Step 3: locate chips
	found, err := p.locate(ctx, raster, annotations, levels, level, slideName)
	if err != nil {
		return nil, fmt.Errorf("failed to locate chips: %w", err)
	}
	report.Located = len(found.Chips)
	log.Info().Int("chips", report.Located).Msg("saving chips")

	// Step 4: extract and save
	if err := p.writer.Prepare(slideName); err != nil {
		return nil, err
	}
	saved, skipped, extractErr := p.extract(ctx, s, raster, slideName, found.Records())
	report.Saved = saved
	report.Skipped = skipped

	// Step 5: summary
	details, err := p.writer.WriteDetails(filepath.Base(xmlPath), annotations, found.Images)
	if err != nil {
		return nil, err
	}
	report.DetailsPath = details
	report.Duration = time.Since(start)

	if extractErr != nil {
		return report, fmt.Errorf("extraction interrupted: %w", extractErr)
	}

	log.Info().
		Int("saved", report.Saved).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).
		Msg("slide done")
	return report, nil
}

// locate scans the resolved level, or every level when level equals the
// level count
func (p *Pipeline) locate(ctx context.Context, raster *annotation.Raster, annotations []models.Annotation, levels []models.Level, level int, slideName string) (*chips.Result, error) {
	policy := chips.NewPolicy(p.params.SaveAll, p.params.SaveRatio)
	loc, err := chips.NewLocator(raster, annotations, levels, policy, chips.Options{
		ChipSize:  p.params.Size,
		Overlap:   p.params.Overlap,
		SlideStem: slide.Stem(slideName),
		Suffix:    p.params.Suffix(),
	})
	if err != nil {
		return nil, err
	}
	loc.SetLogger(p.logger.With().Str("slide", slideName).Logger())

	if level == len(levels) {
		total := 0
		for i := range levels {
			total += loc.Columns(i)
		}
		bar := progress.NewBar(p.progressOut, "Scanning", total)
		loc.SetProgressCallback(bar.Callback())
		return loc.ScanAll(ctx, p.params.CPUs)
	}

	bar := progress.NewBar(p.progressOut, "Scanning", loc.Columns(level))
	loc.SetProgressCallback(bar.Callback())
	return loc.ScanLevel(ctx, level)
}
