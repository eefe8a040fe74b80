package pipeline

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"slideseg/internal/models"
	"slideseg/pkg/annotation"
	"slideseg/pkg/chips"
	"slideseg/pkg/progress"
	"slideseg/pkg/slide"
)

// extract saves every record on at most CPUs workers. A chip that fails is
// logged and skipped; it never stops the others. Once ctx is done no new chip
// is started and the context error is returned after in-flight chips finish.
func (p *Pipeline) extract(ctx context.Context, s slide.Slide, raster *annotation.Raster, slideName string, records []models.ChipRecord) (int, []string, error) {
	bar := progress.NewBar(p.progressOut, "Saving", len(records))

	var (
		mu      sync.Mutex
		saved   int
		skipped []string
	)

	var g errgroup.Group
	g.SetLimit(p.params.CPUs)
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := p.saveChip(s, raster, slideName, rec)

			mu.Lock()
			if err != nil {
				skipped = append(skipped, rec.Name)
			} else {
				saved++
			}
			mu.Unlock()

			if err != nil {
				p.logger.Warn().Err(err).Str("chip", rec.Name).Msg("chip skipped")
			}
			bar.Add(1)
			return nil
		})
	}
	g.Wait()

	sort.Strings(skipped)
	return saved, skipped, ctx.Err()
}

// saveChip reads the region of one record, curates its mask and saves both
func (p *Pipeline) saveChip(s slide.Slide, raster *annotation.Raster, slideName string, rec models.ChipRecord) error {
	size := p.params.Size

	region, err := s.ReadRegion(rec.Origin(), rec.Level, image.Pt(size, size))
	if err != nil {
		return fmt.Errorf("failed to read region: %w", err)
	}

	mask, err := chips.Curate(raster.Slice(rec.MaskBounds(size)), rec.ScaleW, rec.ScaleH, size)
	if err != nil {
		return fmt.Errorf("failed to curate mask: %w", err)
	}

	if err := p.writer.SaveChip(slide.ToRGB(region), p.writer.ChipPath(slideName, rec.Name)); err != nil {
		return err
	}
	return p.writer.SaveMask(mask, size, p.writer.MaskPath(slideName, rec.Name))
}
