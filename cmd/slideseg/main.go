package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"slideseg/pkg/annotation"
	"slideseg/pkg/config"
	"slideseg/pkg/logging"
	"slideseg/pkg/pipeline"
	"slideseg/pkg/slide"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line arguments
	paramsFile := flag.String("params", "Parameters.yaml", "Parameters file (YAML, or TOML with a .toml extension)")
	slidePath := flag.String("slide", "", "Slide file or directory of slides (overrides slide_path)")
	xmlPath := flag.String("xml", "", "Directory of annotation XML files (overrides xml_path)")
	outputDir := flag.String("output", "", "Output directory (overrides output_dir)")
	cpus := flag.Int("cpus", 0, "Number of workers (overrides cpus)")
	level := flag.String("level", "", "lowest, highest, all or a magnification such as 20.0 (overrides level)")
	convert := flag.Bool("convert", false, "Write full-resolution masks instead of chips")
	writeParams := flag.String("write-params", "", "Write the effective parameters to this file and exit")
	flag.Parse()

	params, err := config.LoadParams(*paramsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load parameters: %v\n", err)
		return 1
	}
	applyOverrides(params, *slidePath, *xmlPath, *outputDir, *cpus, *level, *convert)

	if *writeParams != "" {
		if err := config.SaveParams(params, *writeParams); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write parameters: %v\n", err)
			return 1
		}
		fmt.Printf("Parameters written to %s\n", *writeParams)
		return 0
	}

	logger, closer, err := logging.New(logging.Options{
		Level:   params.LogLevel,
		File:    params.LogFile,
		MaxSize: params.LogMaxSize,
		MaxAge:  params.LogMaxAge,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	if err := params.Validate(); err != nil {
		logger.Error().Err(err).Msg("refusing to start")
		return 1
	}

	registry, err := annotation.OpenRegistry(params.Key, params.XMLPath)
	if err != nil {
		logger.Error().Err(err).Str("key", params.Key).Msg("failed to load annotation key")
		return 1
	}
	logger.Info().Str("key", params.Key).Int("labels", registry.Len()).Msg("annotation key loaded")

	slides, err := listSlides(params.SlidePath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list slides")
		return 1
	}
	if len(slides) == 0 {
		logger.Error().Str("path", params.SlidePath).Msg("no slides found")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(params, registry, logger)

	startTime := time.Now()
	var saved, skipped, failed int
	for _, path := range slides {
		if ctx.Err() != nil {
			break
		}

		xml := filepath.Join(params.XMLPath, slide.Stem(path)+".xml")
		report, err := p.Run(ctx, path, xml)
		if err != nil {
			failed++
			logger.Error().Err(err).Str("slide", path).Msg("slide failed")
			continue
		}
		saved += report.Saved
		skipped += len(report.Skipped)
		printReport(report)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nProcessed %d slide(s) in %.2f seconds\n", len(slides), processingTime.Seconds())
	fmt.Printf("- Chips saved: %s\n", humanize.Comma(int64(saved)))
	if skipped > 0 {
		fmt.Printf("- Chips skipped: %s\n", humanize.Comma(int64(skipped)))
	}
	if failed > 0 {
		fmt.Printf("- Slides failed: %d\n", failed)
		return 1
	}
	if ctx.Err() != nil {
		logger.Warn().Msg("interrupted")
		return 130
	}
	return 0
}

func applyOverrides(p *config.Params, slidePath, xmlPath, outputDir string, cpus int, level string, convert bool) {
	if slidePath != "" {
		p.SlidePath = slidePath
	}
	if xmlPath != "" {
		p.XMLPath = xmlPath
	}
	if outputDir != "" {
		p.OutputDir = outputDir
	}
	if cpus > 0 {
		p.CPUs = cpus
	}
	if level != "" {
		p.Level = level
	}
	if convert {
		p.Convert = true
	}
}

// listSlides returns path itself when it is a slide, otherwise every slide
// directly inside it in lexical order
func listSlides(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() || slide.IsSlide(path) {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var slides []string
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		if slide.IsSlide(full) {
			slides = append(slides, full)
		}
	}
	sort.Strings(slides)
	return slides, nil
}

func printReport(r *pipeline.Report) {
	if r.MaskPath != "" {
		fmt.Printf("%s: mask saved to %s\n", r.Slide, r.MaskPath)
		return
	}
	fmt.Printf("%s: %s of %s chips saved in %s (levels %v)\n",
		r.Slide,
		humanize.Comma(int64(r.Saved)),
		humanize.Comma(int64(r.Located)),
		r.Duration.Round(time.Millisecond),
		r.Levels)
	if r.DetailsPath != "" {
		fmt.Printf("  details: %s\n", r.DetailsPath)
	}
}

func init() {
	zerolog.DurationFieldUnit = time.Millisecond
}
