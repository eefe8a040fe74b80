// Package config provides parameter loading and management for slideseg.
// It reads the same keys as the classic Parameters.txt file, either as YAML
// or as TOML, and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for parameter sets that cannot drive a run
var ErrInvalid = errors.New("invalid parameters")

// Params represents the run parameters loaded from a parameters file
type Params struct {
	// SlidePath is a slide file or a directory of slides
	SlidePath string `yaml:"slide_path" toml:"slide_path"`

	// XMLPath is the directory holding one annotation XML per slide
	XMLPath string `yaml:"xml_path" toml:"xml_path"`

	// OutputDir receives one sub-directory of chips and masks per slide
	OutputDir string `yaml:"output_dir" toml:"output_dir"`

	// Format is the output image format (jpg, jpeg, png, tif, bmp)
	Format string `yaml:"format" toml:"format"`

	// Quality is the JPEG quality used for image chips
	Quality int `yaml:"quality" toml:"quality"`

	// Size is the chip edge length in level pixels
	Size int `yaml:"size" toml:"size"`

	// Overlap is the number of pixels shared by neighbouring chips
	Overlap int `yaml:"overlap" toml:"overlap"`

	// Key is the annotation key file mapping labels to mask values
	Key string `yaml:"key" toml:"key"`

	// SaveAll keeps every chip regardless of its content
	SaveAll bool `yaml:"save_all" toml:"save_all"`

	// SaveRatio is the annotated/blank ratio above which blank chips are kept
	SaveRatio float64 `yaml:"save_ratio" toml:"save_ratio"`

	// Level is lowest, highest, all or a magnification such as 20.0
	Level string `yaml:"level" toml:"level"`

	// CPUs bounds the worker pools
	CPUs int `yaml:"cpus" toml:"cpus"`

	// Convert writes the full-resolution mask as a TIFF instead of chips
	Convert bool `yaml:"convert" toml:"convert"`

	// PyramidLevels is the number of levels built for plain image files
	PyramidLevels int `yaml:"pyramid_levels" toml:"pyramid_levels"`

	// ObjectivePower is assumed for plain image files without metadata
	ObjectivePower float64 `yaml:"objective_power" toml:"objective_power"`

	// Logging parameters
	LogFile    string `yaml:"log_file" toml:"log_file"`
	LogLevel   string `yaml:"log_level" toml:"log_level"`
	LogMaxSize int    `yaml:"log_max_size" toml:"log_max_size"`
	LogMaxAge  int    `yaml:"log_max_age" toml:"log_max_age"`
}

// DefaultParams returns parameters with default values
func DefaultParams() *Params {
	return &Params{
		SlidePath:      "slides/",
		XMLPath:        "xml/",
		OutputDir:      "output/",
		Format:         "png",
		Quality:        100,
		Size:           500,
		Overlap:        0,
		Key:            "Annotation_Key.txt",
		SaveAll:        false,
		SaveRatio:      0.8,
		Level:          "highest",
		CPUs:           runtime.NumCPU(),
		PyramidLevels:  4,
		ObjectivePower: 40,
		LogLevel:       "info",
		LogMaxSize:     100,
		LogMaxAge:      28,
	}
}

// LoadParams loads parameters from a YAML or TOML file.
// If the file doesn't exist, it returns the default parameters.
func LoadParams(path string) (*Params, error) {
	p := DefaultParams()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading parameters file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), p); err != nil {
			return nil, fmt.Errorf("error parsing parameters file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("error parsing parameters file: %w", err)
		}
	}

	return p, nil
}

// SaveParams saves the parameters to a YAML file
func SaveParams(p *Params, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating parameters directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshaling parameters: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing parameters file: %w", err)
	}

	return nil
}

// Stride returns the step between neighbouring chip origins
func (p *Params) Stride() int {
	return p.Size - p.Overlap
}

// Suffix returns the normalized output file suffix
func (p *Params) Suffix() string {
	_, suffix, _ := FormatCheck(p.Format)
	return suffix
}

// Validate reports every problem that would prevent a run
func (p *Params) Validate() error {
	var problems []string

	if p.Size <= 0 {
		problems = append(problems, fmt.Sprintf("size must be positive, got %d", p.Size))
	}
	if p.Overlap < 0 {
		problems = append(problems, fmt.Sprintf("overlap must not be negative, got %d", p.Overlap))
	}
	if p.Stride() <= 0 {
		problems = append(problems, fmt.Sprintf("overlap %d leaves no stride for size %d", p.Overlap, p.Size))
	}
	if p.CPUs < 1 {
		problems = append(problems, fmt.Sprintf("cpus must be at least 1, got %d", p.CPUs))
	}
	if math.IsNaN(p.SaveRatio) || p.SaveRatio < 0 {
		problems = append(problems, fmt.Sprintf("save_ratio must be a non-negative number, got %v", p.SaveRatio))
	}
	if p.Quality < 1 || p.Quality > 100 {
		problems = append(problems, fmt.Sprintf("quality must be within 1..100, got %d", p.Quality))
	}
	if _, _, err := FormatCheck(p.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(p.Level) == "" {
		problems = append(problems, "level must be set")
	}
	if p.PyramidLevels < 1 {
		problems = append(problems, fmt.Sprintf("pyramid_levels must be at least 1, got %d", p.PyramidLevels))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// FormatCheck normalizes an output format. It returns the format name and the
// file suffix to use; jpg and jpeg both map to JPEG with a jpg suffix.
func FormatCheck(format string) (name, suffix string, err error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "jpg", "jpeg":
		name, suffix = "JPEG", "jpg"
	default:
		name, suffix = strings.ToUpper(f), f
	}

	if _, err := imaging.FormatFromExtension(suffix); err != nil {
		return "", "", fmt.Errorf("unsupported output format %q", format)
	}
	return name, suffix, nil
}
