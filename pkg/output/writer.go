// Package output saves chips, masks and the per-slide summary files.
package output

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"slideseg/internal/models"
	"slideseg/pkg/annotation"
)

// Output sub-directories
const (
	ChipDir = "image_chips"
	MaskDir = "image_mask"
	TextDir = "textfiles"
	FullDir = "mask"
)

// detailsWidth is the column the mask colors of the summary file align to
const detailsWidth = 50

// Writer stores the artifacts of every slide below one output directory
type Writer struct {
	// Root is the output directory
	Root string

	// Quality is the JPEG quality of image chips
	Quality int
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string, quality int) *Writer {
	return &Writer{Root: dir, Quality: quality}
}

// SlideDir returns the directory holding the chips and masks of a slide
func (w *Writer) SlideDir(slideName string) string {
	return filepath.Join(w.Root, slideName)
}

// Prepare creates the chip and mask directories of a slide
func (w *Writer) Prepare(slideName string) error {
	for _, sub := range []string{ChipDir, MaskDir} {
		if err := os.MkdirAll(filepath.Join(w.SlideDir(slideName), sub), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

// ChipPath returns where the image chip of a record is saved
func (w *Writer) ChipPath(slideName, chip string) string {
	return filepath.Join(w.SlideDir(slideName), ChipDir, chip)
}

// MaskPath returns where the mask of a record is saved
func (w *Writer) MaskPath(slideName, chip string) string {
	return filepath.Join(w.SlideDir(slideName), MaskDir, chip)
}

// SaveChip saves an image chip; the format follows the file extension
func (w *Writer) SaveChip(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(w.Quality)); err != nil {
		return fmt.Errorf("failed to save chip %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveMask saves a chipSize x chipSize label mask as an 8-bit gray image.
// JPEG masks are written at full quality.
func (w *Writer) SaveMask(mask []uint8, chipSize int, path string) error {
	if len(mask) != chipSize*chipSize {
		return fmt.Errorf("mask has %d values, expected %d", len(mask), chipSize*chipSize)
	}
	img := &image.Gray{Pix: mask, Stride: chipSize, Rect: image.Rect(0, 0, chipSize, chipSize)}
	if err := imaging.Save(img, path, imaging.JPEGQuality(100)); err != nil {
		return fmt.Errorf("failed to save mask %s: %w", filepath.Base(path), err)
	}
	return nil
}

// DetailsPath returns the summary file of an annotation document
func (w *Writer) DetailsPath(xmlName string) string {
	stem := strings.TrimSuffix(filepath.Base(xmlName), filepath.Ext(xmlName))
	return filepath.Join(w.Root, TextDir, stem+"_Details.txt")
}

// WriteDetails writes the summary file of a slide: the mask color of every
// annotation followed by the chips holding each label
func (w *Writer) WriteDetails(xmlName string, annotations []models.Annotation, images *models.ImageDictionary) (string, error) {
	path := w.DetailsPath(xmlName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create text directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create details file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	for _, a := range annotations {
		keyline := "Key: " + a.Label
		value := fmt.Sprintf("Mask_Color: [%d]\n", a.Code)
		bw.WriteString(keyline + annotation.RightJustify(value, detailsWidth-len(keyline)))
	}
	if images != nil {
		for _, label := range images.Labels() {
			fmt.Fprintf(bw, "\nKey: %s\n", label)
			for _, chip := range images.Chips(label) {
				fmt.Fprintf(bw, "   %s\n", chip)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to write details file: %w", err)
	}
	return path, file.Close()
}

// SaveFullMask writes a full-resolution label mask as a Deflate-compressed
// TIFF named after the slide and returns its path
func (w *Writer) SaveFullMask(mask *image.Gray, slideStem string) (string, error) {
	dir := filepath.Join(w.Root, FullDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create mask directory: %w", err)
	}

	path := filepath.Join(dir, slideStem+".tiff")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create mask file: %w", err)
	}
	defer file.Close()

	if err := tiff.Encode(file, mask, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return "", fmt.Errorf("failed to encode mask: %w", err)
	}
	return path, file.Close()
}
