package chips

import (
	"fmt"
	"testing"

	"slideseg/pkg/annotation"
)

func filledRaster(width, height int, value uint8) *annotation.Raster {
	r := annotation.NewRaster(width, height)
	for i := range r.Pix {
		r.Pix[i] = value
	}
	return r
}

func TestCurateSizes(t *testing.T) {
	const chipSize = 64
	for _, scale := range []float64{1, 2, 4, 7.3} {
		t.Run(fmt.Sprintf("scale %v", scale), func(t *testing.T) {
			side := int(float64(chipSize) * scale)
			mask, err := Curate(filledRaster(side, side, 200), scale, scale, chipSize)
			if err != nil {
				t.Fatalf("Curate failed: %v", err)
			}
			if len(mask) != chipSize*chipSize {
				t.Fatalf("Expected %d values, got %d", chipSize*chipSize, len(mask))
			}
			center := mask[(chipSize/2)*chipSize+chipSize/2]
			if center < 199 || center > 201 {
				t.Errorf("Expected the constant value to survive the resize, got %d", center)
			}
		})
	}
}

func TestCuratePadsEdgeChips(t *testing.T) {
	// An edge chip whose slice was clipped to 10x6 level-0 pixels
	mask, err := Curate(filledRaster(10, 6, 255), 1, 1, 16)
	if err != nil {
		t.Fatalf("Curate failed: %v", err)
	}
	if len(mask) != 256 {
		t.Fatalf("Expected 256 values, got %d", len(mask))
	}
	if mask[2*16+2] == 0 {
		t.Error("Expected the slice content in the top-left corner")
	}
	if mask[10*16+2] != 0 || mask[2*16+12] != 0 {
		t.Error("Expected zero padding below and right of the slice")
	}
}

func TestCurateEmptySlice(t *testing.T) {
	mask, err := Curate(annotation.NewRaster(0, 0), 2, 2, 8)
	if err != nil {
		t.Fatalf("Curate failed: %v", err)
	}
	if len(mask) != 64 {
		t.Fatalf("Expected 64 values, got %d", len(mask))
	}
	for i, v := range mask {
		if v != 0 {
			t.Fatalf("Expected an all-zero mask, got %d at %d", v, i)
		}
	}

	// A one-pixel slice at a large scale resizes to nothing
	mask, err = Curate(filledRaster(1, 1, 9), 8, 8, 4)
	if err != nil || len(mask) != 16 {
		t.Errorf("Expected 16 zero values, got %d values and %v", len(mask), err)
	}
}

func TestCurateRejectsBadInput(t *testing.T) {
	if _, err := Curate(filledRaster(2, 2, 1), 1, 1, 0); err == nil {
		t.Error("Expected an error for a zero chip size")
	}
	if _, err := Curate(filledRaster(2, 2, 1), 0, 1, 4); err == nil {
		t.Error("Expected an error for a zero scale")
	}
}
