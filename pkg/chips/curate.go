package chips

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"slideseg/pkg/annotation"
)

// Curate brings a level-0 mask slice to chip resolution. The slice is resized
// with cubic interpolation by 1/scaleW and 1/scaleH, zero-padded on the bottom
// and right, then cropped from the top-left, so the result always holds
// chipSize*chipSize values.
func Curate(sub *annotation.Raster, scaleW, scaleH float64, chipSize int) ([]uint8, error) {
	if chipSize <= 0 {
		return nil, fmt.Errorf("invalid chip size %d", chipSize)
	}
	if !(scaleW > 0) || !(scaleH > 0) {
		return nil, fmt.Errorf("invalid scale %vx%v", scaleW, scaleH)
	}

	out := make([]uint8, chipSize*chipSize)
	if sub.Width == 0 || sub.Height == 0 {
		return out, nil
	}

	// OpenCV rounds the destination size half to even
	w := int(math.RoundToEven(float64(sub.Width) / scaleW))
	h := int(math.RoundToEven(float64(sub.Height) / scaleH))
	if w < 1 || h < 1 {
		return out, nil
	}

	src, err := gocv.NewMatFromBytes(sub.Height, sub.Width, gocv.MatTypeCV8UC1, sub.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap mask slice: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationCubic)

	resized := dst.ToBytes()
	if len(resized) != w*h {
		return nil, fmt.Errorf("resized mask has %d bytes, expected %d", len(resized), w*h)
	}

	rows := min(h, chipSize)
	cols := min(w, chipSize)
	for y := 0; y < rows; y++ {
		copy(out[y*chipSize:y*chipSize+cols], resized[y*w:y*w+cols])
	}
	return out, nil
}
