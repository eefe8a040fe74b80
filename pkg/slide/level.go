package slide

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Symbolic level tokens
const (
	LevelLowest  = "lowest"
	LevelHighest = "highest"
	LevelAll     = "all"
)

// ErrUnknownLevel is returned for level tokens that name no level
var ErrUnknownLevel = errors.New("unknown level")

// FormatMagnification renders a magnification the way level tokens are
// written: no decimals above 3x, one decimal in (2, 3], two below, always
// shown with at least one decimal place (40.0, 2.5, 1.25).
func FormatMagnification(mag float64) string {
	prec := 2
	switch {
	case mag > 3:
		prec = 0
	case mag > 2:
		prec = 1
	}
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(mag, 'f', prec, 64), 64)

	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Magnifications lists the magnification of every level, given the objective
// power of level 0 and the per-level downsample factors. It returns nil when
// the objective power is unknown.
func Magnifications(objective float64, downsamples []float64) []string {
	if objective <= 0 {
		return nil
	}
	out := make([]string, len(downsamples))
	for i, ds := range downsamples {
		out[i] = FormatMagnification(objective / ds)
	}
	return out
}

// Downsamples extracts the downsample factor of every level of s
func Downsamples(s Slide) []float64 {
	levels := s.Levels()
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Downsample
	}
	return out
}

// ResolveLevel maps a level token to a level index. lowest and highest name
// the last and first level; all returns levelCount, which callers treat as
// "every level". A magnification without an exact match resolves to the
// nearest available one; equidistant candidates resolve to the lower index.
func ResolveLevel(token string, levelCount int, available []string) (int, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	switch t {
	case LevelLowest:
		return levelCount - 1, nil
	case LevelHighest:
		return 0, nil
	case LevelAll:
		return levelCount, nil
	}

	for i, m := range available {
		if m == t && i < levelCount {
			return i, nil
		}
	}

	want, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(want) || math.IsInf(want, 0) {
		return 0, fmt.Errorf("%w %q: use lowest, highest, all or a magnification", ErrUnknownLevel, token)
	}

	n := len(available)
	if levelCount < n {
		n = levelCount
	}
	if n == 0 {
		return 0, fmt.Errorf("%w %q: slide reports no magnifications", ErrUnknownLevel, token)
	}

	dists := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(available[i], 64)
		if err != nil {
			dists[i] = math.Inf(1)
			continue
		}
		dists[i] = math.Abs(want - v)
	}

	idx := floats.MinIdx(dists)
	if math.IsInf(dists[idx], 1) {
		return 0, fmt.Errorf("%w %q: slide reports no magnifications", ErrUnknownLevel, token)
	}
	return idx, nil
}
