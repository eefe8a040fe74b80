package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"slideseg/internal/models"
)

// ErrParse is returned for annotation documents that cannot be turned into
// polygons
var ErrParse = errors.New("annotation parse error")

type xmlRegion struct {
	Text     *string       `xml:"Text,attr"`
	Vertices []xmlVertices `xml:"Vertices"`
}

type xmlVertices struct {
	Vertex []xmlVertex `xml:"Vertex"`
}

type xmlVertex struct {
	X *string `xml:"X,attr"`
	Y *string `xml:"Y,attr"`
}

// ParseRegions reads every <Region> element of an annotation document in
// document order, wherever it is nested
func ParseRegions(r io.Reader) ([]models.Polygon, error) {
	dec := xml.NewDecoder(r)
	var polygons []models.Polygon

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Region" {
			continue
		}

		var reg xmlRegion
		if err := dec.DecodeElement(&reg, &start); err != nil {
			return nil, fmt.Errorf("%w: region %d: %v", ErrParse, len(polygons)+1, err)
		}
		poly, err := reg.polygon()
		if err != nil {
			return nil, fmt.Errorf("%w: region %d: %v", ErrParse, len(polygons)+1, err)
		}
		polygons = append(polygons, poly)
	}

	return polygons, nil
}

// ParseFile reads the regions of an annotation file
func ParseFile(path string) ([]models.Polygon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation file: %w", err)
	}
	defer f.Close()

	polygons, err := ParseRegions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return polygons, nil
}

func (reg xmlRegion) polygon() (models.Polygon, error) {
	if reg.Text == nil {
		return models.Polygon{}, errors.New("missing Text attribute")
	}

	poly := models.Polygon{Label: strings.ToUpper(*reg.Text)}
	for _, vs := range reg.Vertices {
		for i, v := range vs.Vertex {
			if v.X == nil || v.Y == nil {
				return models.Polygon{}, fmt.Errorf("vertex %d: missing coordinate", i+1)
			}
			x, err := parseCoordinate(*v.X)
			if err != nil {
				return models.Polygon{}, fmt.Errorf("vertex %d: %v", i+1, err)
			}
			y, err := parseCoordinate(*v.Y)
			if err != nil {
				return models.Polygon{}, fmt.Errorf("vertex %d: %v", i+1, err)
			}
			poly.Vertices = append(poly.Vertices, image.Point{X: x, Y: y})
		}
	}
	return poly, nil
}

// parseCoordinate rounds half to even
func parseCoordinate(s string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q", s)
	}
	return int(math.RoundToEven(f)), nil
}

// scanLabels returns the distinct labels of a file in first-seen order
func scanLabels(path string) ([]string, error) {
	polygons, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var labels []string
	for _, p := range polygons {
		if seen[p.Label] {
			continue
		}
		seen[p.Label] = true
		labels = append(labels, p.Label)
	}
	return labels, nil
}
