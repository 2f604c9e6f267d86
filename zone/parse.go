package zone

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParsePoints parses a polygon written as "x,y;x,y;...".
//
// Arguments:
//   - s: The point list. Whitespace around numbers is ignored.
//
// Returns:
//   - []Point: The points in order.
//   - error: An error for a malformed pair or fewer than MinPoints points.
func ParsePoints(s string) ([]Point, error) {
	var points []Point
	for i, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		xy := strings.Split(pair, ",")
		if len(xy) != 2 {
			return nil, errors.Errorf("zone: point %d %q is not x,y", i+1, pair)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "zone: point %d x", i+1)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "zone: point %d y", i+1)
		}
		points = append(points, Point{X: x, Y: y})
	}
	if len(points) < MinPoints {
		return nil, errors.Wrapf(ErrTooFewPoints, "got %d", len(points))
	}
	return points, nil
}

// FormatPoints is the inverse of ParsePoints.
func FormatPoints(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
	}
	return strings.Join(parts, ";")
}
