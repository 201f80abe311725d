package track

import (
	"errors"
	"fmt"
)

// BoundingBox is an axis-aligned lat/lon rectangle. A box with
// MinLon > MaxLon crosses the antimeridian and matches longitudes in
// either hemisphere: lon >= MinLon or lon <= MaxLon.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// Validate checks admission rules: latitudes ordered strictly and inside
// [-90, 90], longitudes inside [-180, 180]. Longitude order is not checked,
// a reversed pair is a wrapped box.
func (b BoundingBox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidBoundingBox)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: min_lat must be < max_lat", ErrInvalidBoundingBox)
	}
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidBoundingBox)
	}
	return nil
}

// Contains reports whether the point falls inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return lon >= b.MinLon && lon <= b.MaxLon
	}
	// box wraps the antimeridian
	return lon >= b.MinLon || lon <= b.MaxLon
}
