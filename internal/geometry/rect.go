package geometry

import (
	"encoding/json"
	"image"
)

// Rect is a normalized rectangle: two corner points expressed as fractions
// of image width/height, so annotations are resolution independent. The
// wire form is the 4-element array [x1, y1, x2, y2].
type Rect struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// FromSlice builds a Rect from a raw 4-element slice. Anything that is not
// exactly four values collapses to the degenerate zero rect; the result is
// always sanitized.
func FromSlice(values []float64) Rect {
	if len(values) != 4 {
		return Rect{}
	}
	r := Rect{X1: values[0], Y1: values[1], X2: values[2], Y2: values[3]}
	return r.Sanitize()
}

// Sanitize clamps all coordinates to [0, 1] and reorders swapped endpoints.
// Sanitize is idempotent.
func (r Rect) Sanitize() Rect {
	r.X1 = clamp01(r.X1)
	r.Y1 = clamp01(r.Y1)
	r.X2 = clamp01(r.X2)
	r.Y2 = clamp01(r.Y2)
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// PixelBox converts the rect to a pixel rectangle for an image of the given
// dimensions. Coordinates are truncated, not rounded.
func (r Rect) PixelBox(width, height int) image.Rectangle {
	s := r.Sanitize()
	return image.Rect(
		int(s.X1*float64(width)),
		int(s.Y1*float64(height)),
		int(s.X2*float64(width)),
		int(s.Y2*float64(height)),
	)
}

// IsZero reports whether the rect is the degenerate [0,0,0,0] rect.
func (r Rect) IsZero() bool {
	return r == Rect{}
}

// MarshalJSON encodes the rect as the 4-element array wire form.
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.X1, r.Y1, r.X2, r.Y2})
}

// UnmarshalJSON decodes the 4-element array wire form. Malformed values
// (wrong arity, non-numeric elements) collapse to the degenerate rect
// instead of failing the request; stray annotations are expected input.
func (r *Rect) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil || len(values) != 4 {
		*r = Rect{}
		return nil
	}
	*r = FromSlice(values)
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
