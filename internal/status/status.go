// Package status encodes attendance answers as cell text colors and decodes
// them back. It is the only place that knows which color means what; the
// rest of the codebase deals in Status values.
package status

import (
	"attendbot/internal/sheet"
)

// Status is a participant's attendance answer as recorded on the grid.
type Status int

const (
	// Unknown means the cell carries no annotation.
	Unknown Status = iota
	Yes
	No
	Maybe

	// Other is decode-only: the cell is colored, but not with a palette
	// color. Someone edited the sheet by hand. Treated like Unknown
	// everywhere except logs.
	Other
)

func (s Status) String() string {
	switch s {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Maybe:
		return "maybe"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// Answered reports whether the status counts as a recorded answer.
func (s Status) Answered() bool {
	return s == Yes || s == No || s == Maybe
}

// Palette assigns a text color per answer. Zero entries fall back to the
// defaults: green for yes, red for no, orange for maybe.
type Palette struct {
	Yes   sheet.Color
	No    sheet.Color
	Maybe sheet.Color
}

var defaultPalette = Palette{
	Yes:   sheet.Color{Green: 1},
	No:    sheet.Color{Red: 1},
	Maybe: sheet.Color{Red: 1, Green: 0.65},
}

// defaultTolerance absorbs the channel drift the API introduces when colors
// come from themes or were picked by hand near the canonical value.
const defaultTolerance = 0.15

// Codec maps between Status values and palette colors. Decode is the exact
// inverse of Encode for every representable status.
type Codec struct {
	palette [4]sheet.Color
	tol     float64
}

func NewCodec(p Palette) *Codec {
	c := &Codec{tol: defaultTolerance}
	c.palette[Yes] = pick(p.Yes, defaultPalette.Yes)
	c.palette[No] = pick(p.No, defaultPalette.No)
	c.palette[Maybe] = pick(p.Maybe, defaultPalette.Maybe)
	return c
}

func pick(override, def sheet.Color) sheet.Color {
	if override.IsZero() {
		return def
	}
	return override
}

// Decode maps a cell color to the answer it stands for. The zero color is
// Unknown; a color outside the palette tolerance is Other.
func (c *Codec) Decode(color sheet.Color) Status {
	if color.IsZero() {
		return Unknown
	}
	for _, s := range []Status{Yes, No, Maybe} {
		if within(color, c.palette[s], c.tol) {
			return s
		}
	}
	return Other
}

// Encode returns the palette color for a status. The second result is false
// for Unknown, which has no color of its own.
func (c *Codec) Encode(s Status) (sheet.Color, bool) {
	switch s {
	case Yes, No, Maybe:
		return c.palette[s], true
	default:
		return sheet.Color{}, false
	}
}

func within(a, b sheet.Color, tol float64) bool {
	return abs(a.Red-b.Red) <= tol &&
		abs(a.Green-b.Green) <= tol &&
		abs(a.Blue-b.Blue) <= tol
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
