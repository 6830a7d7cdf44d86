// Package gradient maps positions within a reading cycle to colours.
//
// A cycle runs through three stops: the anchor colour at t=0, the accent
// colour at t=0.5 and an end colour as t approaches 1.  The end colour
// depends on the viewer's presentation mode so that the tail of every
// cycle blends into the background instead of clashing with it.
package gradient

import (
	"fmt"
	"math"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit-per-channel colour.
type RGB struct {
	R, G, B uint8
}

// Hex returns c as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) String() string { return c.Hex() }

// ParseHex parses "#rrggbb" (or "#rgb").
func ParseHex(s string) (RGB, error) {
	c, err := colorful.Hex(strings.TrimSpace(s))
	if err != nil {
		return RGB{}, fmt.Errorf("parse colour %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return RGB{r, g, b}, nil
}

// Mode is the viewer's light/dark presentation mode.
type Mode int

const (
	Light Mode = iota
	Dark
)

func (m Mode) String() string {
	if m == Dark {
		return "dark"
	}
	return "light"
}

// ParseMode parses "light" or "dark", ignoring case and surrounding space.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "light":
		return Light, nil
	case "dark":
		return Dark, nil
	}
	return Light, fmt.Errorf("unknown mode %q", s)
}

// Stops are the fixed colours of a gradient cycle.
type Stops struct {
	Anchor   RGB
	Accent   RGB
	LightEnd RGB
	DarkEnd  RGB
}

// DefaultStops are the stock flow-reading colours.
var DefaultStops = Stops{
	Anchor:   RGB{26, 115, 232},
	Accent:   RGB{220, 38, 38},
	LightEnd: RGB{17, 24, 39},
	DarkEnd:  RGB{229, 231, 235},
}

// End returns the end colour for mode m.
func (s Stops) End(m Mode) RGB {
	if m == Dark {
		return s.DarkEnd
	}
	return s.LightEnd
}

// Sample returns the colour at normalised cycle position t ∈ [0,1).
// Values outside that range are clamped.
func (s Stops) Sample(t float64, end RGB) RGB {
	switch {
	case math.IsNaN(t) || t < 0:
		t = 0
	case t > 1:
		t = 1
	}
	if t < 0.5 {
		return lerp(s.Anchor, s.Accent, t*2)
	}
	return lerp(s.Accent, end, (t-0.5)*2)
}

// Cycle returns the n colours of one cycle; entry k is Sample(k/n, end).
func (s Stops) Cycle(n int, end RGB) []RGB {
	if n <= 0 {
		return nil
	}
	out := make([]RGB, n)
	for k := range out {
		out[k] = s.Sample(float64(k)/float64(n), end)
	}
	return out
}

// Sample samples DefaultStops.
func Sample(t float64, end RGB) RGB {
	return DefaultStops.Sample(t, end)
}

func lerp(a, b RGB, p float64) RGB {
	return RGB{
		R: mix(a.R, b.R, p),
		G: mix(a.G, b.G, p),
		B: mix(a.B, b.B, p),
	}
}

func mix(a, b uint8, p float64) uint8 {
	v := math.Round(float64(a) + (float64(b)-float64(a))*p)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
