package output

import (
	"image/color"
	"math"
)

var (
	Red        = color.RGBA{255, 0, 0, 255}
	DarkRed    = color.RGBA{139, 0, 0, 255}
	Orange     = color.RGBA{255, 165, 0, 255}
	Yellow     = color.RGBA{255, 255, 0, 255}
	White      = color.RGBA{255, 255, 255, 255}
	LightGreen = color.RGBA{144, 238, 144, 255}
	DarkGreen  = color.RGBA{0, 100, 0, 255}
	Blue       = color.RGBA{0, 0, 255, 255}
)

// LossOverlay is semi-transparent red, blended over a base layer.
var LossOverlay = color.RGBA{255, 0, 0, 0x88}

// Palette maps [Min, Max] linearly onto evenly spaced colour stops. Values
// outside the range take the end colours.
type Palette struct {
	Min, Max float64
	Stops    []color.RGBA
}

var (
	NDVIPalette   = Palette{Min: -0.2, Max: 0.9, Stops: []color.RGBA{Red, Yellow, LightGreen, DarkGreen}}
	ChangePalette = Palette{Min: -0.5, Max: 0.5, Stops: []color.RGBA{DarkRed, Red, Orange, Yellow, White, LightGreen, DarkGreen}}
)

func (p Palette) At(v float64) color.RGBA {
	if len(p.Stops) == 1 || p.Max <= p.Min {
		return p.Stops[0]
	}
	t := (v - p.Min) / (p.Max - p.Min)
	t = math.Min(1, math.Max(0, t))
	pos := t * float64(len(p.Stops)-1)
	i := int(math.Floor(pos))
	if i >= len(p.Stops)-1 {
		return p.Stops[len(p.Stops)-1]
	}
	f := pos - float64(i)
	a, b := p.Stops[i], p.Stops[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f))
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), lerp(a.A, b.A)}
}

// Stretch is a per-channel linear stretch with gamma, like an RGB
// visualisation with min, max and gamma parameters.
type Stretch struct {
	Min, Max, Gamma float64
}

// FalseColorStretch renders reflectance in [0, 0.3] with gamma 1.4.
var FalseColorStretch = Stretch{Min: 0, Max: 0.3, Gamma: 1.4}

func (s Stretch) Apply(v float64) uint8 {
	t := (v - s.Min) / (s.Max - s.Min)
	t = math.Min(1, math.Max(0, t))
	if s.Gamma > 0 && s.Gamma != 1 {
		t = math.Pow(t, 1/s.Gamma)
	}
	return uint8(math.Round(t * 255))
}

// blend composites src over dst.
func blend(dst, src color.RGBA) color.RGBA {
	a := float64(src.A) / 255
	mix := func(d, s uint8) uint8 {
		return uint8(math.Round(float64(s)*a + float64(d)*(1-a)))
	}
	return color.RGBA{mix(dst.R, src.R), mix(dst.G, src.G), mix(dst.B, src.B), 255}
}
