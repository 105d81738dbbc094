package segment

import (
	"strings"

	"github.com/oriys/strix/internal/frame"
)

// hueRange is an inclusive HSV window in OpenCV-style units:
// H in 0..180, S and V in 0..255.
type hueRange struct {
	hLo, hHi int
	sLo, sHi int
	vLo, vHi int
}

var colorRanges = map[string][]hueRange{
	// Red wraps the hue circle, so it needs two windows.
	"red": {
		{0, 10, 50, 255, 50, 255},
		{160, 180, 50, 255, 50, 255},
	},
	"green":  {{35, 85, 50, 255, 50, 255}},
	"yellow": {{20, 35, 60, 255, 60, 255}},
	"brown":  {{10, 20, 50, 255, 20, 200}},
	"white":  {{0, 180, 0, 40, 180, 255}},
	"purple": {{125, 155, 50, 255, 50, 255}},
}

// colorKeywords maps query substrings to a threshold color. Checked in
// order so the more specific disease terms win over plant-part terms.
var colorKeywords = []struct {
	keyword string
	color   string
}{
	{"yellow", "yellow"},
	{"黄", "yellow"},
	{"brown", "brown"},
	{"褐", "brown"},
	{"mold", "white"},
	{"霉", "white"},
	{"white", "white"},
	{"白", "white"},
	{"purple", "purple"},
	{"紫", "purple"},
	{"leaf", "green"},
	{"叶", "green"},
	{"green", "green"},
	{"strawberry", "red"},
	{"草莓", "red"},
	{"fruit", "red"},
	{"果", "red"},
	{"red", "red"},
	{"红", "red"},
}

// queryColor picks the threshold color for a query. Unknown queries
// default to red, the dominant subject color in this deployment.
func queryColor(query string) string {
	q := strings.ToLower(query)
	for _, kw := range colorKeywords {
		if strings.Contains(q, kw.keyword) {
			return kw.color
		}
	}
	return "red"
}

// FallbackMask builds a binary mask by HSV thresholding against the color
// implied by the query, then closes and opens the mask with a 5x5 kernel
// to drop speckle and fill pinholes.
func FallbackMask(f *frame.BGR, query string) *frame.Gray {
	ranges := colorRanges[queryColor(query)]

	mask := frame.NewGray(f.Width, f.Height)
	for i := 0; i < f.Width*f.Height; i++ {
		h, s, v := bgrToHSV(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
		for _, r := range ranges {
			if h >= r.hLo && h <= r.hHi && s >= r.sLo && s <= r.sHi && v >= r.vLo && v <= r.vHi {
				mask.Pix[i] = 255
				break
			}
		}
	}

	mask = erode(dilate(mask, 2), 2) // close: fill pinholes
	mask = dilate(erode(mask, 2), 2) // open: drop speckle
	return mask
}

// bgrToHSV converts one pixel to OpenCV-style HSV.
func bgrToHSV(b, g, r uint8) (int, int, int) {
	bf, gf, rf := int(b), int(g), int(r)
	maxC := max(bf, max(gf, rf))
	minC := min(bf, min(gf, rf))
	delta := maxC - minC

	v := maxC
	s := 0
	if maxC > 0 {
		s = 255 * delta / maxC
	}
	h := 0
	if delta > 0 {
		switch maxC {
		case rf:
			h = 30 * (gf - bf) / delta
		case gf:
			h = 60 + 30*(bf-rf)/delta
		default:
			h = 120 + 30*(rf-gf)/delta
		}
		if h < 0 {
			h += 180
		}
	}
	return h, s, v
}

// dilate grows the white region by a square kernel of the given radius
// (radius 2 = 5x5 kernel).
func dilate(m *frame.Gray, radius int) *frame.Gray {
	out := frame.NewGray(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] == 0 {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= m.Height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if xx >= 0 && xx < m.Width {
						out.Pix[yy*m.Width+xx] = 255
					}
				}
			}
		}
	}
	return out
}

// erode keeps a pixel white only when its whole kernel window is white.
func erode(m *frame.Gray, radius int) *frame.Gray {
	out := frame.NewGray(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			keep := true
			for dy := -radius; keep && dy <= radius; dy++ {
				yy := y + dy
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if yy < 0 || yy >= m.Height || xx < 0 || xx >= m.Width ||
						m.Pix[yy*m.Width+xx] == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				out.Pix[y*m.Width+x] = 255
			}
		}
	}
	return out
}
