package marker

import "github.com/oriys/strix/internal/frame"

// DefaultPreprocess is the fallback pass tried when the first decode yields
// nothing: grayscale, histogram equalization, 3x3 median blur, adaptive
// mean threshold. The result is written back to all three channels so the
// frame stays camera-native for the decoder.
func DefaultPreprocess(f *frame.BGR) *frame.BGR {
	w, h := f.Width, f.Height
	gray := make([]uint8, w*h)
	for i := 0; i < w*h; i++ {
		b := int(f.Pix[i*3])
		g := int(f.Pix[i*3+1])
		r := int(f.Pix[i*3+2])
		// BT.601 luma, integer arithmetic
		gray[i] = uint8((299*r + 587*g + 114*b) / 1000)
	}

	gray = equalize(gray)
	gray = median3(gray, w, h)
	gray = adaptiveThreshold(gray, w, h, 11, 2)

	out := frame.NewBGR(w, h)
	out.Seq = f.Seq
	out.CapturedAt = f.CapturedAt
	for i, v := range gray {
		out.Pix[i*3] = v
		out.Pix[i*3+1] = v
		out.Pix[i*3+2] = v
	}
	return out
}

func equalize(gray []uint8) []uint8 {
	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}
	var cdf [256]int
	sum := 0
	for i, c := range hist {
		sum += c
		cdf[i] = sum
	}
	// First non-zero CDF value anchors the remap.
	cdfMin := 0
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}
	total := len(gray)
	if total == cdfMin {
		return gray
	}
	out := make([]uint8, total)
	for i, v := range gray {
		out[i] = uint8((cdf[v] - cdfMin) * 255 / (total - cdfMin))
	}
	return out
}

func median3(gray []uint8, w, h int) []uint8 {
	out := make([]uint8, len(gray))
	copy(out, gray)
	var window [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[k] = gray[(y+dy)*w+(x+dx)]
					k++
				}
			}
			out[y*w+x] = median9(window)
		}
	}
	return out
}

func median9(v [9]uint8) uint8 {
	// Insertion sort; 9 elements.
	for i := 1; i < 9; i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
	return v[4]
}

func adaptiveThreshold(gray []uint8, w, h, block, c int) []uint8 {
	half := block / 2
	// Summed-area table for O(1) window means.
	sat := make([]int, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := 0
		for x := 0; x < w; x++ {
			row += int(gray[y*w+x])
			sat[(y+1)*(w+1)+x+1] = sat[y*(w+1)+x+1] + row
		}
	}
	out := make([]uint8, len(gray))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			area := (y1 - y0 + 1) * (x1 - x0 + 1)
			sum := sat[(y1+1)*(w+1)+x1+1] - sat[y0*(w+1)+x1+1] -
				sat[(y1+1)*(w+1)+x0] + sat[y0*(w+1)+x0]
			mean := sum / area
			if int(gray[y*w+x]) > mean-c {
				out[y*w+x] = 255
			}
		}
	}
	return out
}
