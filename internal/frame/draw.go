package frame

// Color is a BGR annotation color.
type Color [3]uint8

var (
	ColorEligible = Color{0, 255, 0}     // green
	ColorCooling  = Color{128, 128, 128} // gray
	ColorInvalid  = Color{0, 0, 255}     // red
)

// DrawRect draws an axis-aligned rectangle outline onto the frame,
// clamped to the frame bounds.
func (f *BGR) DrawRect(r Rect, c Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		f.drawHLine(r.X-t, r.X+r.W+t, r.Y-t, c)
		f.drawHLine(r.X-t, r.X+r.W+t, r.Y+r.H+t, c)
		f.drawVLine(r.Y-t, r.Y+r.H+t, r.X-t, c)
		f.drawVLine(r.Y-t, r.Y+r.H+t, r.X+r.W+t, c)
	}
}

func (f *BGR) drawHLine(x0, x1, y int, c Color) {
	if y < 0 || y >= f.Height {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 >= f.Width {
		x1 = f.Width - 1
	}
	for x := x0; x <= x1; x++ {
		f.setPixel(x, y, c)
	}
}

func (f *BGR) drawVLine(y0, y1, x int, c Color) {
	if x < 0 || x >= f.Width {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 >= f.Height {
		y1 = f.Height - 1
	}
	for y := y0; y <= y1; y++ {
		f.setPixel(x, y, c)
	}
}

func (f *BGR) setPixel(x, y int, c Color) {
	i := (y*f.Width + x) * 3
	f.Pix[i] = c[0]
	f.Pix[i+1] = c[1]
	f.Pix[i+2] = c[2]
}
