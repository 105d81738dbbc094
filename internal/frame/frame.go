// Package frame carries camera frames through the pipeline with the channel
// order encoded in the type.
//
// # Channel-order contract
//
// The camera and every detector operate on BGR pixel buffers. RGB exists
// only at the two boundaries: immediately before model inference and
// immediately before client delivery. Because BGR and RGB are distinct
// types, a frame cannot cross a boundary without an explicit conversion.
package frame

import (
	"fmt"
	"time"
)

// Rect is an axis-aligned region in pixel space.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Clip bounds the rect to a width×height frame. Degenerate inputs collapse
// to an empty rect at the nearest corner.
func (r Rect) Clip(width, height int) Rect {
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X > width {
		r.X = width
	}
	if r.Y > height {
		r.Y = height
	}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	return r
}

// Empty reports whether the rect covers no pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Quad is the four decoded corner points of a marker, clockwise from
// top-left, in full-frame coordinates.
type Quad [4][2]int

// BGR is a camera-native frame: 3 bytes per pixel, blue first.
type BGR struct {
	Pix        []uint8
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// RGB is an inference/client-native frame: 3 bytes per pixel, red first.
type RGB struct {
	Pix        []uint8
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Gray is a single-channel mask: 1 byte per pixel, 0 or 255 for binary masks.
type Gray struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewBGR allocates a zeroed camera-native frame.
func NewBGR(width, height int) *BGR {
	return &BGR{
		Pix:    make([]uint8, width*height*3),
		Width:  width,
		Height: height,
	}
}

// Validate checks that the buffer length matches the declared geometry.
func (f *BGR) Validate() error {
	if want := f.Width * f.Height * 3; len(f.Pix) != want {
		return fmt.Errorf("frame buffer is %d bytes, geometry %dx%d needs %d", len(f.Pix), f.Width, f.Height, want)
	}
	return nil
}

// Clone deep-copies the frame. Asynchronous consumers must take a clone:
// the pipeline reuses the original across iterations.
func (f *BGR) Clone() *BGR {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &BGR{Pix: pix, Width: f.Width, Height: f.Height, Seq: f.Seq, CapturedAt: f.CapturedAt}
}

// Crop copies the clipped region into a new frame. The returned frame keeps
// the source's sequence number and timestamp.
func (f *BGR) Crop(r Rect) *BGR {
	r = r.Clip(f.Width, f.Height)
	out := NewBGR(r.W, r.H)
	out.Seq = f.Seq
	out.CapturedAt = f.CapturedAt
	for y := 0; y < r.H; y++ {
		src := ((r.Y+y)*f.Width + r.X) * 3
		dst := y * r.W * 3
		copy(out.Pix[dst:dst+r.W*3], f.Pix[src:src+r.W*3])
	}
	return out
}

// ToRGB converts to inference/client channel order. This is one of the two
// legal conversion points of the channel-order contract.
func (f *BGR) ToRGB() *RGB {
	out := &RGB{
		Pix:        make([]uint8, len(f.Pix)),
		Width:      f.Width,
		Height:     f.Height,
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
	swapChannels(out.Pix, f.Pix)
	return out
}

// ToBGR converts back to camera channel order.
func (f *RGB) ToBGR() *BGR {
	out := &BGR{
		Pix:        make([]uint8, len(f.Pix)),
		Width:      f.Width,
		Height:     f.Height,
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
	swapChannels(out.Pix, f.Pix)
	return out
}

func swapChannels(dst, src []uint8) {
	for i := 0; i+2 < len(src); i += 3 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
	}
}

// NewGray allocates a zeroed mask.
func NewGray(width, height int) *Gray {
	return &Gray{Pix: make([]uint8, width*height), Width: width, Height: height}
}
