package frame

import (
	"strings"
	"testing"
)

func TestChannelOrderRoundTrip(t *testing.T) {
	f := NewBGR(2, 1)
	// pixel 0: blue=10 green=20 red=30
	copy(f.Pix, []uint8{10, 20, 30, 40, 50, 60})

	rgb := f.ToRGB()
	if rgb.Pix[0] != 30 || rgb.Pix[1] != 20 || rgb.Pix[2] != 10 {
		t.Fatalf("rgb pixel 0 = %v, want [30 20 10]", rgb.Pix[:3])
	}

	back := rgb.ToBGR()
	for i := range f.Pix {
		if back.Pix[i] != f.Pix[i] {
			t.Fatalf("round trip mismatch at %d: %d != %d", i, back.Pix[i], f.Pix[i])
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	f := NewBGR(2, 2)
	f.Seq = 7
	c := f.Clone()
	c.Pix[0] = 99
	if f.Pix[0] == 99 {
		t.Fatal("clone shares the pixel buffer")
	}
	if c.Seq != 7 {
		t.Fatalf("clone seq = %d, want 7", c.Seq)
	}
}

func TestClipStaysInBounds(t *testing.T) {
	cases := []struct {
		in   Rect
		want Rect
	}{
		{Rect{-10, -10, 30, 30}, Rect{0, 0, 20, 20}},
		{Rect{90, 90, 50, 50}, Rect{90, 90, 10, 10}},
		{Rect{200, 200, 10, 10}, Rect{100, 100, 0, 0}},
		{Rect{10, 10, 5, 5}, Rect{10, 10, 5, 5}},
	}
	for _, c := range cases {
		got := c.in.Clip(100, 100)
		if got != c.want {
			t.Fatalf("Clip(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestCropGeometry(t *testing.T) {
	f := NewBGR(4, 4)
	for i := range f.Pix {
		f.Pix[i] = uint8(i)
	}
	sub := f.Crop(Rect{1, 1, 2, 2})
	if sub.Width != 2 || sub.Height != 2 {
		t.Fatalf("crop is %dx%d, want 2x2", sub.Width, sub.Height)
	}
	// top-left of the crop is pixel (1,1) of the source
	src := (1*4 + 1) * 3
	if sub.Pix[0] != f.Pix[src] {
		t.Fatalf("crop pixel 0 = %d, want %d", sub.Pix[0], f.Pix[src])
	}
}

func TestJPEGEncodeAndDataURL(t *testing.T) {
	f := NewBGR(8, 8)
	data, err := f.ToRGB().EncodeJPEG(80)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	url := JPEGDataURL(data)
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("bad data URL prefix: %.40s", url)
	}
	raw, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("decode data URL: %v", err)
	}
	if len(raw) != len(data) {
		t.Fatalf("round trip lost bytes: %d != %d", len(raw), len(data))
	}
	if _, err := DecodeImage(raw); err != nil {
		t.Fatalf("decode image: %v", err)
	}
}

func TestDecodeDataURLBareBase64(t *testing.T) {
	raw, err := DecodeDataURL("aGVsbG8=")
	if err != nil {
		t.Fatalf("bare base64 should decode: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("got %q", raw)
	}
}

func TestMaskPNG(t *testing.T) {
	g := NewGray(4, 4)
	g.Pix[5] = 255
	data, err := g.EncodePNG()
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Width != 4 || img.Height != 4 {
		t.Fatalf("mask geometry %dx%d", img.Width, img.Height)
	}
}

func TestDrawRectClamps(t *testing.T) {
	f := NewBGR(10, 10)
	// Rect extending past all edges must not panic or write out of range.
	f.DrawRect(Rect{-5, -5, 20, 20}, ColorEligible, 2)
	f.DrawRect(Rect{8, 8, 10, 10}, ColorInvalid, 1)
}
