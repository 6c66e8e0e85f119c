package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func decodeResult(t *testing.T, obj interface{ Bytes() ([]byte, error) }) image.Image {
	t.Helper()
	data, err := obj.Bytes()
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	return img
}

func TestNormalizeDownscalesToBound(t *testing.T) {
	obj, err := Normalize(pngBytes(t, 2048, 1024, color.White), 1024)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if obj.MimeType != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", obj.MimeType)
	}
	got := decodeResult(t, obj).Bounds()
	if got.Dx() != 1024 || got.Dy() != 512 {
		t.Fatalf("dims = %dx%d, want 1024x512", got.Dx(), got.Dy())
	}
}

func TestNormalizePreservesAspectOnPortrait(t *testing.T) {
	obj, err := Normalize(pngBytes(t, 600, 1200, color.White), 300)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := decodeResult(t, obj).Bounds()
	if got.Dx() != 150 || got.Dy() != 300 {
		t.Fatalf("dims = %dx%d, want 150x300", got.Dx(), got.Dy())
	}
}

func TestNormalizeNeverUpscales(t *testing.T) {
	obj, err := Normalize(pngBytes(t, 100, 50, color.White), 1024)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := decodeResult(t, obj).Bounds()
	if got.Dx() != 100 || got.Dy() != 50 {
		t.Fatalf("dims = %dx%d, want unchanged 100x50", got.Dx(), got.Dy())
	}
}

func TestNormalizeFlattensTransparencyToWhite(t *testing.T) {
	obj, err := Normalize(pngBytes(t, 10, 10, color.RGBA{}), 1024)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	img := decodeResult(t, obj)
	r, g, b, _ := img.At(5, 5).RGBA()
	// fully transparent input must come out white, not black
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("transparent pixel flattened to %d,%d,%d; want near-white", r>>8, g>>8, b>>8)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"), 1024)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestBoundDims(t *testing.T) {
	cases := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{2048, 1024, 1024, 1024, 512},
		{1024, 2048, 1024, 512, 1024},
		{800, 600, 1024, 800, 600},
		{3000, 10, 1000, 1000, 3},
		{5000, 1, 1000, 1000, 1},
	}
	for _, c := range cases {
		gw, gh := boundDims(c.w, c.h, c.max)
		if gw != c.wantW || gh != c.wantH {
			t.Fatalf("boundDims(%d,%d,%d) = %dx%d, want %dx%d", c.w, c.h, c.max, gw, gh, c.wantW, c.wantH)
		}
	}
}
