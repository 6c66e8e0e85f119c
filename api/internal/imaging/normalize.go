package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"draw-coach/api/internal/tutor"
)

// DefaultMaxDim bounds the larger dimension of a normalized image.
const DefaultMaxDim = 1024

const jpegQuality = 90

// ErrDecode marks input that cannot be parsed as an image.
var ErrDecode = errors.New("image cannot be decoded")

// Normalize turns an arbitrary uploaded raster into the canonical encoding:
// bounded dimensions (downscale only, aspect preserved), flattened onto an
// opaque white background, re-encoded as JPEG.
func Normalize(data []byte, maxDim int) (tutor.ImageObject, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	src, err := decode(data)
	if err != nil {
		return tutor.ImageObject{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return tutor.ImageObject{}, fmt.Errorf("%w: empty image", ErrDecode)
	}

	newW, newH := boundDims(w, h, maxDim)

	// Flatten onto opaque white; transparent uploads must not turn black.
	flat := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)

	final := image.Image(flat)
	if newW != w || newH != h {
		final = scaleDownNN(flat, newW, newH)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, final, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return tutor.ImageObject{}, fmt.Errorf("encode normalized image: %w", err)
	}
	return tutor.ImageObject{
		Base64:   base64.StdEncoding.EncodeToString(out.Bytes()),
		MimeType: "image/jpeg",
	}, nil
}

// boundDims shrinks (never grows) dimensions so the larger one equals
// maxDim, preserving aspect ratio.
func boundDims(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := (h*maxDim + w/2) / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := (w*maxDim + h/2) / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

func decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err == nil {
		return img, nil
	}
	// Some uploads carry a wrong extension/content type; try the two
	// formats we actually see before giving up.
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return jpeg.Decode(bytes.NewReader(b))
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return png.Decode(bytes.NewReader(b))
	}
	return nil, err
}

func scaleDownNN(src image.Image, newW, newH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW := sb.Dx()
	srcH := sb.Dy()
	for y := 0; y < newH; y++ {
		sy := sb.Min.Y + (y*srcH)/newH
		for x := 0; x < newW; x++ {
			sx := sb.Min.X + (x*srcW)/newW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
