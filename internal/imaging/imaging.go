// Package imaging normalises pantry item photos.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// Photo limits.
const (
	MaxDimension  = 512
	MaxUploadSize = 5 << 20
	JPEGQuality   = 80
)

// Errors returned by Process.
var (
	ErrTooLarge    = errors.New("photo exceeds 5 MB")
	ErrUnsupported = errors.New("only JPEG and PNG photos are accepted")
)

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a normalised item photo.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Process validates an uploaded photo by content, shrinks it to fit
// MaxDimension and re-encodes it as JPEG on a white background.
func Process(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	if !accepted[http.DetectContentType(data)] {
		return nil, ErrUnsupported
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding photo: %w", err)
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding photo: %w", err)
	}
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg", Width: w, Height: h}, nil
}

// Fit scales w x h down to fit within max x max, keeping the aspect ratio.
// Sizes already within bounds are returned unchanged.
func Fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, clampOne(h * max / w)
	}
	return clampOne(w * max / h), max
}

func clampOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
