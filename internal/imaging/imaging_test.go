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

func encodeJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{200, 120, 0, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodeTransparentPNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{100, 80, 100, 80},
		{1024, 512, 512, 256},
		{512, 2048, 128, 512},
		{4000, 1, 512, 1},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, 512)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("Fit(%d, %d): expected %dx%d, got %dx%d", tt.w, tt.h, tt.wantW, tt.wantH, w, h)
		}
	}
}

func TestProcessShrinksLargePhoto(t *testing.T) {
	photo, err := Process(bytes.NewReader(encodeJPEG(1200, 600)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if photo.MIME != "image/jpeg" || photo.Width != 512 || photo.Height != 256 {
		t.Errorf("unexpected photo %s %dx%d", photo.MIME, photo.Width, photo.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(photo.Data))
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if img.Bounds().Dx() != 512 {
		t.Errorf("expected width 512, got %d", img.Bounds().Dx())
	}
}

func TestProcessFlattensTransparency(t *testing.T) {
	photo, err := Process(bytes.NewReader(encodeTransparentPNG(20, 20)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	img, _, _ := image.Decode(bytes.NewReader(photo.Data))
	r, g, b, _ := img.At(10, 10).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("expected white background, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestProcessRejectsOtherFormats(t *testing.T) {
	if _, err := Process(bytes.NewReader([]byte("GIF89a..."))); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Process(bytes.NewReader([]byte("just text"))); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestProcessRejectsHugeUpload(t *testing.T) {
	data := make([]byte, MaxUploadSize+10)
	copy(data, encodeJPEG(10, 10))
	if _, err := Process(bytes.NewReader(data)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
