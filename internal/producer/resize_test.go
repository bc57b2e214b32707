package producer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeTestJPEG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestResizeForEmbedding_PassesThroughSmallImage(t *testing.T) {
	data := encodeTestJPEG(t, 64, 64, color.White)

	out, err := resizeForEmbedding(data)
	if err != nil {
		t.Fatalf("resizeForEmbedding: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected small image to pass through unchanged")
	}
}

func TestResizeForEmbedding_DownscalesLargeImage(t *testing.T) {
	data := encodeTestJPEG(t, 2048, 1024, color.RGBA{R: 200, G: 50, B: 50, A: 255})

	out, err := resizeForEmbedding(data)
	if err != nil {
		t.Fatalf("resizeForEmbedding: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode resized output: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != maxEmbedDimension {
		t.Errorf("width = %d, want %d", bounds.Dx(), maxEmbedDimension)
	}
	if bounds.Dy() != maxEmbedDimension/2 {
		t.Errorf("height = %d, want %d", bounds.Dy(), maxEmbedDimension/2)
	}
}

func TestResizeForEmbedding_InvalidDataErrors(t *testing.T) {
	if _, err := resizeForEmbedding([]byte("not an image")); err == nil {
		t.Error("expected an error for invalid image data")
	}
}
