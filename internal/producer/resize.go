package producer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxEmbedDimension bounds the longer edge sent to the embedding server.
// Images already at or under this size pass through unchanged.
const maxEmbedDimension = 1024

// resizeForEmbedding downsizes data to fit within maxEmbedDimension on its
// longer edge, re-encoding as JPEG. Images already small enough are
// returned unchanged. A decode failure is returned to the caller rather
// than silently passing the original bytes to the embedder.
func resizeForEmbedding(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxEmbedDimension && height <= maxEmbedDimension {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxEmbedDimension
		newHeight = int(float64(height) * float64(maxEmbedDimension) / float64(width))
	} else {
		newHeight = maxEmbedDimension
		newWidth = int(float64(width) * float64(maxEmbedDimension) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
