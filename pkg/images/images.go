// Package images post-processes downloaded product images before upload:
// the near-white border around the product is trimmed away and the result
// is re-encoded as JPEG. Full background removal (alpha matting) is done by
// a separate service, not here.
package images

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// whiteTolerance is how far the summed RGB of a pixel may fall below pure
// white (3*255) and still count as background.
const whiteTolerance = 40

// Process decodes an image, trims its white border and returns JPEG bytes
// ready for upload.
func Process(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("images: decoding: %w", err)
	}
	trimmed := TrimWhite(img, whiteTolerance)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, trimmed, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("images: encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// TrimWhite crops img to the bounding box of its non-white pixels. An image
// that is entirely white is returned unchanged.
func TrimWhite(img image.Image, tolerance int) image.Image {
	box, ok := contentBounds(img, tolerance)
	if !ok || box == img.Bounds() {
		return img
	}
	return imaging.Crop(img, box)
}

func contentBounds(img image.Image, tolerance int) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum := int(r>>8) + int(g>>8) + int(bl>>8)
			if sum <= 3*255-tolerance {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
