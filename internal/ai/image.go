package ai

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ResizeImage resizes an image to fit within maxSize (width or height) while keeping aspect ratio.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Check if resizing is needed.
	if width <= maxSize && height <= maxSize {
		// Re-encode as JPEG to ensure consistent format.
		return encodeJPEGBytes(img)
	}

	resized := scaleToFit(img, maxSize)
	return encodeJPEGBytes(resized)
}

// CropFace cuts a face box out of a photo and returns it as a JPEG
// thumbnail. The box is [x1, y1, x2, y2] in pixel coordinates; padding
// grows it on every side relative to the box size so some context around
// the face survives. The crop is clamped to the image and scaled down to
// maxSize when larger.
func CropFace(data []byte, bbox []float64, padding float64, maxSize int) ([]byte, error) {
	if len(bbox) != 4 || bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return nil, fmt.Errorf("invalid face box: %v", bbox)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	padX := (bbox[2] - bbox[0]) * padding
	padY := (bbox[3] - bbox[1]) * padding
	rect := image.Rect(
		int(bbox[0]-padX),
		int(bbox[1]-padY),
		int(bbox[2]+padX),
		int(bbox[3]+padY),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("face box %v lies outside the image", bbox)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	if rect.Dx() <= maxSize && rect.Dy() <= maxSize {
		return encodeJPEGBytes(crop)
	}
	return encodeJPEGBytes(scaleToFit(crop, maxSize))
}

// scaleToFit scales an image down so its longest edge is maxSize,
// keeping the aspect ratio.
func scaleToFit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

func encodeJPEGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
