// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// TextureStagingData holds pixel data for a texture pending GPU upload.
// Terrain density, height and hole maps are staged through this type before the renderer creates the GPU texture.
type TextureStagingData struct {
	// Pixels is the tightly packed pixel data, Channels bytes per pixel, row-major.
	Pixels []byte
	// Width is the width of the texture in pixels.
	Width uint32
	// Height is the height of the texture in pixels.
	Height uint32
	// Channels is the number of 8-bit channels per pixel (1 for single-channel maps, 4 for RGBA).
	Channels int
}

// Sample returns the normalized value of channel 0 at integer pixel coordinates, clamped to the edges.
//
// Parameters:
//   - x: the column
//   - y: the row
//
// Returns:
//   - float32: the channel value in [0, 1], or 0 if the staging data is empty
func (t TextureStagingData) Sample(x, y int) float32 {
	if t.Width == 0 || t.Height == 0 || len(t.Pixels) == 0 {
		return 0
	}
	x = Clamp(x, 0, int(t.Width)-1)
	y = Clamp(y, 0, int(t.Height)-1)
	channels := max(t.Channels, 1)
	return float32(t.Pixels[(y*int(t.Width)+x)*channels]) / 255
}

// ImageToStaging converts a decoded image to staging data with the requested channel count.
// Single-channel output keeps the red channel, which is where density and hole maps are authored.
//
// Parameters:
//   - img: the decoded image
//   - channels: 1 or 4
//
// Returns:
//   - TextureStagingData: the converted pixels
//   - error: an error if channels is not 1 or 4
func ImageToStaging(img image.Image, channels int) (TextureStagingData, error) {
	if channels != 1 && channels != 4 {
		return TextureStagingData{}, fmt.Errorf("unsupported channel count %d", channels)
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	staging := TextureStagingData{
		Width:    uint32(b.Dx()),
		Height:   uint32(b.Dy()),
		Channels: channels,
	}
	if channels == 4 {
		staging.Pixels = rgba.Pix
		return staging, nil
	}

	staging.Pixels = make([]byte, b.Dx()*b.Dy())
	for i := range staging.Pixels {
		staging.Pixels[i] = rgba.Pix[i*4]
	}
	return staging, nil
}

// LoadImage decodes a PNG or JPEG image from raw bytes or, when data is empty, from path.
//
// Parameters:
//   - path: the file path used when data is empty
//   - data: encoded image bytes (optional)
//
// Returns:
//   - image.Image: the decoded image
//   - error: an error if neither source is available or decoding fails
func LoadImage(path string, data []byte) (image.Image, error) {
	if len(data) > 0 {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedded image: %w", err)
		}
		return img, nil
	}
	if path == "" {
		return nil, fmt.Errorf("image has neither data nor path")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image file %s: %w", path, err)
	}
	return img, nil
}
