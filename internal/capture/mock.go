package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// MockDevice renders a synthetic test pattern. It stands in where no
// platform capture backend is available.
type MockDevice struct {
	Width, Height int
	// Delay simulates exposure time.
	Delay time.Duration
}

func NewMockDevice() *MockDevice {
	return &MockDevice{Width: 640, Height: 480}
}

func (d *MockDevice) Info() Info {
	return Info{ID: "mock", Name: "Mock Camera", Type: "mock"}
}

func (d *MockDevice) Capture(ctx context.Context, quality int) (Frame, error) {
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(d.Width-1, 1)),
				G: uint8(y * 255 / max(d.Height-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, err
	}
	return Frame{Data: buf.Bytes(), ContentType: "image/jpeg", Width: d.Width, Height: d.Height}, nil
}
