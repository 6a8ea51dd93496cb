// Package qrimage renders ticket payloads as PNG QR codes.
package qrimage

import (
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image width and height in pixels.
const DefaultSize = 256

// Ticket brand colours.
var (
	Dark  = color.RGBA{R: 0x0F, G: 0x4C, B: 0x75, A: 0xFF}
	Light = color.White
)

// Renderer encodes text into PNG images with medium error correction.
type Renderer struct {
	Size int
}

// NewRenderer returns a Renderer producing size×size images.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{Size: size}
}

// PNG encodes payload verbatim; scanning the image yields the same text.
func (r *Renderer) PNG(payload string) ([]byte, error) {
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	q.ForegroundColor = Dark
	q.BackgroundColor = Light
	png, err := q.PNG(r.Size)
	if err != nil {
		return nil, fmt.Errorf("render qr png: %w", err)
	}
	return png, nil
}
