package server

import (
	"fmt"
	goimage "image"
	"image/color"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/disintegration/imaging"

	"github.com/Carbon-X-DAO/LayerStack/image"
)

const (
	qrSize   = 180
	qrMargin = 10
)

// generateQRCode renders content as a QR code on a white badge with a quiet
// zone around it.
func generateQRCode(content string) (goimage.Image, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q as QR code: %w", content, err)
	}

	// Scale the barcode to the appropriate size
	code, err = barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scale QR code: %w", err)
	}

	badge := imaging.New(qrSize+2*qrMargin, qrSize+2*qrMargin, color.White)
	return image.Layer(badge, code, qrMargin, -qrMargin), nil
}
