package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// ContentType of every composite this package produces.
const ContentType = "image/png"

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

func EncodePNG(w io.Writer, img image.Image) error {
	if err := encoder.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

// DataURL returns img as a base64 PNG data URL.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return EncodeDataURL(buf.Bytes()), nil
}

// EncodeDataURL wraps already encoded PNG bytes in a data URL.
func EncodeDataURL(data []byte) string {
	return dataurl.New(data, ContentType).String()
}

// IsDataURL reports whether s looks like a data URL rather than raw bytes.
func IsDataURL(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// DecodeDataURL extracts the payload of an image data URL.
func DecodeDataURL(s string) ([]byte, error) {
	du, err := dataurl.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse data URL: %w", err)
	}
	if du.MediaType.Type != "image" {
		return nil, fmt.Errorf("data URL has media type %s, want image/*", du.MediaType.ContentType())
	}
	return du.Data, nil
}
