package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// MaxLayers is the number of uploader slots.
const MaxLayers = 4

// DefaultMaxPixels bounds the decoded size of a single layer.
const DefaultMaxPixels = 64 << 20

var (
	ErrNoLayers       = errors.New("no layers to compose")
	ErrTooManyLayers  = fmt.Errorf("more than %d layers", MaxLayers)
	ErrUnknownFilter  = errors.New("unknown resampling filter")
	ErrLayerTooLarge  = errors.New("layer exceeds pixel limit")
	errEmptyComposite = errors.New("first layer has no pixels")
)

// Source is the raw encoded content of one uploader slot.
type Source struct {
	Slot int
	Data []byte
}

type Options struct {
	Filter    string
	MaxPixels int
}

type Result struct {
	Image  image.Image
	Width  int
	Height int
	Layers int
}

// DecodeError reports the slot whose content could not be decoded.
type DecodeError struct {
	Slot int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to load layer %d: %s", e.Slot, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Compose decodes every non-empty source concurrently and stacks them in
// slot order. A single failed decode fails the whole composition.
func Compose(ctx context.Context, sources []Source, opts Options) (*Result, error) {
	if len(sources) > MaxLayers {
		return nil, ErrTooManyLayers
	}

	filter, ok := Filter(opts.Filter)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, opts.Filter)
	}

	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	valid := make([]Source, 0, len(sources))
	for _, src := range sources {
		if len(src.Data) > 0 {
			valid = append(valid, src)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoLayers
	}

	decoded := make([]image.Image, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range valid {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := decode(src.Data, maxPixels)
			if err != nil {
				return &DecodeError{Slot: src.Slot, Err: err}
			}
			decoded[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := decoded[0].Bounds()
	if b.Empty() {
		return nil, &DecodeError{Slot: valid[0].Slot, Err: errEmptyComposite}
	}

	return &Result{
		Image:  Stack(decoded, filter),
		Width:  b.Dx(),
		Height: b.Dy(),
		Layers: len(decoded),
	}, nil
}

func decode(data []byte, maxPixels int) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrLayerTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
