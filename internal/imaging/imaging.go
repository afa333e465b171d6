// Package imaging decodes uploaded crop photos and turns them into classifier input tensors.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/cropscan/cropscan/internal/errors"
)

// DefaultSize is the square input edge of the bundled classifier.
const DefaultSize = 224

// MaxPixels bounds decoded image area to keep oversized uploads from exhausting memory.
const MaxPixels = 50_000_000

// Layout is the memory order of a tensor.
type Layout string

const (
	LayoutNHWC Layout = "NHWC"
	LayoutNCHW Layout = "NCHW"
)

// Tensor is a batch-of-one float32 image scaled to [0,1].
type Tensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
	Layout   Layout
}

// Shape returns the tensor dimensions including the batch axis.
func (t *Tensor) Shape() []int64 {
	if t.Layout == LayoutNCHW {
		return []int64{1, int64(t.Channels), int64(t.Height), int64(t.Width)}
	}
	return []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// Preprocessor resizes images to a fixed square and scales them to [0,1].
type Preprocessor struct {
	size   int
	layout Layout
	interp resize.InterpolationFunction
}

// NewPreprocessor returns a preprocessor for size×size RGB input in the given layout.
func NewPreprocessor(size int, layout Layout) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	if layout != LayoutNCHW {
		layout = LayoutNHWC
	}
	return &Preprocessor{size: size, layout: layout, interp: resize.Bicubic}
}

// Size returns the square edge length of produced tensors.
func (p *Preprocessor) Size() int {
	return p.size
}

// Layout returns the memory order of produced tensors.
func (p *Preprocessor) Layout() Layout {
	return p.layout
}

// Preprocess decodes data and returns a [1,size,size,3] tensor. Aspect ratio is not preserved.
func (p *Preprocessor) Preprocess(data []byte) (*Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(p.size), uint(p.size), img, p.interp)
	return toTensor(resized, p.layout), nil
}

func toTensor(img image.Image, layout Layout) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := range h {
		for x := range w {
			c, _ := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			bl := float32(c.B) / 255.0

			if layout == LayoutNCHW {
				i := y*w + x
				out[i] = r
				out[plane+i] = g
				out[2*plane+i] = bl
				continue
			}
			i := (y*w + x) * 3
			out[i] = r
			out[i+1] = g
			out[i+2] = bl
		}
	}

	return &Tensor{Data: out, Height: h, Width: w, Channels: 3, Layout: layout}
}

// Decode decodes JPEG, PNG, GIF, BMP or WEBP bytes. Any failure, including a decoder
// panic on malformed input, is returned as an invalid-image error.
func Decode(data []byte) (img image.Image, format string, err error) {
	if len(data) == 0 {
		return nil, "", invalidImage(errors.NewStd("empty image"), 0, "")
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = invalidImage(fmt.Errorf("decoder panic: %v", r), len(data), format)
		}
	}()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", invalidImage(fmt.Errorf("decode image header: %w", err), len(data), "")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, format, invalidImage(fmt.Errorf("image dimensions %dx%d not accepted", cfg.Width, cfg.Height), len(data), format)
	}

	img, format, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, invalidImage(fmt.Errorf("decode image: %w", err), len(data), format)
	}
	return img, format, nil
}

// Thumbnail decodes data and scales it to exactly w×h.
func Thumbnail(data []byte, w, h int) (image.Image, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return resize.Resize(uint(w), uint(h), img, resize.Bilinear), nil
}

func invalidImage(err error, size int, format string) error {
	return errors.New(err).
		Component("imaging").
		Category(errors.CategoryInvalidImage).
		ImageContext(size, format).
		Build()
}
