// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decode

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder turns a stream of encoded bytes into an RGBA8 image whose bounds
// start at the origin.
type Decoder interface {
	Decode(s Stream) (*image.RGBA, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(s Stream) (*image.RGBA, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(s Stream) (*image.RGBA, error) {
	return f(s)
}

// ImageDecoder decodes PNG, JPEG, GIF, BMP, TIFF and WebP.
type ImageDecoder struct{}

// Decode implements Decoder.
func (ImageDecoder) Decode(s Stream) (*image.RGBA, error) {
	src, format, err := image.Decode(s)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}
	return ToRGBA(src)
}

// ToRGBA returns img as an origin-based RGBA image with a tight stride,
// converting only when needed.
func ToRGBA(img image.Image) (*image.RGBA, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

var _ Decoder = ImageDecoder{}
