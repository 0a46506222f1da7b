// Package imaging provides the default resize capability injected into the
// fetcher. It decodes png/jpeg/gif payloads, scales them down into a bounding
// box with golang.org/x/image/draw and re-encodes them.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	jpegQuality = 85
	// DefaultMaxPixels 是解码前允许的最大像素数（宽×高）。
	DefaultMaxPixels = 50_000_000
)

// ErrTooManyPixels 表示图片头部声明的尺寸超过 MaxPixels，未进行解码。
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// Resizer 把图片缩放到不超过 width×height 的尺寸，保持原始宽高比。
type Resizer struct {
	Interpolator draw.Interpolator
	// MaxPixels 限制可解码的像素数，<=0 时使用 DefaultMaxPixels。
	MaxPixels int64
}

// New 返回使用 CatmullRom 插值的 Resizer。
func New() *Resizer {
	return &Resizer{Interpolator: draw.CatmullRom, MaxPixels: DefaultMaxPixels}
}

// Resize 在需要时缩小图片；width/height 均 <=0 或图片已足够小时原样返回。
func (r *Resizer) Resize(data []byte, width, height int) ([]byte, error) {
	if width <= 0 && height <= 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if err := r.checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := fitBox(bounds.Dx(), bounds.Dy(), width, height)
	if w >= bounds.Dx() && h >= bounds.Dy() {
		return data, nil
	}

	interp := r.Interpolator
	if interp == nil {
		interp = draw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	interp.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// checkPixels 在完整解码前拒绝声明尺寸过大的图片，压缩后很小的文件也可能解码出巨大位图。
func (r *Resizer) checkPixels(width, height int) error {
	limit := r.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if width <= 0 || height <= 0 {
		return nil
	}
	if int64(width) > limit/int64(height) {
		return fmt.Errorf("%w: %dx%d", ErrTooManyPixels, width, height)
	}
	return nil
}

// fitBox 计算等比缩放到 maxW×maxH 内的尺寸，任一边 <=0 表示该边不限制，结果不会放大。
func fitBox(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	scale := 1.0
	if maxW > 0 && srcW > maxW {
		scale = float64(maxW) / float64(srcW)
	}
	if maxH > 0 && srcH > maxH {
		if s := float64(maxH) / float64(srcH); s < scale {
			scale = s
		}
	}
	if scale >= 1 {
		return srcW, srcH
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
