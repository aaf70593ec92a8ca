package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxSourcePixels 是允许解码的原图像素上限，超过即视为内存不足。
const DefaultMaxSourcePixels int64 = 50_000_000

// ErrUndecodable 表示数据无法解码为图片：格式非法、原图过大或解码器崩溃。
var ErrUndecodable = errors.New("image data cannot be decoded")

// Decoder 在解码时应用像素预算。零值等价于不限制预算、不限制原图尺寸。
type Decoder struct {
	// MaxPixels 是解码结果的像素预算，<= 0 表示不限制。
	MaxPixels int
	// MaxSourcePixels 限制原图像素数，<= 0 表示不限制。Go 无法捕获 OOM，
	// 这里提前拒绝会撑爆内存的图片。
	MaxSourcePixels int64
}

// NewDecoder 返回使用默认预算的 Decoder。
func NewDecoder() Decoder {
	return Decoder{MaxPixels: DefaultMaxPixels, MaxSourcePixels: DefaultMaxSourcePixels}
}

// Decode 先只读取尺寸，计算采样倍数后再完整解码并降采样。
// 任何无法解码的情况都返回 ErrUndecodable。
func (d Decoder) Decode(data []byte) (img image.Image, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: decoder panic: %v", ErrUndecodable, r)
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if d.MaxSourcePixels > 0 && int64(cfg.Width)*int64(cfg.Height) > d.MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds source pixel limit", ErrUndecodable, cfg.Width, cfg.Height)
	}

	factor := SampleFactor(cfg.Width, cfg.Height, d.MaxPixels)

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if factor == 1 {
		return src, nil
	}
	return Subsample(src, factor), nil
}

// Subsample 将 src 按 factor 缩小，每边至少保留 1 像素。
func Subsample(src image.Image, factor int) image.Image {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	w := max(b.Dx()/factor, 1)
	h := max(b.Dy()/factor, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
