package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ThumbnailEdge 是 thumbnail 滤镜的最长边。
const ThumbnailEdge = 256

func init() {
	MustRegisterFilter("grayscale", Grayscale)
	MustRegisterFilter("thumbnail", Thumbnail)
}

// Grayscale 将图片转换为 8 位灰度。
func Grayscale(src image.Image) (image.Image, error) {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst, nil
}

// Thumbnail 等比缩放到最长边不超过 ThumbnailEdge，小图原样返回。
func Thumbnail(src image.Image) (image.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= ThumbnailEdge && h <= ThumbnailEdge {
		return src, nil
	}
	if w >= h {
		h = max(h*ThumbnailEdge/w, 1)
		w = ThumbnailEdge
	} else {
		w = max(w*ThumbnailEdge/h, 1)
		h = ThumbnailEdge
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}
