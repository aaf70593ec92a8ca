package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
)

// Encode 按 format（png/jpeg）写出图片，返回对应的 Content-Type。空 format 视为 png。
func Encode(w io.Writer, img image.Image, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return "image/png", png.Encode(w, img)
	case "jpeg", "jpg":
		return "image/jpeg", jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}
