package imaging

import "math"

// Unconstrained 表示不限制像素预算，SampleFactor 恒为 1。
const Unconstrained = -1

// DefaultMaxPixels 是默认解码像素预算（600x800）。
const DefaultMaxPixels = 600 * 800

// SampleFactor 根据原图尺寸与像素预算计算降采样倍数，结果 >= 1。
// 初始值为 ceil(sqrt(w*h/maxPixels))；<= 8 时向上取到 2 的幂，否则向上取到 8 的倍数。
// 只会向上取整：取小了可能按原尺寸解码耗尽内存，取大了只损失画质。
func SampleFactor(width, height, maxPixels int) int {
	if maxPixels <= 0 || width <= 0 || height <= 0 {
		return 1
	}
	initial := int(math.Ceil(math.Sqrt(float64(width) * float64(height) / float64(maxPixels))))
	return roundSampleFactor(initial)
}

func roundSampleFactor(initial int) int {
	if initial <= 1 {
		return 1
	}
	if initial <= 8 {
		rounded := 1
		for rounded < initial {
			rounded <<= 1
		}
		return rounded
	}
	return (initial + 7) / 8 * 8
}
