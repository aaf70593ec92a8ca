// Package fingerprint maps resource identifiers to stable cache keys.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Size 是缓存键的固定长度（128 bit 摘要的十六进制表示）。
const Size = md5.Size * 2

// Of 计算 identifier 的缓存键：MD5 摘要的 32 位大写十六进制串，跨进程稳定。
// 不处理碰撞。
func Of(identifier string) string {
	sum := md5.Sum([]byte(identifier))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Valid 判断 key 是否为合法的缓存键，供持久层在拼接路径前校验。
func Valid(key string) bool {
	if len(key) != Size {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
