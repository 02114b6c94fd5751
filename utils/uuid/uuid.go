package uuid

import (
	"crypto/rand"
	"encoding/hex"
)

// GenUUID16 生成16位十六进制随机id，用作请求追踪
func GenUUID16() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(buf)
}
