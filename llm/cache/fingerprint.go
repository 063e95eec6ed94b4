package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint 返回内容的 SHA-256 十六进制摘要
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CombineContent 拼接固定指令与可变负载，作为指纹与计数的输入
func CombineContent(instructions, payload string) string {
	return instructions + "\n\n" + payload
}
