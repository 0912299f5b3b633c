package crypto_util

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignHMAC256 计算报文体的 HMAC-SHA256 签名 (hex 编码)。
// 两个外部系统的回调都用共享密钥 + 报文体签名，header 里带 hex 值。
func SignHMAC256(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC256 校验回调签名。常量时间比较，防时序侧信道。
// 签名不合法的请求必须在进业务逻辑之前被拒绝。
func VerifyHMAC256(secret, body []byte, signature string) bool {
	expected := SignHMAC256(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// CalculateSHA256 计算输入的 SHA256 哈希值 (hex 编码)。
// 用于从 batch/payout ID 派生确定性的幂等键。
func CalculateSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
